package chatstore

import "context"

// Account is the principal a credential's subject resolves to.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	IsActive    bool   `json:"is_active"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// AccountStore resolves credential subjects to accounts.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (Account, bool, error)
	CreateAccount(ctx context.Context, username string) (Account, error)
	SetAccountActive(ctx context.Context, id string, active bool) error
}
