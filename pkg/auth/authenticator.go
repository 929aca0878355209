package auth

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

// AccountLookup is the subset of chatstore.AccountStore the authenticator needs.
type AccountLookup interface {
	GetAccount(ctx context.Context, id string) (chatstore.Account, bool, error)
}

// Authenticator resolves handshake metadata to an identity. It never fails: any problem
// with a presented credential yields an Anonymous result carrying the cause.
type Authenticator struct {
	validator   TokenValidator
	accounts    AccountLookup
	cookieName  string
	allowBearer bool
}

type Option func(*Authenticator)

func WithCookieName(name string) Option {
	return func(a *Authenticator) {
		if name != "" {
			a.cookieName = name
		}
	}
}

// WithBearerHeader switches to the request/response credential order: bearer header,
// then cookie, never the query string.
func WithBearerHeader(enabled bool) Option {
	return func(a *Authenticator) { a.allowBearer = enabled }
}

func NewAuthenticator(validator TokenValidator, accounts AccountLookup, opts ...Option) (*Authenticator, error) {
	if validator == nil {
		return nil, errors.New("authenticator: validator is nil")
	}
	if accounts == nil {
		return nil, errors.New("authenticator: account lookup is nil")
	}
	a := &Authenticator{validator: validator, accounts: accounts, cookieName: DefaultCookieName}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// WithBearer returns a copy of the authenticator with the bearer credential order toggled.
func (a *Authenticator) WithBearer(enabled bool) *Authenticator {
	if a == nil {
		return nil
	}
	cp := *a
	cp.allowBearer = enabled
	return &cp
}

func (a *Authenticator) Authenticate(ctx context.Context, hs Handshake) Result {
	if a == nil {
		return Result{Identity: AnonymousIdentity(), Err: ErrNoCredential}
	}
	cand, ok := candidateToken(hs, a.cookieName, a.allowBearer)
	if !ok {
		return Result{Identity: AnonymousIdentity(), Err: ErrNoCredential}
	}
	id, err := a.resolve(ctx, cand.token)
	if err != nil {
		log.Debug().
			Str("component", "auth").
			Str("source", string(cand.source)).
			Err(err).
			Msg("credential rejected, continuing as anonymous")
		return Result{Identity: AnonymousIdentity(), Source: cand.source, Err: err}
	}
	return Result{Identity: id, Source: cand.source}
}

func (a *Authenticator) resolve(ctx context.Context, token string) (Identity, error) {
	subject, err := a.validator.Subject(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	acct, ok, err := a.accounts.GetAccount(ctx, subject)
	if err != nil {
		log.Warn().Str("component", "auth").Str("user_id", subject).Err(err).Msg("account lookup failed")
		return Identity{}, errors.Wrap(ErrUnknownAccount, err.Error())
	}
	if !ok {
		return Identity{}, errors.Wrapf(ErrUnknownAccount, "subject %q", subject)
	}
	if !acct.IsActive {
		return Identity{}, errors.Wrapf(ErrInactiveAccount, "subject %q", subject)
	}
	return Identity{Kind: Authenticated, UserID: acct.ID, Username: acct.Username}, nil
}
