package chatstore

import "context"

// ContextMessage is one entry of the message list sent to the model.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AILogRecord is the audit trail of one successful model call. It is written
// independently of conversation persistence and is never shown as chat history.
type AILogRecord struct {
	ID string `json:"id"`
	// OwnerID is the authenticated caller the call was made for; empty for anonymous.
	OwnerID     string           `json:"owner_id,omitempty"`
	InputText   string           `json:"input_text"`
	Context     []ContextMessage `json:"context"`
	OutputText  string           `json:"output_text"`
	ModelName   string           `json:"model_name"`
	TokensUsed  *int             `json:"tokens_used,omitempty"`
	CreatedAtMs int64            `json:"created_at_ms"`
}

// AILogStore persists audit records, newest first on read. ListAILogs returns only the
// records of ownerID, or every record when ownerID is empty.
type AILogStore interface {
	SaveAILog(ctx context.Context, rec AILogRecord) error
	ListAILogs(ctx context.Context, ownerID string, limit int) ([]AILogRecord, error)
}
