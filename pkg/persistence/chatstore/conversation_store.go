package chatstore

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by writes that target a conversation which does not exist.
// Owner-scoped reads never return it; they report absence with ok=false instead.
var ErrNotFound = errors.New("conversation not found")

// DefaultConversationTitle is the title of a conversation that has not received
// its first user message yet.
const DefaultConversationTitle = "New Conversation"

// TitleMaxRunes bounds automatically derived conversation titles.
const TitleMaxRunes = 30

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is the durable, owned container of messages.
type Conversation struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	CreatedAtMs int64  `json:"created_at_ms"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
	IsActive    bool   `json:"is_active"`
}

// Message is immutable once appended.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
	CreatedAtMs    int64  `json:"created_at_ms"`
}

// ConversationSummary is a listing row: the conversation plus its latest message preview.
type ConversationSummary struct {
	Conversation
	Preview      string `json:"preview"`
	MessageCount int    `json:"message_count"`
}

// AppendResult reports the appended message and whether the conversation was empty
// before it. Title is set only when this append gave the conversation its title.
type AppendResult struct {
	Message      Message
	FirstMessage bool
	Title        string
}

// ConversationStore is the durable record of conversations and their ordered messages.
//
// Reads that take an ownerID are a security boundary: a conversation owned by somebody
// else is reported exactly like a missing one.
type ConversationStore interface {
	// FindReusable returns the owner's most recently updated active conversation if it
	// has zero messages.
	FindReusable(ctx context.Context, ownerID string) (Conversation, bool, error)
	Create(ctx context.Context, ownerID string, title string) (Conversation, error)
	Get(ctx context.Context, convID string, ownerID string) (Conversation, bool, error)
	// AppendMessage appends a message and bumps the conversation's updated_at. The
	// first-message title rule is evaluated before the insert, in the same transaction,
	// and applies at most once per conversation.
	AppendMessage(ctx context.Context, convID string, role Role, content string) (AppendResult, error)
	RenameIfFirstMessage(ctx context.Context, convID string, proposedTitle string) (bool, error)
	ClearMessages(ctx context.Context, convID string) (int, error)
	CountMessages(ctx context.Context, convID string) (int, error)
	ListMessages(ctx context.Context, convID string) ([]Message, error)
	ListConversations(ctx context.Context, ownerID string, limit int) ([]ConversationSummary, error)
	Close() error
}

// DeriveTitle applies the automatic title rule to the first user message.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= TitleMaxRunes {
		return content
	}
	return string([]rune(content)[:TitleMaxRunes]) + "..."
}

const previewMaxRunes = 50

func previewOf(content string) string {
	if utf8.RuneCountInString(content) <= previewMaxRunes {
		return content
	}
	return string([]rune(content)[:previewMaxRunes]) + "..."
}

func validateAppend(convID string, role Role, content string) error {
	if strings.TrimSpace(convID) == "" {
		return errors.New("convID is empty")
	}
	if !role.Valid() {
		return errors.Errorf("invalid role %q", role)
	}
	if content == "" {
		return errors.New("content is empty")
	}
	return nil
}
