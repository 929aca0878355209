// Package provider is the boundary to the remote chat-completion model. Adapters are
// immutable and take the model as a per-call parameter, so one instance is shared by
// every session.
package provider

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model    string
	Messages []Message
}

type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	// HasUsage is false when the provider reported no token accounting.
	HasUsage bool
}

// Provider performs one chat completion.
type Provider interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context, req Request) (Completion, error)

func (f Func) Complete(ctx context.Context, req Request) (Completion, error) {
	return f(ctx, req)
}

// ErrProvider matches every *Error via errors.Is.
var ErrProvider = errors.New("provider error")

// Error wraps transport, quota, auth and timeout failures of the remote model.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("provider %s failed", e.Op)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool { return target == ErrProvider }

func newError(op string, cause error) error {
	return &Error{Op: op, Cause: cause}
}

// Unavailable returns a provider that always fails, used when no API key is configured.
func Unavailable(reason string) Provider {
	return Func(func(context.Context, Request) (Completion, error) {
		return Completion{}, newError("complete", errors.New(reason))
	})
}
