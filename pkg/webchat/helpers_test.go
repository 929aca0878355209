package webchat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/sardonic/pkg/auth"
	"github.com/go-go-golems/sardonic/pkg/inference/generator"
	"github.com/go-go-golems/sardonic/pkg/inference/provider"
	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

const testSecret = "webchat-test-secret"

type recordingSender struct {
	mu     sync.Mutex
	events []map[string]any
	fail   error
}

func (r *recordingSender) Send(ev map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSender) snapshot() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.events...)
}

func (r *recordingSender) types() []string {
	evs := r.snapshot()
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev["type"].(string))
	}
	return out
}

func (r *recordingSender) waitForType(t *testing.T, typ string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		count := 0
		for _, tt := range r.types() {
			if tt == typ {
				count++
			}
		}
		return count >= n
	}, 3*time.Second, 5*time.Millisecond)
}

func firstSteps(steps []string, n int) []string {
	if n > len(steps) {
		n = len(steps)
	}
	return append([]string(nil), steps[:n]...)
}

func replyProvider(reply string) provider.Provider {
	return provider.Func(func(_ context.Context, req provider.Request) (provider.Completion, error) {
		return provider.Completion{Content: reply + " (re: " + req.Messages[len(req.Messages)-1].Content + ")", TotalTokens: 3, HasUsage: true}, nil
	})
}

func failingProvider() provider.Provider {
	return provider.Func(func(context.Context, provider.Request) (provider.Completion, error) {
		return provider.Completion{}, &provider.Error{Op: "complete", Cause: errors.New("network down")}
	})
}

// newTestGenerator emits exactly two deterministic progress steps per turn.
func newTestGenerator(t *testing.T, p provider.Provider) *generator.Generator {
	t.Helper()
	g, err := generator.New(generator.Config{
		Provider:      p,
		Model:         "test-model",
		MaxProgress:   2,
		ProgressDelay: 0,
		Pick:          firstSteps,
	})
	require.NoError(t, err)
	return g
}

// countingStore records writes so tests can assert nothing was persisted.
type countingStore struct {
	chatstore.ConversationStore
	mu      sync.Mutex
	creates int
	appends int
}

func (c *countingStore) Create(ctx context.Context, ownerID, title string) (chatstore.Conversation, error) {
	c.mu.Lock()
	c.creates++
	c.mu.Unlock()
	return c.ConversationStore.Create(ctx, ownerID, title)
}

func (c *countingStore) AppendMessage(ctx context.Context, convID string, role chatstore.Role, content string) (chatstore.AppendResult, error) {
	c.mu.Lock()
	c.appends++
	c.mu.Unlock()
	return c.ConversationStore.AppendMessage(ctx, convID, role, content)
}

func (c *countingStore) writes() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creates, c.appends
}

func userIdentity(id string) auth.Identity {
	return auth.Identity{Kind: auth.Authenticated, UserID: id, Username: id}
}

// flakyUserAppendStore fails the first user message append and passes everything else through.
type flakyUserAppendStore struct {
	chatstore.ConversationStore
	mu     sync.Mutex
	failed bool
}

func (f *flakyUserAppendStore) AppendMessage(ctx context.Context, convID string, role chatstore.Role, content string) (chatstore.AppendResult, error) {
	f.mu.Lock()
	fail := role == chatstore.RoleUser && !f.failed
	if fail {
		f.failed = true
	}
	f.mu.Unlock()
	if fail {
		return chatstore.AppendResult{}, errors.New("database is locked")
	}
	return f.ConversationStore.AppendMessage(ctx, convID, role, content)
}
