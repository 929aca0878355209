package webchat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/go-go-golems/sardonic/pkg/auth"
	"github.com/go-go-golems/sardonic/pkg/inference/generator"
	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 64 << 10
)

// ChatGenerator is what the handlers need from the generator.
type ChatGenerator interface {
	TurnGenerator
	Generate(ctx context.Context, in generator.Input, onProgress func(step string)) generator.Result
}

// Router owns the dependencies shared by the websocket and request/response handlers.
type Router struct {
	authn        *auth.Authenticator
	store        chatstore.ConversationStore
	logs         chatstore.AILogStore
	gen          ChatGenerator
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	queueSize    int
	readLimit    int64

	// sessions run on sessCtx; Shutdown cancels it and waits for their turns to end
	sessCtx    context.Context
	sessCancel context.CancelFunc
	sessMu     sync.Mutex
	draining   bool
	sessions   sync.WaitGroup
}

// NewRouter validates dependencies. ctx bounds the sessions started by the websocket
// handler; Shutdown ends them earlier.
func NewRouter(ctx context.Context, authn *auth.Authenticator, store chatstore.ConversationStore, gen ChatGenerator, opts ...RouterOption) (*Router, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	if authn == nil {
		return nil, errors.New("authenticator is nil")
	}
	if store == nil {
		return nil, errors.New("conversation store is nil")
	}
	if gen == nil {
		return nil, errors.New("generator is nil")
	}
	r := &Router{
		authn:        authn,
		store:        store,
		gen:          gen,
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		writeTimeout: defaultWriteTimeout,
		queueSize:    DefaultQueueSize,
		readLimit:    defaultReadLimit,
	}
	r.sessCtx, r.sessCancel = context.WithCancel(ctx)
	if ls, ok := store.(chatstore.AILogStore); ok {
		r.logs = ls
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// trackSession registers a session goroutine; it fails once Shutdown has started.
func (r *Router) trackSession() bool {
	r.sessMu.Lock()
	defer r.sessMu.Unlock()
	if r.draining {
		return false
	}
	r.sessions.Add(1)
	return true
}

// Shutdown stops every open session and waits until their in-flight turns have been
// persisted, or until ctx is done. New connections are refused afterwards.
func (r *Router) Shutdown(ctx context.Context) error {
	r.sessMu.Lock()
	r.draining = true
	r.sessMu.Unlock()
	r.sessCancel()

	done := make(chan struct{})
	go func() {
		r.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for chat sessions")
	}
}

// Handler mounts every route.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	ws := r.WSHandler()
	mux.Handle("/ws/chat", ws)
	mux.Handle("/ws/chat/", ws)
	mux.Handle("/api/", r.APIHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	return mux
}
