package webchat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sardonic/pkg/auth"
	"github.com/go-go-golems/sardonic/pkg/inference/generator"
	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateProcessing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TurnGenerator produces the assistant reply for one user message.
type TurnGenerator interface {
	Stream(ctx context.Context, in generator.Input) *generator.Turn
	Persona() generator.Persona
}

type SessionConfig struct {
	Identity  auth.Identity
	ResumeID  string
	Store     chatstore.ConversationStore
	Generator TurnGenerator
	Out       Sender
	QueueSize int
	Logger    *zerolog.Logger
}

// Session is the protocol state of one connection. Turns run one at a time on the
// goroutine calling Run; the read loop only enqueues.
type Session struct {
	id        string
	identity  auth.Identity
	resumeID  string
	store     chatstore.ConversationStore
	gen       TurnGenerator
	out       Sender
	queueSize int
	log       zerolog.Logger

	state atomic.Int32

	// owned by the Run goroutine
	convID    string
	announced bool

	mu     sync.Mutex
	queue  []queuedTurn
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is nil")
	}
	if cfg.Generator == nil {
		return nil, errors.New("session: generator is nil")
	}
	if cfg.Out == nil {
		return nil, errors.New("session: sender is nil")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	s := &Session{
		id:        uuid.NewString(),
		identity:  cfg.Identity,
		resumeID:  normalizeResumeID(cfg.ResumeID),
		store:     cfg.Store,
		gen:       cfg.Generator,
		out:       cfg.Out,
		queueSize: cfg.QueueSize,
		wake:      make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
	base := log.Logger
	if cfg.Logger != nil {
		base = *cfg.Logger
	}
	s.log = base.With().
		Str("component", "webchat").
		Str("session_id", s.id).
		Str("user_id", cfg.Identity.UserID).
		Logger()
	s.state.Store(int32(StateConnecting))
	return s, nil
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Identity() auth.Identity { return s.identity }
func (s *Session) State() SessionState     { return SessionState(s.state.Load()) }

// ConversationID is the resolved working conversation; only safe to read from the Run
// goroutine or after Run returned.
func (s *Session) ConversationID() string { return s.convID }

// Open sends the connected notice and enters Open. A send failure is a setup failure.
func (s *Session) Open() error {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return errors.Errorf("session: open from state %s", s.State())
	}
	if s.resumeID != "" && s.identity.IsAnonymous() {
		s.log.Debug().Str("resume_id", s.resumeID).Msg("anonymous session cannot resume a conversation, ignoring id")
		s.resumeID = ""
	}
	if err := s.out.Send(systemEvent(s.gen.Persona().ConnectedNotice)); err != nil {
		s.Close()
		return errors.Wrap(err, "send connected notice")
	}
	s.log.Info().Str("identity", s.identity.Kind.String()).Msg("session open")
	return nil
}

// Enqueue accepts a user message for processing. Empty messages are ignored; when the
// queue is full or the session is closed the message is dropped and false is returned.
func (s *Session) Enqueue(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if s.State() == StateClosed {
		return false
	}
	s.mu.Lock()
	n := s.enqueueLocked(queuedTurn{Text: text, EnqueuedAt: time.Now()})
	s.mu.Unlock()
	if n < 0 {
		s.log.Warn().Int("queue_size", s.queueSize).Msg("turn queue full, dropping message")
		return false
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Run processes queued turns until the session is closed or ctx is done. Turns already
// started finish; their events are suppressed once the session is closed.
func (s *Session) Run(ctx context.Context) {
	defer s.log.Debug().Msg("session run loop end")
	for {
		s.mu.Lock()
		q, ok := s.dequeueLocked()
		s.mu.Unlock()
		if ok {
			if s.State() == StateClosed {
				return
			}
			s.HandleTurn(ctx, q.Text)
			continue
		}
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-s.closed:
			return
		case <-s.wake:
		}
	}
}

// HandleTurn runs one user message through resolve, persist, generate, persist, reply.
func (s *Session) HandleTurn(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if !s.state.CompareAndSwap(int32(StateOpen), int32(StateProcessing)) {
		s.log.Debug().Str("state", s.State().String()).Msg("turn outside open state ignored")
		return
	}
	defer s.state.CompareAndSwap(int32(StateProcessing), int32(StateOpen))

	// store writes and the model call outlive a disconnect
	workCtx := context.WithoutCancel(ctx)

	s.resolveConversation(workCtx)

	// the reply is only stored after its user message so history keeps alternating
	userSaved := false
	if s.convID != "" {
		res, err := s.store.AppendMessage(workCtx, s.convID, chatstore.RoleUser, text)
		if err != nil {
			s.log.Error().Err(err).Str("conv_id", s.convID).Msg("failed to persist user message, turn will not be persisted")
		} else {
			userSaved = true
			if res.FirstMessage && res.Title != "" {
				s.log.Debug().Str("conv_id", s.convID).Str("title", res.Title).Msg("conversation titled from first message")
			}
		}
	}

	s.emit(thinkingEvent(s.gen.Persona().OpeningStep))
	turn := s.gen.Stream(workCtx, generator.Input{UserMessage: text, OwnerID: s.identity.UserID})
	for step := range turn.Progress() {
		s.emit(thinkingEvent(step))
	}
	res := turn.Wait()
	if res.Kind == generator.KindDegraded {
		s.log.Warn().Err(res.Err).Str("conv_id", s.convID).Msg("turn answered in degraded mode")
	}

	if userSaved {
		if _, err := s.store.AppendMessage(workCtx, s.convID, chatstore.RoleAssistant, res.Text); err != nil {
			s.log.Error().Err(err).Str("conv_id", s.convID).Msg("failed to persist assistant message")
		}
	}

	s.emit(messageEvent(res.Text, s.convID))
}

// resolveConversation binds the session to a conversation once. Anonymous sessions
// never get one.
func (s *Session) resolveConversation(ctx context.Context) {
	if s.convID != "" || s.identity.IsAnonymous() {
		return
	}
	owner := s.identity.UserID
	if s.resumeID != "" {
		conv, ok, err := s.store.Get(ctx, s.resumeID, owner)
		switch {
		case err != nil:
			s.log.Error().Err(err).Str("resume_id", s.resumeID).Msg("resume lookup failed")
		case !ok:
			s.log.Debug().Str("resume_id", s.resumeID).Msg("resume id not found for owner, starting fresh")
		default:
			s.convID = conv.ID
		}
		s.resumeID = ""
	}
	if s.convID == "" {
		conv, err := s.store.Create(ctx, owner, chatstore.DefaultConversationTitle)
		if err != nil {
			s.log.Error().Err(err).Msg("failed to create conversation, turn will not be persisted")
			return
		}
		s.convID = conv.ID
	}
	if !s.announced {
		s.announced = true
		s.emit(conversationStartedEvent(s.convID))
	}
}

// emit sends unless the session is closed. A failed send closes the session.
func (s *Session) emit(ev map[string]any) {
	if s.State() == StateClosed {
		return
	}
	if err := s.out.Send(ev); err != nil {
		s.log.Debug().Err(err).Msg("peer gone, closing session")
		s.Close()
	}
}

// Close moves the session to Closed. Safe to call more than once and from any goroutine.
func (s *Session) Close() {
	s.once.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.closed)
		s.mu.Lock()
		dropped := len(s.queue)
		s.queue = nil
		s.mu.Unlock()
		s.log.Info().Int("dropped_turns", dropped).Msg("session closed")
	})
}

func normalizeResumeID(v string) string {
	v = strings.TrimSpace(v)
	if v == "null" || v == "undefined" {
		return ""
	}
	return v
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.closed }
