package chatstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryStore mirrors the ordering and title semantics of SQLiteStore. It is used by
// tests and by `serve --db ""` style ephemeral runs.
type InMemoryStore struct {
	mu       sync.Mutex
	opts     storeOptions
	seq      int64
	convs    map[string]*inMemConversation
	accounts map[string]Account
	logs     []AILogRecord
}

type inMemConversation struct {
	conv     Conversation
	created  int64
	titled   bool
	messages []Message
}

var (
	_ ConversationStore = &InMemoryStore{}
	_ AccountStore      = &InMemoryStore{}
	_ AILogStore        = &InMemoryStore{}
)

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	return &InMemoryStore{
		opts:     buildOptions(opts),
		convs:    map[string]*inMemConversation{},
		accounts: map[string]Account{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

// ownedLocked returns the owner's active conversations, most recently updated first.
func (s *InMemoryStore) ownedLocked(ownerID string) []*inMemConversation {
	out := make([]*inMemConversation, 0, 8)
	for _, c := range s.convs {
		if c.conv.OwnerID == ownerID && c.conv.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].conv.UpdatedAtMs != out[j].conv.UpdatedAtMs {
			return out[i].conv.UpdatedAtMs > out[j].conv.UpdatedAtMs
		}
		return out[i].created > out[j].created
	})
	return out
}

func (s *InMemoryStore) FindReusable(_ context.Context, ownerID string) (Conversation, bool, error) {
	if s == nil {
		return Conversation{}, false, errors.New("in-memory chat store: nil store")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Conversation{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := s.ownedLocked(ownerID)
	if len(owned) == 0 || len(owned[0].messages) != 0 {
		return Conversation{}, false, nil
	}
	return owned[0].conv, true, nil
}

func (s *InMemoryStore) Create(_ context.Context, ownerID string, title string) (Conversation, error) {
	if s == nil {
		return Conversation{}, errors.New("in-memory chat store: nil store")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Conversation{}, errors.New("in-memory chat store: ownerID is empty")
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultConversationTitle
	}
	now := s.opts.nowMs()
	c := Conversation{
		ID:          s.opts.newID(),
		OwnerID:     ownerID,
		Title:       title,
		CreatedAtMs: now,
		UpdatedAtMs: now,
		IsActive:    true,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.convs[c.ID] = &inMemConversation{conv: c, created: s.seq}
	return c, nil
}

func (s *InMemoryStore) Get(_ context.Context, convID string, ownerID string) (Conversation, bool, error) {
	if s == nil {
		return Conversation{}, false, errors.New("in-memory chat store: nil store")
	}
	convID = strings.TrimSpace(convID)
	ownerID = strings.TrimSpace(ownerID)
	if convID == "" || ownerID == "" {
		return Conversation{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok || c.conv.OwnerID != ownerID || !c.conv.IsActive {
		return Conversation{}, false, nil
	}
	return c.conv, true, nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, convID string, role Role, content string) (AppendResult, error) {
	if s == nil {
		return AppendResult{}, errors.New("in-memory chat store: nil store")
	}
	if err := validateAppend(convID, role, content); err != nil {
		return AppendResult{}, errors.Wrap(err, "in-memory chat store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return AppendResult{}, ErrNotFound
	}
	res := AppendResult{FirstMessage: len(c.messages) == 0}
	if res.FirstMessage && role == RoleUser && !c.titled {
		res.Title = DeriveTitle(content)
		c.conv.Title = res.Title
		c.titled = true
	}
	now := s.opts.nowMs()
	res.Message = Message{
		ID:             s.opts.newID(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAtMs:    now,
	}
	c.messages = append(c.messages, res.Message)
	if now > c.conv.UpdatedAtMs {
		c.conv.UpdatedAtMs = now
	}
	return res, nil
}

func (s *InMemoryStore) RenameIfFirstMessage(_ context.Context, convID string, proposedTitle string) (bool, error) {
	if s == nil {
		return false, errors.New("in-memory chat store: nil store")
	}
	if strings.TrimSpace(proposedTitle) == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return false, ErrNotFound
	}
	if len(c.messages) != 0 || c.titled {
		return false, nil
	}
	c.conv.Title = DeriveTitle(proposedTitle)
	c.titled = true
	return true, nil
}

func (s *InMemoryStore) ClearMessages(_ context.Context, convID string) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return 0, ErrNotFound
	}
	n := len(c.messages)
	c.messages = nil
	return n, nil
}

func (s *InMemoryStore) CountMessages(_ context.Context, convID string) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return 0, nil
	}
	return len(c.messages), nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, convID string) ([]Message, error) {
	if s == nil {
		return nil, errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return []Message{}, nil
	}
	return append([]Message(nil), c.messages...), nil
}

func (s *InMemoryStore) ListConversations(_ context.Context, ownerID string, limit int) ([]ConversationSummary, error) {
	if s == nil {
		return nil, errors.New("in-memory chat store: nil store")
	}
	if limit <= 0 {
		limit = 200
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := s.ownedLocked(strings.TrimSpace(ownerID))
	if len(owned) > limit {
		owned = owned[:limit]
	}
	out := make([]ConversationSummary, 0, len(owned))
	for _, c := range owned {
		cs := ConversationSummary{Conversation: c.conv, MessageCount: len(c.messages)}
		if n := len(c.messages); n > 0 {
			cs.Preview = previewOf(c.messages[n-1].Content)
		}
		out = append(out, cs)
	}
	return out, nil
}

func (s *InMemoryStore) GetAccount(_ context.Context, id string) (Account, bool, error) {
	if s == nil {
		return Account{}, false, errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.TrimSpace(id)]
	return a, ok, nil
}

func (s *InMemoryStore) CreateAccount(_ context.Context, username string) (Account, error) {
	if s == nil {
		return Account{}, errors.New("in-memory chat store: nil store")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, errors.New("in-memory chat store: username is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Username == username {
			return Account{}, errors.Errorf("in-memory chat store: username %q already exists", username)
		}
	}
	a := Account{ID: s.opts.newID(), Username: username, IsActive: true, CreatedAtMs: s.opts.nowMs()}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *InMemoryStore) SetAccountActive(_ context.Context, id string, active bool) error {
	if s == nil {
		return errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[strings.TrimSpace(id)]
	if !ok {
		return errors.Errorf("in-memory chat store: account %q not found", id)
	}
	a.IsActive = active
	s.accounts[a.ID] = a
	return nil
}

func (s *InMemoryStore) SaveAILog(_ context.Context, rec AILogRecord) error {
	if s == nil {
		return errors.New("in-memory chat store: nil store")
	}
	if rec.ID == "" {
		rec.ID = s.opts.newID()
	}
	if rec.CreatedAtMs <= 0 {
		rec.CreatedAtMs = s.opts.nowMs()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.logs {
		if existing.ID == rec.ID {
			return nil
		}
	}
	s.logs = append(s.logs, rec)
	return nil
}

func (s *InMemoryStore) ListAILogs(_ context.Context, ownerID string, limit int) ([]AILogRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory chat store: nil store")
	}
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AILogRecord, 0, len(s.logs))
	for i := len(s.logs) - 1; i >= 0; i-- {
		if ownerID != "" && s.logs[i].OwnerID != ownerID {
			continue
		}
		out = append(out, s.logs[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAtMs > out[j].CreatedAtMs })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
