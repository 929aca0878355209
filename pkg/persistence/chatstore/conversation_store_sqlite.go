package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore implements ConversationStore, AccountStore and AILogStore on one database.
type SQLiteStore struct {
	db   *sql.DB
	opts storeOptions
}

var (
	_ ConversationStore = &SQLiteStore{}
	_ AccountStore      = &SQLiteStore{}
	_ AILogStore        = &SQLiteStore{}
)

func NewSQLiteStore(dsn string, opts ...Option) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite chat store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, opts: buildOptions(opts)}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite chat store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
		  id TEXT PRIMARY KEY,
		  username TEXT NOT NULL UNIQUE,
		  is_active INTEGER NOT NULL DEFAULT 1,
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS conversations (
		  id TEXT PRIMARY KEY,
		  owner_id TEXT NOT NULL,
		  title TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  updated_at_ms INTEGER NOT NULL,
		  is_active INTEGER NOT NULL DEFAULT 1,
		  titled INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_by_owner_updated
		  ON conversations(owner_id, updated_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
		  id TEXT PRIMARY KEY,
		  conversation_id TEXT NOT NULL REFERENCES conversations(id),
		  seq INTEGER NOT NULL,
		  role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		  content TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_by_conversation_seq
		  ON messages(conversation_id, seq);`,
		`CREATE TABLE IF NOT EXISTS ai_logs (
		  id TEXT PRIMARY KEY,
		  owner_id TEXT NOT NULL DEFAULT '',
		  input_text TEXT NOT NULL,
		  context_json TEXT NOT NULL,
		  output_text TEXT NOT NULL,
		  model_name TEXT NOT NULL,
		  tokens_used INTEGER,
		  created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS ai_logs_by_created
		  ON ai_logs(created_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite chat store: migrate")
		}
	}
	// databases created before these columns existed
	for _, st := range []string{
		`ALTER TABLE conversations ADD COLUMN titled INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE ai_logs ADD COLUMN owner_id TEXT NOT NULL DEFAULT ''`,
	} {
		if _, err := s.db.Exec(st); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return errors.Wrap(err, "sqlite chat store: migrate columns")
		}
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS ai_logs_by_owner_created
		  ON ai_logs(owner_id, created_at_ms DESC);`); err != nil {
		return errors.Wrap(err, "sqlite chat store: migrate")
	}
	return nil
}

func (s *SQLiteStore) FindReusable(ctx context.Context, ownerID string) (Conversation, bool, error) {
	if s == nil || s.db == nil {
		return Conversation{}, false, errors.New("sqlite chat store: db is nil")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Conversation{}, false, nil
	}
	var (
		c     Conversation
		count int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.owner_id, c.title, c.created_at_ms, c.updated_at_ms, c.is_active,
		       (SELECT COUNT(1) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.owner_id = ? AND c.is_active = 1
		ORDER BY c.updated_at_ms DESC, c.rowid DESC
		LIMIT 1
	`, ownerID).Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAtMs, &c.UpdatedAtMs, &c.IsActive, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, errors.Wrap(err, "sqlite chat store: find reusable")
	}
	if count != 0 {
		return Conversation{}, false, nil
	}
	return c, true, nil
}

func (s *SQLiteStore) Create(ctx context.Context, ownerID string, title string) (Conversation, error) {
	if s == nil || s.db == nil {
		return Conversation{}, errors.New("sqlite chat store: db is nil")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Conversation{}, errors.New("sqlite chat store: ownerID is empty")
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
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, title, created_at_ms, updated_at_ms, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
	`, c.ID, c.OwnerID, c.Title, c.CreatedAtMs, c.UpdatedAtMs); err != nil {
		return Conversation{}, errors.Wrap(err, "sqlite chat store: create conversation")
	}
	return c, nil
}

func (s *SQLiteStore) Get(ctx context.Context, convID string, ownerID string) (Conversation, bool, error) {
	if s == nil || s.db == nil {
		return Conversation{}, false, errors.New("sqlite chat store: db is nil")
	}
	convID = strings.TrimSpace(convID)
	ownerID = strings.TrimSpace(ownerID)
	if convID == "" || ownerID == "" {
		return Conversation{}, false, nil
	}
	var c Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, created_at_ms, updated_at_ms, is_active
		FROM conversations
		WHERE id = ? AND owner_id = ? AND is_active = 1
	`, convID, ownerID).Scan(&c.ID, &c.OwnerID, &c.Title, &c.CreatedAtMs, &c.UpdatedAtMs, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, errors.Wrap(err, "sqlite chat store: get conversation")
	}
	return c, true, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, convID string, role Role, content string) (AppendResult, error) {
	if s == nil || s.db == nil {
		return AppendResult{}, errors.New("sqlite chat store: db is nil")
	}
	if err := validateAppend(convID, role, content); err != nil {
		return AppendResult{}, errors.Wrap(err, "sqlite chat store")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendResult{}, errors.Wrap(err, "sqlite chat store: begin append")
	}
	defer func() { _ = tx.Rollback() }()

	var titled bool
	err = tx.QueryRowContext(ctx, `SELECT titled FROM conversations WHERE id = ?`, convID).Scan(&titled)
	if errors.Is(err, sql.ErrNoRows) {
		return AppendResult{}, ErrNotFound
	}
	if err != nil {
		return AppendResult{}, errors.Wrap(err, "sqlite chat store: load conversation")
	}

	var (
		count   int
		lastSeq int64
	)
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(1), COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?
	`, convID).Scan(&count, &lastSeq); err != nil {
		return AppendResult{}, errors.Wrap(err, "sqlite chat store: count messages")
	}

	res := AppendResult{FirstMessage: count == 0}
	if res.FirstMessage && role == RoleUser && !titled {
		res.Title = DeriveTitle(content)
		if _, err := tx.ExecContext(ctx, `UPDATE conversations SET title = ?, titled = 1 WHERE id = ?`, res.Title, convID); err != nil {
			return AppendResult{}, errors.Wrap(err, "sqlite chat store: apply title")
		}
	}

	now := s.opts.nowMs()
	res.Message = Message{
		ID:             s.opts.newID(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAtMs:    now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, role, content, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, res.Message.ID, convID, lastSeq+1, string(role), content, now); err != nil {
		return AppendResult{}, errors.Wrap(err, "sqlite chat store: insert message")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at_ms = MAX(updated_at_ms, ?) WHERE id = ?
	`, now, convID); err != nil {
		return AppendResult{}, errors.Wrap(err, "sqlite chat store: touch conversation")
	}
	if err := tx.Commit(); err != nil {
		return AppendResult{}, errors.Wrap(err, "sqlite chat store: commit append")
	}
	return res, nil
}

func (s *SQLiteStore) RenameIfFirstMessage(ctx context.Context, convID string, proposedTitle string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("sqlite chat store: db is nil")
	}
	if strings.TrimSpace(proposedTitle) == "" {
		return false, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "sqlite chat store: begin rename")
	}
	defer func() { _ = tx.Rollback() }()

	var titled bool
	err = tx.QueryRowContext(ctx, `SELECT titled FROM conversations WHERE id = ?`, convID).Scan(&titled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, errors.Wrap(err, "sqlite chat store: load conversation")
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE conversation_id = ?`, convID).Scan(&count); err != nil {
		return false, errors.Wrap(err, "sqlite chat store: count messages")
	}
	if count != 0 || titled {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET title = ?, titled = 1 WHERE id = ?`, DeriveTitle(proposedTitle), convID); err != nil {
		return false, errors.Wrap(err, "sqlite chat store: rename conversation")
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "sqlite chat store: commit rename")
	}
	return true, nil
}

func (s *SQLiteStore) ClearMessages(ctx context.Context, convID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite chat store: db is nil")
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, convID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "sqlite chat store: load conversation")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, convID)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite chat store: clear messages")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) CountMessages(ctx context.Context, convID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite chat store: db is nil")
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE conversation_id = ?`, convID).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "sqlite chat store: count messages")
	}
	return count, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, convID string) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite chat store: db is nil")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at_ms
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, convID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list messages")
	}
	defer func() { _ = rows.Close() }()

	msgs := make([]Message, 0, 16)
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan message")
		}
		m.Role = Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: iterate messages")
	}
	return msgs, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string, limit int) ([]ConversationSummary, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite chat store: db is nil")
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.owner_id, c.title, c.created_at_ms, c.updated_at_ms, c.is_active,
		       (SELECT COUNT(1) FROM messages m WHERE m.conversation_id = c.id),
		       COALESCE((SELECT m.content FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1), '')
		FROM conversations c
		WHERE c.owner_id = ? AND c.is_active = 1
		ORDER BY c.updated_at_ms DESC, c.rowid DESC
		LIMIT ?
	`, strings.TrimSpace(ownerID), limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	out := make([]ConversationSummary, 0, limit)
	for rows.Next() {
		var (
			cs   ConversationSummary
			last string
		)
		if err := rows.Scan(
			&cs.ID,
			&cs.OwnerID,
			&cs.Title,
			&cs.CreatedAtMs,
			&cs.UpdatedAtMs,
			&cs.IsActive,
			&cs.MessageCount,
			&last,
		); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan conversation")
		}
		cs.Preview = previewOf(last)
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: iterate conversations")
	}
	return out, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (Account, bool, error) {
	if s == nil || s.db == nil {
		return Account{}, false, errors.New("sqlite chat store: db is nil")
	}
	var a Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, is_active, created_at_ms FROM accounts WHERE id = ?
	`, strings.TrimSpace(id)).Scan(&a.ID, &a.Username, &a.IsActive, &a.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, errors.Wrap(err, "sqlite chat store: get account")
	}
	return a, true, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, username string) (Account, error) {
	if s == nil || s.db == nil {
		return Account{}, errors.New("sqlite chat store: db is nil")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, errors.New("sqlite chat store: username is empty")
	}
	a := Account{ID: s.opts.newID(), Username: username, IsActive: true, CreatedAtMs: s.opts.nowMs()}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, is_active, created_at_ms) VALUES (?, ?, 1, ?)
	`, a.ID, a.Username, a.CreatedAtMs); err != nil {
		return Account{}, errors.Wrap(err, "sqlite chat store: create account")
	}
	return a, nil
}

func (s *SQLiteStore) SetAccountActive(ctx context.Context, id string, active bool) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite chat store: db is nil")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET is_active = ? WHERE id = ?`, active, strings.TrimSpace(id))
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: update account")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("sqlite chat store: account %q not found", id)
	}
	return nil
}

func (s *SQLiteStore) SaveAILog(ctx context.Context, rec AILogRecord) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite chat store: db is nil")
	}
	if rec.ID == "" {
		rec.ID = s.opts.newID()
	}
	if rec.CreatedAtMs <= 0 {
		rec.CreatedAtMs = s.opts.nowMs()
	}
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return errors.Wrap(err, "sqlite chat store: marshal ai log context")
	}
	var tokens sql.NullInt64
	if rec.TokensUsed != nil {
		tokens = sql.NullInt64{Int64: int64(*rec.TokensUsed), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_logs (id, owner_id, input_text, context_json, output_text, model_name, tokens_used, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, rec.OwnerID, rec.InputText, string(contextJSON), rec.OutputText, rec.ModelName, tokens, rec.CreatedAtMs); err != nil {
		return errors.Wrap(err, "sqlite chat store: insert ai log")
	}
	return nil
}

func (s *SQLiteStore) ListAILogs(ctx context.Context, ownerID string, limit int) ([]AILogRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite chat store: db is nil")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, input_text, context_json, output_text, model_name, tokens_used, created_at_ms
		FROM ai_logs
		WHERE ? = '' OR owner_id = ?
		ORDER BY created_at_ms DESC, rowid DESC
		LIMIT ?
	`, ownerID, ownerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: list ai logs")
	}
	defer func() { _ = rows.Close() }()

	out := make([]AILogRecord, 0, limit)
	for rows.Next() {
		var (
			rec         AILogRecord
			contextJSON string
			tokens      sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.InputText, &contextJSON, &rec.OutputText, &rec.ModelName, &tokens, &rec.CreatedAtMs); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: scan ai log")
		}
		if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
			return nil, errors.Wrap(err, "sqlite chat store: unmarshal ai log context")
		}
		if tokens.Valid {
			v := int(tokens.Int64)
			rec.TokensUsed = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite chat store: iterate ai logs")
	}
	return out, nil
}

// SQLiteDSNForFile builds a DSN with WAL, a busy timeout, and immediate write
// transactions so append-and-rename never races another writer on the same file.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite chat store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path), nil
}

// ResolveDSN prefers an explicit DSN and falls back to a DSN derived from a file path.
func ResolveDSN(dsn string, path string) (string, error) {
	if v := strings.TrimSpace(dsn); v != "" {
		return v, nil
	}
	if strings.TrimSpace(path) == "" {
		return "", errors.New("either dsn or db path must be set")
	}
	return SQLiteDSNForFile(strings.TrimSpace(path))
}
