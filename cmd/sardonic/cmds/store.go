package cmds

import (
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
)

const storeSectionSlug = "store"

type StoreSettings struct {
	DB  string `glazed:"db"`
	DSN string `glazed:"dsn"`
}

func newStoreSection() (schema.Section, error) {
	return schema.NewSection(
		storeSectionSlug,
		"Chat store",
		schema.WithFields(
			fields.New("db", fields.TypeString,
				fields.WithDefault("sardonic.db"),
				fields.WithHelp("SQLite file for conversations, accounts and audit records (DSN derived with WAL/busy_timeout)")),
			fields.New("dsn", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("SQLite DSN (preferred over db)")),
		),
	)
}

// chatStore is everything the commands need from one backing store.
type chatStore interface {
	chatstore.ConversationStore
	chatstore.AccountStore
	chatstore.AILogStore
}

var (
	_ chatStore = (*chatstore.SQLiteStore)(nil)
	_ chatStore = (*chatstore.InMemoryStore)(nil)
)

// openStore opens the SQLite store, or an in-memory one when allowEphemeral is set and
// neither db nor dsn is configured.
func openStore(s StoreSettings, allowEphemeral bool) (chatStore, error) {
	if strings.TrimSpace(s.DSN) == "" && strings.TrimSpace(s.DB) == "" {
		if !allowEphemeral {
			return nil, errors.New("chat store not configured (set --dsn or --db)")
		}
		log.Warn().Str("component", "store").Msg("no database configured, conversations are kept in memory only")
		return chatstore.NewInMemoryStore(), nil
	}
	dsn, err := chatstore.ResolveDSN(s.DSN, s.DB)
	if err != nil {
		return nil, err
	}
	store, err := chatstore.NewSQLiteStore(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open chat store")
	}
	return store, nil
}
