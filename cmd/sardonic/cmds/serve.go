package cmds

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/sardonic/pkg/audit"
	"github.com/go-go-golems/sardonic/pkg/auth"
	"github.com/go-go-golems/sardonic/pkg/inference/generator"
	"github.com/go-go-golems/sardonic/pkg/inference/provider"
	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
	"github.com/go-go-golems/sardonic/pkg/redisstream"
	"github.com/go-go-golems/sardonic/pkg/webchat"
)

type ServeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.BareCommand = &ServeCommand{}

type ServeSettings struct {
	Addr           string   `glazed:"addr"`
	AllowedOrigins []string `glazed:"allowed-origins"`
	WriteTimeoutMs int      `glazed:"write-timeout-ms"`
	QueueSize      int      `glazed:"queue-size"`
}

func NewServeCommand() (*ServeCommand, error) {
	storeSection, err := newStoreSection()
	if err != nil {
		return nil, err
	}
	authSection, err := auth.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build auth section")
	}
	llmSection, err := provider.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build llm section")
	}
	redisSection, err := redisstream.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build redis section")
	}

	desc := cmds.NewCommandDescription(
		"serve",
		cmds.WithShort("Serve the websocket chat and the conversation API"),
		cmds.WithLong("Accept chat sessions on /ws/chat, persist conversations, and record every model call in the audit log."),
		cmds.WithFlags(
			fields.New("addr", fields.TypeString,
				fields.WithDefault(":8080"),
				fields.WithHelp("HTTP listen address")),
			fields.New("allowed-origins", fields.TypeStringList,
				fields.WithDefault([]string{}),
				fields.WithHelp("Websocket origins to accept (* = any, empty = same host only)")),
			fields.New("write-timeout-ms", fields.TypeInteger,
				fields.WithDefault(10000),
				fields.WithHelp("Deadline for each websocket write")),
			fields.New("queue-size", fields.TypeInteger,
				fields.WithDefault(webchat.DefaultQueueSize),
				fields.WithHelp("Messages a session buffers while a reply is in progress")),
		),
		cmds.WithSections(storeSection, authSection, llmSection, redisSection),
	)
	return &ServeCommand{CommandDescription: desc}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ServeSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode serve settings")
	}
	ss := StoreSettings{}
	if err := parsed.DecodeSectionInto(storeSectionSlug, &ss); err != nil {
		return errors.Wrap(err, "decode store settings")
	}
	as := auth.Settings{}
	if err := parsed.DecodeSectionInto(auth.SectionSlug, &as); err != nil {
		return errors.Wrap(err, "decode auth settings")
	}
	ls := provider.Settings{}
	if err := parsed.DecodeSectionInto(provider.SectionSlug, &ls); err != nil {
		return errors.Wrap(err, "decode llm settings")
	}
	rs := redisstream.Settings{}
	if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &rs); err != nil {
		return errors.Wrap(err, "decode redis settings")
	}

	store, err := openStore(ss, true)
	if err != nil {
		return err
	}
	srv, err := buildServer(ctx, s, as, ls, rs, store)
	if err != nil {
		_ = store.Close()
		return err
	}
	return srv.Run(ctx)
}

// buildServer wires authenticator, generator, audit bus and router around store. The
// returned server owns store and closes it on shutdown.
func buildServer(ctx context.Context, s *ServeSettings, as auth.Settings, ls provider.Settings, rs redisstream.Settings, store chatStore, opts ...webchat.ServerOption) (*webchat.Server, error) {
	authn, err := auth.NewAuthenticatorFromSettings(as, store)
	if err != nil {
		return nil, err
	}
	persona, err := personaFromSettings(ls)
	if err != nil {
		return nil, err
	}
	prov, err := provider.FromSettings(ls)
	if err != nil {
		return nil, err
	}

	bus, err := newAuditBus(ctx, rs, store)
	if err != nil {
		return nil, err
	}
	// gochannel drops messages published before the first subscriber
	if err := bus.Subscribe(ctx); err != nil {
		_ = bus.Close()
		return nil, err
	}

	gen, err := generator.New(generator.Config{
		Provider:      prov,
		Model:         ls.Model,
		Persona:       persona,
		MaxProgress:   ls.ProgressSteps,
		ProgressDelay: time.Duration(ls.ProgressDelayMs) * time.Millisecond,
		Recorder:      bus,
	})
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	router, err := webchat.NewRouter(ctx, authn, store, gen,
		webchat.WithAllowedOrigins(s.AllowedOrigins),
		webchat.WithWriteTimeout(time.Duration(s.WriteTimeoutMs)*time.Millisecond),
		webchat.WithQueueSize(s.QueueSize),
	)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	log.Info().
		Str("component", "serve").
		Str("model", ls.Model).
		Bool("redis", rs.Enabled).
		Int("progress_steps", ls.ProgressSteps).
		Msg("chat server configured")

	serverOpts := append([]webchat.ServerOption{
		webchat.WithBackground(bus.Run),
		webchat.WithDrainer(router.Shutdown),
		webchat.WithCloser(bus.Close),
		webchat.WithCloser(store.Close),
	}, opts...)
	return webchat.NewServer(s.Addr, router.Handler(), serverOpts...)
}

func personaFromSettings(ls provider.Settings) (generator.Persona, error) {
	persona := generator.DefaultPersona()
	if path := strings.TrimSpace(ls.PersonaFile); path != "" {
		p, err := generator.LoadPersona(path)
		if err != nil {
			return generator.Persona{}, err
		}
		persona = p
	}
	if prompt := strings.TrimSpace(ls.SystemPrompt); prompt != "" {
		persona.SystemPrompt = prompt
	}
	return persona, nil
}

func newAuditBus(ctx context.Context, rs redisstream.Settings, sink chatstore.AILogStore) (*audit.Bus, error) {
	if rs.Enabled {
		log.Info().Str("component", "audit").Str("addr", rs.Addr).Str("group", rs.Group).Msg("audit records over redis streams")
		return audit.NewRedisBus(ctx, rs, sink)
	}
	return audit.NewInMemoryBus(sink)
}
