package cmds

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
)

type LogsListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &LogsListCommand{}

type LogsListSettings struct {
	Owner       string `glazed:"owner"`
	Limit       int    `glazed:"limit"`
	WithContext bool   `glazed:"with-context"`
}

func NewLogsListCommand() (*LogsListCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	storeSection, err := newStoreSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"list",
		cmds.WithShort("List recorded model calls, newest first"),
		cmds.WithFlags(
			fields.New("owner", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Only records made for this account id (all when empty)")),
			fields.New("limit", fields.TypeInteger,
				fields.WithDefault(100),
				fields.WithHelp("Maximum rows")),
			fields.New("with-context", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Include the prompt messages sent to the model")),
		),
		cmds.WithSections(glazedSection, commandSettingsSection, storeSection),
	)
	return &LogsListCommand{CommandDescription: desc}, nil
}

func (c *LogsListCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &LogsListSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	ss := StoreSettings{}
	if err := parsed.DecodeSectionInto(storeSectionSlug, &ss); err != nil {
		return err
	}
	store, err := openStore(ss, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	recs, err := store.ListAILogs(ctx, s.Owner, s.Limit)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		var tokens any
		if rec.TokensUsed != nil {
			tokens = *rec.TokensUsed
		}
		row := types.NewRow(
			types.MRP("id", rec.ID),
			types.MRP("owner_id", rec.OwnerID),
			types.MRP("created_at", formatMs(rec.CreatedAtMs)),
			types.MRP("model", rec.ModelName),
			types.MRP("tokens_used", tokens),
			types.MRP("input", rec.InputText),
			types.MRP("output", rec.OutputText),
		)
		if s.WithContext {
			row.Set("context", rec.Context)
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
