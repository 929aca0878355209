package cmds

import (
	"context"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

type ConversationsListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &ConversationsListCommand{}

type ConversationsListSettings struct {
	Owner string `glazed:"owner"`
	Limit int    `glazed:"limit"`
}

func NewConversationsListCommand() (*ConversationsListCommand, error) {
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
		cmds.WithShort("List an account's conversations, most recently active first"),
		cmds.WithFlags(
			fields.New("owner", fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Account id owning the conversations")),
			fields.New("limit", fields.TypeInteger,
				fields.WithDefault(50),
				fields.WithHelp("Maximum rows")),
		),
		cmds.WithSections(glazedSection, commandSettingsSection, storeSection),
	)
	return &ConversationsListCommand{CommandDescription: desc}, nil
}

func (c *ConversationsListCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &ConversationsListSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	ss := StoreSettings{}
	if err := parsed.DecodeSectionInto(storeSectionSlug, &ss); err != nil {
		return err
	}
	if strings.TrimSpace(s.Owner) == "" {
		return errors.New("--owner is required")
	}
	store, err := openStore(ss, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	list, err := store.ListConversations(ctx, s.Owner, s.Limit)
	if err != nil {
		return err
	}
	for _, cs := range list {
		row := types.NewRow(
			types.MRP("id", cs.ID),
			types.MRP("title", cs.Title),
			types.MRP("messages", cs.MessageCount),
			types.MRP("updated_at", formatMs(cs.UpdatedAtMs)),
			types.MRP("preview", cs.Preview),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
