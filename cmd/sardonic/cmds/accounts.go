package cmds

import (
	"context"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/sardonic/pkg/auth"
)

type AccountsAddCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &AccountsAddCommand{}

type AccountsAddSettings struct {
	Username      string `glazed:"username"`
	PrintToken    bool   `glazed:"print-token"`
	TokenTTLHours int    `glazed:"token-ttl-hours"`
}

func NewAccountsAddCommand() (*AccountsAddCommand, error) {
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
	authSection, err := auth.NewSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"add",
		cmds.WithShort("Create an account"),
		cmds.WithLong("Insert an active account. With --print-token an access token for it is signed with --jwt-secret."),
		cmds.WithArguments(
			fields.New("username", fields.TypeString,
				fields.WithHelp("Unique account name")),
		),
		cmds.WithFlags(
			fields.New("print-token", fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Also issue an access token for the new account")),
			fields.New("token-ttl-hours", fields.TypeInteger,
				fields.WithDefault(24),
				fields.WithHelp("Lifetime of the issued token")),
		),
		cmds.WithSections(glazedSection, commandSettingsSection, storeSection, authSection),
	)
	return &AccountsAddCommand{CommandDescription: desc}, nil
}

func (c *AccountsAddCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &AccountsAddSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	ss := StoreSettings{}
	if err := parsed.DecodeSectionInto(storeSectionSlug, &ss); err != nil {
		return err
	}
	as := auth.Settings{}
	if err := parsed.DecodeSectionInto(auth.SectionSlug, &as); err != nil {
		return err
	}
	if strings.TrimSpace(s.Username) == "" {
		return errors.New("username is required")
	}
	if s.PrintToken && strings.TrimSpace(as.JWTSecret) == "" {
		return errors.New("--print-token needs --jwt-secret")
	}

	store, err := openStore(ss, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	acc, err := store.CreateAccount(ctx, s.Username)
	if err != nil {
		return err
	}
	row := types.NewRow(
		types.MRP("id", acc.ID),
		types.MRP("username", acc.Username),
		types.MRP("is_active", acc.IsActive),
		types.MRP("created_at", formatMs(acc.CreatedAtMs)),
	)
	if s.PrintToken {
		tok, err := auth.IssueAccessToken(as.JWTSecret, as.UserIDClaim, acc.ID, time.Duration(s.TokenTTLHours)*time.Hour)
		if err != nil {
			return err
		}
		row.Set("token", tok)
	}
	return gp.AddRow(ctx, row)
}

type AccountsSetActiveCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = &AccountsSetActiveCommand{}

type AccountsSetActiveSettings struct {
	ID     string `glazed:"id"`
	Active bool   `glazed:"active"`
}

func NewAccountsSetActiveCommand() (*AccountsSetActiveCommand, error) {
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
		"set-active",
		cmds.WithShort("Activate or deactivate an account"),
		cmds.WithLong("Tokens of inactive accounts are treated as anonymous."),
		cmds.WithArguments(
			fields.New("id", fields.TypeString,
				fields.WithHelp("Account id")),
		),
		cmds.WithFlags(
			fields.New("active", fields.TypeBool,
				fields.WithDefault(true),
				fields.WithHelp("New state")),
		),
		cmds.WithSections(glazedSection, commandSettingsSection, storeSection),
	)
	return &AccountsSetActiveCommand{CommandDescription: desc}, nil
}

func (c *AccountsSetActiveCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &AccountsSetActiveSettings{}
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

	if err := store.SetAccountActive(ctx, s.ID, s.Active); err != nil {
		return err
	}
	acc, ok, err := store.GetAccount(ctx, s.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("account %q not found", s.ID)
	}
	return gp.AddRow(ctx, types.NewRow(
		types.MRP("id", acc.ID),
		types.MRP("username", acc.Username),
		types.MRP("is_active", acc.IsActive),
	))
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
