package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/spf13/cobra"
)

// AddToRootCommand registers serve and the store inspection groups.
func AddToRootCommand(root *cobra.Command) error {
	serve, err := NewServeCommand()
	if err != nil {
		return err
	}
	serveCmd, err := cli.BuildCobraCommand(serve)
	if err != nil {
		return err
	}
	root.AddCommand(serveCmd)

	accountsAdd, err := NewAccountsAddCommand()
	if err != nil {
		return err
	}
	accountsSetActive, err := NewAccountsSetActiveCommand()
	if err != nil {
		return err
	}
	if err := addGroup(root, &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts that access tokens resolve to",
	}, accountsAdd, accountsSetActive); err != nil {
		return err
	}

	conversationsList, err := NewConversationsListCommand()
	if err != nil {
		return err
	}
	if err := addGroup(root, &cobra.Command{
		Use:   "conversations",
		Short: "Inspect stored conversations",
	}, conversationsList); err != nil {
		return err
	}

	logsList, err := NewLogsListCommand()
	if err != nil {
		return err
	}
	return addGroup(root, &cobra.Command{
		Use:   "logs",
		Short: "Inspect the AI interaction audit log",
	}, logsList)
}

func addGroup(root *cobra.Command, group *cobra.Command, commands ...cmds.Command) error {
	for _, c := range commands {
		cobraCmd, err := cli.BuildCobraCommand(c)
		if err != nil {
			return err
		}
		group.AddCommand(cobraCmd)
	}
	root.AddCommand(group)
	return nil
}
