package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"

	sardonic_cmds "github.com/go-go-golems/sardonic/cmd/sardonic/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "sardonic",
	Short: "Streaming chat sessions with a sarcastic assistant",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	if err := clay.InitGlazed("sardonic", rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	cobra.CheckErr(sardonic_cmds.AddToRootCommand(rootCmd))
	cobra.CheckErr(rootCmd.Execute())
}
