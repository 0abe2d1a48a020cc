package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive mlagctl shell",
		Long:  "Launches a console REPL over mlagctl's commands (show, flush, version).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("mlagctl")

			menu := app.ActiveMenu()
			menu.Prompt().Primary = func() string {
				return fmt.Sprintf("mlagctl (%s) > ", socketPath)
			}
			menu.SetCommands(func() *cobra.Command {
				return rootCmd
			})

			if err := app.Start(); err != nil {
				return fmt.Errorf("start console: %w", err)
			}
			return nil
		},
	}
}
