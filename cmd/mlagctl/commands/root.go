// Package commands implements the mlagctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/mlagd/internal/ctlproto"
)

var (
	// socketPath is the mlagd control-socket path, overridable via --socket.
	socketPath string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for mlagctl.
var rootCmd = &cobra.Command{
	Use:   "mlagctl",
	Short: "CLI client for the mlagd daemon",
	Long:  "mlagctl talks to the mlagd daemon over its local control socket to inspect MLAG port state and the MAC address table.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", ctlproto.DefaultSocketPath,
		"mlagd control-socket path")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(flushCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
