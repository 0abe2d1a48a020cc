package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/mlagd/internal/ctlproto"
)

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show mlagd port and MAC address table state",
	}

	cmd.AddCommand(showPortsCmd())
	cmd.AddCommand(showFdbCmd())

	return cmd
}

func showPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List MLAG port FSM states",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := call(ctlproto.Request{Command: ctlproto.CommandShowPorts})
			if err != nil {
				return err
			}

			out, err := formatPorts(resp.Ports, outputFormat)
			if err != nil {
				return fmt.Errorf("format ports: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func showFdbCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "mac-address-table",
		Aliases: []string{"fdb"},
		Short:   "List the MAC address table (master only)",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := call(ctlproto.Request{Command: ctlproto.CommandShowFdb})
			if err != nil {
				return err
			}

			out, err := formatFdb(resp.Fdb, outputFormat)
			if err != nil {
				return fmt.Errorf("format mac address table: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
