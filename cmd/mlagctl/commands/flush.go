package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/mlagd/internal/ctlproto"
)

func flushCmd() *cobra.Command {
	var port uint32
	var vid uint16

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Trigger an FDB flush for a (port, vid) pair",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := call(ctlproto.Request{Command: ctlproto.CommandFlush, Port: port, VID: vid})
			if err != nil {
				return err
			}

			switch {
			case resp.Flush.Already:
				fmt.Printf("flush for port=%d vid=%d already in progress\n", port, vid)
			case resp.Flush.Started:
				fmt.Printf("flush started for port=%d vid=%d\n", port, vid)
			default:
				fmt.Printf("flush for port=%d vid=%d not started (flush pool exhausted)\n", port, vid)
			}
			return nil
		},
	}

	cmd.Flags().Uint32Var(&port, "port", 0, "MLAG port id (required)")
	cmd.Flags().Uint16Var(&vid, "vid", 0, "VLAN id")
	_ = cmd.MarkFlagRequired("port")

	return cmd
}
