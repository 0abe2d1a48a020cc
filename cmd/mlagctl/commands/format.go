package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dantte-lp/mlagd/internal/ctlproto"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func formatPorts(ports []ctlproto.PortView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(ports, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal ports to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatPortsTable(ports), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatPortsTable(ports []ctlproto.PortView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tMODE\tLOCAL\tREMOTE\tMASTER")

	for _, p := range ports {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.Mode, p.LocalState, p.RemoteState, p.MasterState)
	}

	w.Flush()
	return buf.String()
}

func formatFdb(entries []ctlproto.FdbView, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal fdb to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatFdbTable(entries), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatFdbTable(entries []ctlproto.FdbView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VID\tMAC\tPORT\tTYPE\tORIGINATOR")

	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\n", e.VID, e.MAC, e.Port, e.EntryType, e.Originator)
	}

	w.Flush()
	return buf.String()
}
