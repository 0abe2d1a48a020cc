// Package ctlproto defines the newline-delimited JSON request/response
// protocol spoken over mlagd's local control socket (§1 "operator CLI").
// It has no dependency on internal/mlag: both cmd/mlagd's control-socket
// server and cmd/mlagctl's client import only this package's plain view
// types, the same split internal/wire keeps between mlag and comm.
package ctlproto

// Command names accepted on the control socket.
const (
	CommandShowPorts = "show-ports"
	CommandShowFdb   = "show-fdb"
	CommandFlush     = "flush"
)

// DefaultSocketPath is the default control-socket path, overridable via
// config.Config.ControlSocket.
const DefaultSocketPath = "/var/run/mlagd/mlagd.sock"

// Request is one control-socket call. Port/VID are only meaningful for
// CommandFlush.
type Request struct {
	Command string `json:"command"`
	Port    uint32 `json:"port,omitempty"`
	VID     uint16 `json:"vid,omitempty"`
}

// Response carries exactly one of Ports, Fdb or Flush, depending on the
// request's Command, or Error if OK is false.
type Response struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Ports []PortView  `json:"ports,omitempty"`
	Fdb   []FdbView   `json:"fdb,omitempty"`
	Flush *FlushView  `json:"flush,omitempty"`
}

// PortView is one PortDb row as seen by the operator CLI.
type PortView struct {
	ID          uint32 `json:"id"`
	Mode        string `json:"mode"`
	LocalState  string `json:"local_state"`
	RemoteState string `json:"remote_state"`
	MasterState string `json:"master_state"`
}

// FdbView is one FdbMaster export row.
type FdbView struct {
	VID        uint16 `json:"vid"`
	MAC        string `json:"mac"`
	Port       uint32 `json:"port"`
	EntryType  string `json:"entry_type"`
	Originator int    `json:"originator"`
}

// FlushView is the result of a CommandFlush call.
type FlushView struct {
	Started bool `json:"started"`
	Already bool `json:"already"`
}
