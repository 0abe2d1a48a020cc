package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dantte-lp/mlagd/internal/ctlproto"
)

// errRequestFailed wraps a non-OK control-socket response.
var errRequestFailed = errors.New("mlagd returned an error")

// dialTimeout bounds how long mlagctl waits to connect to mlagd's control
// socket before giving up.
const dialTimeout = 3 * time.Second

// call opens a fresh connection to the control socket, sends req, and
// returns the decoded response. One connection per call keeps the client
// trivial: mlagctl is a debug tool, not a long-lived session.
func call(req ctlproto.Request) (*ctlproto.Response, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial mlagd control socket %s: %w", socketPath, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp ctlproto.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if !resp.OK {
		return nil, fmt.Errorf("%w: %s", errRequestFailed, resp.Error)
	}

	return &resp, nil
}
