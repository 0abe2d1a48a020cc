// mlagctl -- operator CLI for the mlagd daemon's control socket.
package main

import "github.com/dantte-lp/mlagd/cmd/mlagctl/commands"

func main() {
	commands.Execute()
}
