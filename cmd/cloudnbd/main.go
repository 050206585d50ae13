// Command cloudnbd runs the NBD server and its admin HTTP endpoint.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/cloudnbd/cmd/cloudnbd/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
