// Command lectern answers audience questions about a lecture in group chats
// and builds the post-event report.
package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/lectern/cmd/lectern/commands"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
