// Command outbox-sync records commands in a local outbox and delivers them to a remote API.
package main

import (
	"os"

	"github.com/velmie/outbox-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
