// Command outpost records field events offline and syncs them with a remote
// authority.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/outpost/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
