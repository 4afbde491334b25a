// Command offsync queues mutations durably while offline and replays them
// against a remote HTTP service once it is reachable.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/offsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "offsync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
