// Command weave infers a global state-machine model from the interleaved
// log of a multi-component system.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/weave/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
