// Command treesync runs sync scenarios, answers queries against data files
// and validates configuration.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/treesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
