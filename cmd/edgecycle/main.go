// Command edgecycle runs a scan-cycle energy management plant.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/edgecycle/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "edgecycle:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
