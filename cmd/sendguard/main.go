// Command sendguard runs the guarded send service and its operator tools.
package main

import (
	"os"

	"github.com/jonwraymond/sendguard/internal/cli"
)

func main() {
	root := cli.NewRootCommand(cli.DefaultOptions())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
