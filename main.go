// Command dust is the CLI entry point for the Dust execution engine: project
// initialization, dataset registration, app runs and the HTTP API server.
package main

import (
	"os"

	"dust.evalgo.org/cli"
)

func main() {
	os.Exit(cli.Execute())
}
