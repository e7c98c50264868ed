// Command expflow manages the participants, experiments and trials of a
// study stored as JSON documents.
package main

import (
	"os"

	"github.com/mesh-intelligence/expflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
