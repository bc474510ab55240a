// chunkstack is the command-line interface to the document ingestion
// and retrieval engine.
package main

import (
	"os"

	"github.com/chunkstack/chunkstack/cmd/chunkstack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
