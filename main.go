package main

import (
	"os"

	"github.com/eddielth/edge-ingest/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
