package main

import (
	"os"

	"github.com/relayq/relayq/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
