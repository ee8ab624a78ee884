package main

import (
	"os"

	"github.com/meshgate/opmond/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
