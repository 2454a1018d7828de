package main

import (
	"os"

	"github.com/basaltproject/go-harness/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
