// Package main is the leapcloak command.
package main

import (
	"os"

	"github.com/leapstack-labs/leapcloak/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
