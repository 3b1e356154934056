// Package main provides the DataLens command-line entry point.
package main

import (
	"os"

	"github.com/leapstack-labs/datalens/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
