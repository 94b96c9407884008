// Package main is the entry point for the streamrelay application.
package main

import (
	"os"

	"github.com/jmylchreest/streamrelay/cmd/streamrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
