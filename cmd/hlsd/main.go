// Package main is the entry point for the hlsd application.
package main

import (
	"os"

	"github.com/jmylchreest/hlsd/cmd/hlsd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
