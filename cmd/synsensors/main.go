// Package main is the entry point for the synsensors demo harness.
package main

import (
	"os"

	"synsensors/cmd/synsensors/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
