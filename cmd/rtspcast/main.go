// Package main is the entry point for the rtspcast server.
package main

import (
	"os"

	"github.com/opd-ai/rtspcast/cmd/rtspcast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
