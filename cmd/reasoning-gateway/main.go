// Package main provides the entry point for the reasoning gateway.
package main

import (
	"fmt"
	"os"

	"github.com/deepreason/gateway/cmd/reasoning-gateway/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
