// Command unai talks to any supported LLM provider from the terminal, with
// optional tools served in-process or by MCP servers.
package main

import (
	"fmt"
	"os"
)

// Set via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
