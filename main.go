// Package main is the entry point for the agent-core task-execution control plane.
package main

import (
	"fmt"
	"os"

	"github.com/resinkit-ai/agent-core/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
