// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "agentctl - task-execution control plane",
	Long: `agentctl accepts declarative job descriptions and dispatches them to
pluggable runners driving external compute engines: a streaming SQL gateway
and a CDC pipeline launcher. Each job is tracked through a status lifecycle
with durable state, logs, cancellation, timeouts, and results.

agentctl is a single binary acting as both the long-running daemon
(agentctl daemon run) and the CLI client that talks to it over a Unix
domain socket.`,
	Version: "0.1.0",
}

// Execute runs the root command. Called once from main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/agent-core/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/agent-core.sock",
		"daemon socket path")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(variableCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reloadCmd)
}

func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
