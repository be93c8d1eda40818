package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/resinkit-ai/agent-core/internal/daemon"
)

var daemonPidFile string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the agent-core daemon process",
	Long: `Manage the agent-core daemon process.

Subcommands:
  run     - Run the daemon in the foreground (used internally by "ensure")
  ensure  - Start the daemon in the background if it is not already running
  stop    - Stop a running daemon`,
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemonRun()
	},
}

var daemonEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Start the daemon in the background if not already running",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemonEnsure()
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemonStop()
	},
}

func init() {
	daemonCmd.PersistentFlags().StringVar(&daemonPidFile, "pid-file", "", "PID file path (overrides config)")

	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonEnsureCmd)
	daemonCmd.AddCommand(daemonStopCmd)
}

func runDaemonRun() {
	d, err := daemon.New(configFile, socketPath, daemonPidFile)
	if err != nil {
		exitWithError("failed to initialize daemon", err)
	}

	if err := d.Start(); err != nil {
		exitWithError("failed to start daemon", err)
	}

	if err := d.Run(); err != nil {
		exitWithError("daemon exited with error", err)
	}
}

func runDaemonEnsure() {
	if err := daemon.EnsureDaemonRunning(configFile, socketPath, daemonPidFile); err != nil {
		exitWithError("failed to ensure daemon is running", err)
	}
	fmt.Println("Daemon is running.")
}

func runDaemonStop() {
	if err := daemon.StopDaemon(socketPath, daemonPidFile); err != nil {
		exitWithError("failed to stop daemon", err)
	}

	fmt.Println("Daemon stopped.")
}
