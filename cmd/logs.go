package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/resinkit-ai/agent-core/internal/command"
)

var (
	logsLevel      string
	logsMaxEntries int
)

var logsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "Show a task's recent log summary",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runLogs(args[0])
	},
}

func init() {
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "only show entries of exactly this log level (empty: all levels)")
	logsCmd.Flags().IntVar(&logsMaxEntries, "max-entries", 100, "maximum number of entries to return")
}

func runLogs(taskID string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.TaskLogs(ctx, taskID, logsLevel, logsMaxEntries)
	if err != nil {
		exitWithError("failed to send logs command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("task_logs failed: %s", resp.Error.Message), nil)
	}

	resultJSON, _ := json.MarshalIndent(resp.Result, "", "  ")
	fmt.Println(string(resultJSON))
}
