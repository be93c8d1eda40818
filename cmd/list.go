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
	listStatus     string
	listTaskType   string
	listActiveOnly bool
	listLimit      int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		runList()
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listTaskType, "task-type", "", "filter by task_type")
	listCmd.Flags().BoolVar(&listActiveOnly, "active-only", false, "only show tasks that have not been soft-deleted (terminal tasks included)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of tasks to return")
}

func runList() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.TaskList(ctx, map[string]interface{}{
		"status":      listStatus,
		"task_type":   listTaskType,
		"active_only": listActiveOnly,
		"limit":       listLimit,
	})
	if err != nil {
		exitWithError("failed to send list command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("task_list failed: %s", resp.Error.Message), nil)
	}

	resultJSON, _ := json.MarshalIndent(resp.Result, "", "  ")
	fmt.Println(string(resultJSON))
}
