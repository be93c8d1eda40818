package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/resinkit-ai/agent-core/internal/command"
)

var resultCmd = &cobra.Command{
	Use:   "result <task-id>",
	Short: "Show a completed task's result",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runResult(args[0])
	},
}

func runResult(taskID string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.TaskResult(ctx, taskID)
	if err != nil {
		exitWithError("failed to send result command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("task_result failed: %s", resp.Error.Message), nil)
	}

	resultJSON, _ := json.MarshalIndent(resp.Result, "", "  ")
	fmt.Println(string(resultJSON))
}
