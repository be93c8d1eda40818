package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/resinkit-ai/agent-core/internal/command"
)

var getCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Get a single task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runGet(args[0])
	},
}

func runGet(taskID string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.TaskGet(ctx, taskID)
	if err != nil {
		exitWithError("failed to send get command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("task_get failed: %s", resp.Error.Message), nil)
	}

	resultJSON, _ := json.MarshalIndent(resp.Result, "", "  ")
	fmt.Println(string(resultJSON))
}
