package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/resinkit-ai/agent-core/internal/command"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Permanently delete a terminal or expired task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runDelete(args[0])
	},
}

func runDelete(taskID string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.TaskDelete(ctx, taskID)
	if err != nil {
		exitWithError("failed to send delete command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("task_delete failed: %s", resp.Error.Message), nil)
	}

	fmt.Printf("Task %s deleted.\n", taskID)
}
