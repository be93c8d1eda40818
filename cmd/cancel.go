package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/resinkit-ai/agent-core/internal/command"
)

var cancelForce bool

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a running task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runCancel(args[0])
	},
}

func init() {
	cancelCmd.Flags().BoolVar(&cancelForce, "force", false, "force cancel, skipping graceful shutdown")
}

func runCancel(taskID string) {
	client := command.NewUDSClient(socketPath, 40*time.Second)
	ctx := context.Background()

	resp, err := client.TaskCancel(ctx, taskID, cancelForce)
	if err != nil {
		exitWithError("failed to send cancel command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("task_cancel failed: %s", resp.Error.Message), nil)
	}

	resultJSON, _ := json.MarshalIndent(resp.Result, "", "  ")
	fmt.Println(string(resultJSON))
}
