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
	eventsSkip  int
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events <task-id>",
	Short: "Show a task's event journal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runEvents(args[0])
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsSkip, "skip", 0, "number of events to skip")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum number of events to return")
}

func runEvents(taskID string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.TaskEvents(ctx, taskID, eventsSkip, eventsLimit)
	if err != nil {
		exitWithError("failed to send events command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("task_events failed: %s", resp.Error.Message), nil)
	}

	resultJSON, _ := json.MarshalIndent(resp.Result, "", "  ")
	fmt.Println(string(resultJSON))
}
