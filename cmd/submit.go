package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/resinkit-ai/agent-core/internal/command"
)

var submitConfigFile string

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new task",
	Long: `Submit a new task from a JSON configuration file.

Example configuration:
  {
    "task_type": "flink_cdc_pipeline",
    "name": "orders-cdc",
    "job": { "source": "...", "sink": "..." },
    "task_timeout_seconds": 3600
  }`,
	Run: func(cmd *cobra.Command, args []string) {
		runSubmit()
	},
}

func init() {
	submitCmd.Flags().StringVarP(&submitConfigFile, "file", "f", "", "task configuration file (JSON) (required)")
	submitCmd.MarkFlagRequired("file")
}

func runSubmit() {
	data, err := os.ReadFile(submitConfigFile)
	if err != nil {
		exitWithError(fmt.Sprintf("failed to read config file %s", submitConfigFile), err)
	}

	var taskConfig map[string]interface{}
	if err := json.Unmarshal(data, &taskConfig); err != nil {
		exitWithError("failed to parse task config", err)
	}

	client := command.NewUDSClient(socketPath, 30*time.Second)
	ctx := context.Background()

	resp, err := client.TaskSubmit(ctx, taskConfig, os.Getenv("USER"))
	if err != nil {
		exitWithError("failed to send submit command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("task_submit failed: %s", resp.Error.Message), nil)
	}

	resultJSON, _ := json.MarshalIndent(resp.Result, "", "  ")
	fmt.Println(string(resultJSON))
}
