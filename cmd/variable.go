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

var variableCmd = &cobra.Command{
	Use:   "variable",
	Short: "Manage encrypted task variables",
	Long: `Manage the encrypted ${NAME} variables substituted into task
configurations at execution time.

Subcommands:
  create  - Create or overwrite a variable
  list    - List variable metadata (values are never printed)
  delete  - Delete a variable`,
}

var (
	variableValue       string
	variableDescription string
)

var variableCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create or overwrite a variable",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runVariableCreate(args[0])
	},
}

var variableListCmd = &cobra.Command{
	Use:   "list",
	Short: "List variables",
	Run: func(cmd *cobra.Command, args []string) {
		runVariableList()
	},
}

var variableDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a variable",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runVariableDelete(args[0])
	},
}

func init() {
	variableCreateCmd.Flags().StringVar(&variableValue, "value", "", "variable value (required)")
	variableCreateCmd.Flags().StringVar(&variableDescription, "description", "", "variable description")
	variableCreateCmd.MarkFlagRequired("value")

	variableCmd.AddCommand(variableCreateCmd)
	variableCmd.AddCommand(variableListCmd)
	variableCmd.AddCommand(variableDeleteCmd)
}

func runVariableCreate(name string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.VariableCreate(ctx, name, variableValue, variableDescription, os.Getenv("USER"))
	if err != nil {
		exitWithError("failed to send variable_create command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("variable_create failed: %s", resp.Error.Message), nil)
	}
	fmt.Printf("Variable %s created.\n", name)
}

func runVariableList() {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.VariableList(ctx)
	if err != nil {
		exitWithError("failed to send variable_list command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("variable_list failed: %s", resp.Error.Message), nil)
	}

	resultJSON, _ := json.MarshalIndent(resp.Result, "", "  ")
	fmt.Println(string(resultJSON))
}

func runVariableDelete(name string) {
	client := command.NewUDSClient(socketPath, 10*time.Second)
	ctx := context.Background()

	resp, err := client.VariableDelete(ctx, name)
	if err != nil {
		exitWithError("failed to send variable_delete command", err)
	}
	if resp.Error != nil {
		exitWithError(fmt.Sprintf("variable_delete failed: %s", resp.Error.Message), nil)
	}
	fmt.Printf("Variable %s deleted.\n", name)
}
