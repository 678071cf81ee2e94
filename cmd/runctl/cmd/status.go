package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [task-id]",
	Short: "Show the current state of a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("GET", "/v1/tasks/"+args[0], nil)
		if err != nil {
			return fmt.Errorf("failed to fetch task: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return decodeAPIError(resp)
		}

		var snap struct {
			TaskID      string   `json:"task_id"`
			Command     string   `json:"command"`
			Args        []string `json:"args"`
			Status      string   `json:"status"`
			ExitCode    *int     `json:"exit_code"`
			CreatedAt   string   `json:"created_at"`
			StartedAt   string   `json:"started_at"`
			FinishedAt  string   `json:"finished_at"`
			Events      uint64   `json:"events"`
			Subscribers int      `json:"subscribers"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if outputJSON {
			printOutput(snap)
			return nil
		}

		fmt.Printf("Task: %s\n", snap.TaskID)
		fmt.Printf("  Command: %s\n", snap.Command)
		if len(snap.Args) > 0 {
			fmt.Printf("  Args: %v\n", snap.Args)
		}
		fmt.Printf("  Status: %s\n", snap.Status)
		if snap.ExitCode != nil {
			fmt.Printf("  Exit code: %d\n", *snap.ExitCode)
		}
		fmt.Printf("  Created: %s\n", snap.CreatedAt)
		if snap.StartedAt != "" {
			fmt.Printf("  Started: %s\n", snap.StartedAt)
		}
		if snap.FinishedAt != "" {
			fmt.Printf("  Finished: %s\n", snap.FinishedAt)
		}
		fmt.Printf("  Events: %d\n", snap.Events)
		fmt.Printf("  Subscribers: %d\n", snap.Subscribers)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
