package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks known to the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("GET", "/v1/tasks", nil)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return decodeAPIError(resp)
		}

		var out struct {
			Tasks []struct {
				TaskID   string `json:"task_id"`
				Command  string `json:"command"`
				Status   string `json:"status"`
				ExitCode *int   `json:"exit_code"`
			} `json:"tasks"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if outputJSON {
			printOutput(out)
			return nil
		}

		if len(out.Tasks) == 0 {
			fmt.Println("No tasks")
			return nil
		}
		for _, t := range out.Tasks {
			line := fmt.Sprintf("%s  %-9s  %s", t.TaskID, t.Status, t.Command)
			if t.ExitCode != nil {
				line += fmt.Sprintf("  (exit %d)", *t.ExitCode)
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
