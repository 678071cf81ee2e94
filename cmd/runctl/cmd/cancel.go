package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// cancelCmd represents the cancel command
var cancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Request cancellation of a running task",
	Long: `Request cancellation of a task. The process is signalled to terminate
and the task reaches a terminal status through its normal exit path; use
attach or status to observe the outcome.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest("POST", "/v1/tasks/"+args[0]+"/cancel", nil)
		if err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return decodeAPIError(resp)
		}

		var out struct {
			TaskID string `json:"task_id"`
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if outputJSON {
			printOutput(out)
		} else {
			fmt.Printf("Cancellation requested for task %s (status: %s)\n", out.TaskID, out.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
