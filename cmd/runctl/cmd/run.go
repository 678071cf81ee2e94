package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [command] [args...]",
	Short: "Run a command as a supervised task",
	Long: `Run a command as a supervised task on the Harbor Run service.

The task is accepted immediately; with --follow the live event stream is
attached right away so no output is missed.

Example:
  runctl run --follow -- sh -c 'echo hello; sleep 1; echo done'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		env, _ := cmd.Flags().GetStringArray("env")
		follow, _ := cmd.Flags().GetBool("follow")

		body := map[string]interface{}{
			"command": args[0],
		}
		if len(args) > 1 {
			body["args"] = args[1:]
		}
		if dir != "" {
			body["dir"] = dir
		}
		if len(env) > 0 {
			body["env"] = env
		}

		resp, err := makeHTTPRequest("POST", "/v1/tasks", body)
		if err != nil {
			return fmt.Errorf("failed to submit task: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return decodeAPIError(resp)
		}

		var accepted struct {
			TaskID string `json:"task_id"`
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		if !follow {
			if outputJSON {
				printOutput(accepted)
			} else {
				fmt.Printf("Task accepted: %s\n", accepted.TaskID)
			}
			return nil
		}

		fmt.Fprintf(os.Stderr, "task %s accepted, attaching\n", accepted.TaskID)
		code, err := followTask(accepted.TaskID)
		if err != nil {
			return err
		}
		os.Exit(code)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("dir", "", "working directory for the process")
	runCmd.Flags().StringArray("env", nil, "environment variable KEY=VALUE (repeatable)")
	runCmd.Flags().BoolP("follow", "f", false, "attach to the event stream after submitting")
}
