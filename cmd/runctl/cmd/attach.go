package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// attachCmd represents the attach command
var attachCmd = &cobra.Command{
	Use:   "attach [task-id]",
	Short: "Attach to a task's live event stream",
	Long: `Attach to the event stream of an existing task.

Already-buffered events are replayed first, then live events follow until
the task completes. Attaching to a finished task replays its retained log.

Example:
  runctl attach 6e1f3c0a-2b9f-4c61-9a3e-0d5f6c2b7a10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := followTask(args[0])
		if err != nil {
			return err
		}
		os.Exit(code)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
