package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldtrace/ftrace/internal/output"
)

var pendingEntity string

var pendingCmd = &cobra.Command{
	Use:     "pending",
	Short:   "List queued operations for the current user",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := currentUserID()
		if err != nil {
			return err
		}
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		ops, err := database.ListPending(userID)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			output.Success("outbox is empty")
			return nil
		}

		for _, op := range ops {
			if pendingEntity != "" && op.EntityID != pendingEntity {
				continue
			}
			line := fmt.Sprintf("#%d %s %s/%s  %s", op.ID, op.Operation, op.EntityType, op.EntityID,
				output.Subtle(op.Timestamp.Local().Format(time.DateTime)))
			fmt.Println(line)
			if op.LastError != nil {
				fmt.Printf("    %s (retries: %d)\n", output.OpErrorLine(op.LastError), op.Retries)
			}
		}
		return nil
	},
}

func init() {
	pendingCmd.Flags().StringVar(&pendingEntity, "entity", "", "only show operations for this entity id")
	rootCmd.AddCommand(pendingCmd)
}
