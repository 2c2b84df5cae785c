package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldtrace/ftrace/internal/output"
	"github.com/fieldtrace/ftrace/internal/syncconfig"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show outbox depth, sync errors and collection staleness",
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

		count, err := database.OutboxCount(userID)
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", output.Title("outbox"), output.PendingBadge(count))

		if last, err := database.LastSyncAt(); err == nil && last != nil {
			fmt.Println(output.Subtle("last sync " + last.Local().Format(time.DateTime)))
		}

		ops, err := database.ListPending(userID)
		if err != nil {
			return err
		}
		errored := 0
		for i := range ops {
			if ops[i].LastError == nil {
				continue
			}
			errored++
			fmt.Printf("  %s %s/%s %s — %s (retries: %d)\n",
				ops[i].Operation, ops[i].EntityType, ops[i].EntityID,
				output.StatusBadge("error"), output.OpErrorLine(ops[i].LastError), ops[i].Retries)
		}
		if errored == 0 && count > 0 {
			fmt.Println(output.Subtle("all queued operations are healthy"))
		}

		counters, err := database.ListDeltaCounters()
		if err != nil {
			return err
		}
		if len(counters) > 0 {
			fmt.Println(output.Title("collections"))
			for _, c := range counters {
				freshness := output.StatusBadge("synced")
				if c.Stale {
					freshness = output.StatusBadge("pending")
				}
				fmt.Printf("  %-14s %6d  %s\n", c.Collection, c.ServerCount, freshness)
			}
		}

		if !syncconfig.IsAuthenticated() {
			output.Warning("not logged in — queued work will sync after 'ftrace login'")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
