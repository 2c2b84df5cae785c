package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldtrace/ftrace/internal/output"
	"github.com/fieldtrace/ftrace/internal/sync"
)

var syncSkipDeltas bool

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Force a sync: refresh delta counters, then drain the outbox",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		orch, poller, _, err := buildEngine(database)
		if err != nil {
			return err
		}

		if !syncSkipDeltas {
			check, err := poller.ForceCheck()
			if err != nil {
				output.Warning("delta check failed: %v (pushing against last known counters)", err)
			} else if len(check.Stale) > 0 {
				fmt.Println(output.Subtle("stale: " + strings.Join(check.Stale, ", ")))
			}
		}

		result, err := orch.Drain(sync.TriggerForce)
		if err != nil {
			return fmt.Errorf("drain: %w", err)
		}

		if result.Sent == 0 && result.Deferred == 0 && result.Blocked == 0 {
			output.Success("nothing to sync")
			return nil
		}
		output.Success("synced: %d completed", result.Completed)
		if len(result.Pulled) > 0 {
			fmt.Println(output.Subtle("pulled: " + strings.Join(result.Pulled, ", ")))
		}
		if result.Deferred > 0 {
			output.Warning("%d deferred (waiting on unsynced references)", result.Deferred)
		}
		if result.Failed > 0 {
			output.Error("%d failed (see 'ftrace pending')", result.Failed)
		}
		if result.Blocked > 0 {
			output.Warning("%d blocked on server rejections (edit or delete the entity to retry)", result.Blocked)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncSkipDeltas, "skip-deltas", false, "drain without refreshing delta counters first")
	rootCmd.AddCommand(syncCmd)
}
