package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldtrace/ftrace/internal/output"
	"github.com/fieldtrace/ftrace/internal/syncconfig"
)

var (
	watchInterval      time.Duration
	watchProbeInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Run background sync until interrupted",
	GroupID: "sync",
	Long: `Keep the outbox draining in the background: a timer drain runs on the
configured interval, and a connectivity probe triggers an immediate drain
the moment the server becomes reachable again after an outage.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		orch, poller, client, err := buildEngine(database)
		if err != nil {
			return err
		}

		interval := watchInterval
		if interval == 0 {
			interval = syncconfig.SyncInterval()
		}

		if _, err := poller.ForceCheck(); err != nil {
			output.Warning("initial delta check failed: %v", err)
		}

		stopTimer := orch.StartTimer(interval)
		defer stopTimer()

		done := make(chan os.Signal, 1)
		signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

		probe := time.NewTicker(watchProbeInterval)
		defer probe.Stop()

		fmt.Println(output.Subtle(fmt.Sprintf("watching: drain every %s, probe every %s (ctrl-c to stop)",
			interval, watchProbeInterval)))

		online := true
		for {
			select {
			case <-probe.C:
				_, err := client.HealthCheck()
				reachable := err == nil
				if reachable && !online {
					// Connectivity restored: push what queued up offline.
					if result, err := orch.NotifyOnline(); err == nil && !result.Coalesced {
						output.Success("back online: %d completed, %d deferred, %d failed",
							result.Completed, result.Deferred, result.Failed)
					}
				}
				online = reachable
			case <-done:
				fmt.Println()
				return nil
			}
		}
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "drain interval (default from config, 5m)")
	watchCmd.Flags().DurationVar(&watchProbeInterval, "probe-interval", 30*time.Second, "connectivity probe interval")
	rootCmd.AddCommand(watchCmd)
}
