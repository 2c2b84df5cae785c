package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldtrace/ftrace/internal/db"
	"github.com/fieldtrace/ftrace/internal/poll"
	"github.com/fieldtrace/ftrace/internal/sync"
	"github.com/fieldtrace/ftrace/internal/syncclient"
	"github.com/fieldtrace/ftrace/internal/syncconfig"
)

var (
	version string
	baseDir string
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "ftrace",
	Short: "Offline-first supply-chain traceability client",
	Long: `ftrace - field client for the traceability platform.

Record actors, conventions, calendars, transactions and documents while
disconnected; the sync engine reconciles with the server when connectivity
returns. Nothing queued is ever silently dropped.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initBaseDir)

	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}

func initBaseDir() {
	var err error
	baseDir, err = os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot determine working directory: %v\n", err)
		os.Exit(1)
	}
}

// getBaseDir returns the base directory for the local data store
func getBaseDir() string {
	return baseDir
}

// openDB opens the local store in the current base dir.
func openDB() (*db.DB, error) {
	return db.Open(getBaseDir())
}

// currentUserID returns the authenticated user's id or an error telling
// the caller to log in. All outbox access is scoped by it.
func currentUserID() (string, error) {
	userID := syncconfig.GetUserID()
	if userID == "" {
		return "", fmt.Errorf("not logged in: run 'ftrace login' first")
	}
	return userID, nil
}

// buildEngine wires the client, poller and orchestrator for the
// authenticated user.
func buildEngine(database *db.DB) (*sync.Orchestrator, *poll.Poller, *syncclient.Client, error) {
	userID, err := currentUserID()
	if err != nil {
		return nil, nil, nil, err
	}
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, nil, nil, err
	}
	client := syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID)
	poller := poll.New(database, client)
	return sync.New(database, client, poller, userID), poller, client, nil
}
