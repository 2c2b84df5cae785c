package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldtrace/ftrace/internal/models"
	"github.com/fieldtrace/ftrace/internal/output"
)

var listCmd = &cobra.Command{
	Use:     "list <collection>",
	Short:   "List local records of a collection with their sync status",
	GroupID: "data",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection := strings.ToLower(args[0])
		if !models.ValidEntityType(collection) {
			return fmt.Errorf("unknown collection %q (want one of %s)", collection, strings.Join(models.Collections, ", "))
		}

		userID, err := currentUserID()
		if err != nil {
			return err
		}
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		entities, err := database.ListEntities(collection)
		if err != nil {
			return err
		}
		if len(entities) == 0 {
			fmt.Println(output.Subtle("no " + collection + " recorded"))
			return nil
		}

		for _, e := range entities {
			status, err := database.SyncStatus(userID, collection, e.LocalID)
			if err != nil {
				return err
			}
			id := e.ServerID
			if id == "" {
				id = e.LocalID
			}
			fmt.Printf("%-40s %s\n", id, output.StatusBadge(status))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
