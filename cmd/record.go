package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldtrace/ftrace/internal/models"
	"github.com/fieldtrace/ftrace/internal/output"
)

var recordData string

var recordCmd = &cobra.Command{
	Use:     "record <create|update|delete> <collection> [id]",
	Short:   "Queue a mutation against the local store",
	GroupID: "data",
	Long: `Queue a mutation. The write to the local mirror and the outbox entry
happen in one transaction, so the command always succeeds or leaves no
trace — connectivity is never consulted. Example:

  ftrace record create actors --data '{"name":"Ferme du Nord"}'
  ftrace record update transactions tx-8842 --data '{"quantity":120}'
  ftrace record delete documents loc-1f0c...`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		operation := args[0]
		collection := strings.ToLower(args[1])
		if !models.ValidOperation(operation) {
			return fmt.Errorf("unknown operation %q (want create, update or delete)", operation)
		}
		if !models.ValidEntityType(collection) {
			return fmt.Errorf("unknown collection %q (want one of %s)", collection, strings.Join(models.Collections, ", "))
		}

		var payload json.RawMessage
		if recordData != "" {
			if !json.Valid([]byte(recordData)) {
				return fmt.Errorf("--data is not valid JSON")
			}
			payload = json.RawMessage(recordData)
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

		switch operation {
		case models.OpCreate:
			e, _, err := database.CreateEntity(userID, collection, payload)
			if err != nil {
				return err
			}
			output.Success("%s %s queued for creation", collection, e.LocalID)

		case models.OpUpdate:
			if len(args) < 3 {
				return fmt.Errorf("update needs an entity id")
			}
			if _, err := database.UpdateEntity(userID, collection, args[2], payload); err != nil {
				return err
			}
			output.Success("%s %s update queued", collection, args[2])

		case models.OpDelete:
			if len(args) < 3 {
				return fmt.Errorf("delete needs an entity id")
			}
			if err := database.DeleteEntity(userID, collection, args[2]); err != nil {
				return err
			}
			output.Success("%s %s delete queued", collection, args[2])
		}

		count, err := database.OutboxCount(userID)
		if err == nil {
			fmt.Println(output.Subtle(fmt.Sprintf("outbox: %d pending", count)))
		}
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordData, "data", "", "entity payload as JSON")
	rootCmd.AddCommand(recordCmd)
}
