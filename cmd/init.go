package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fieldtrace/ftrace/internal/db"
	"github.com/fieldtrace/ftrace/internal/output"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local data store in the current directory",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := db.Initialize(getBaseDir())
		if err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
		defer database.Close()

		output.Success("local store initialized in .ftrace/")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
