package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <table> <id>...",
	Short: "Delete records",
	Long: `Delete removes the given records. With several IDs nothing is deleted
unless every record exists.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		ids, err := parseRecordIDs(args[1:])
		if err != nil {
			return err
		}

		db, err := openDatabase(cmd.Context(), table)
		if err != nil {
			return err
		}
		if err := loadRecords(cmd.Context(), db, table, ids); err != nil {
			return err
		}
		if len(ids) == 1 {
			err = db.DeleteRecord(cmd.Context(), table, ids[0])
		} else {
			err = db.DeleteRecords(cmd.Context(), table, ids)
		}
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": ids})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d record(s)\n", len(ids))
		return nil
	},
}
