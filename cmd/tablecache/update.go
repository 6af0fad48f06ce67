package main

import (
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update <table> <id> <json>",
	Short: "Update fields of a record",
	Long: `Update sets the fields named in the JSON object and leaves the others
unchanged.

Example:
  tablecache update customers 2 '{"name":"Beth"}'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		ids, err := parseRecordIDs(args[1:2])
		if err != nil {
			return err
		}
		fields, err := parseFields(args[2])
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
		rec, err := db.UpdateRecord(cmd.Context(), table, ids[0], fields)
		if err != nil {
			return err
		}
		return printRecord(cmd, rec)
	},
}
