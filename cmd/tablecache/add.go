package main

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

var addCmd = &cobra.Command{
	Use:   "add <table> <json>...",
	Short: "Create records",
	Long: `Add creates one record per JSON object argument. Several objects are
created in one request.

Example:
  tablecache add customers '{"name":"Ada","age":36}'`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		fields := make([]types.Fields, 0, len(args)-1)
		for _, a := range args[1:] {
			f, err := parseFields(a)
			if err != nil {
				return err
			}
			fields = append(fields, f)
		}

		db, err := openDatabase(cmd.Context(), table)
		if err != nil {
			return err
		}
		var recs []types.Record
		if len(fields) == 1 {
			rec, err := db.AddRecord(cmd.Context(), table, fields[0])
			if err != nil {
				return err
			}
			recs = []types.Record{rec}
		} else if recs, err = db.AddRecords(cmd.Context(), table, fields); err != nil {
			return err
		}
		for _, rec := range recs {
			if err := printRecord(cmd, rec); err != nil {
				return err
			}
		}
		return nil
	},
}
