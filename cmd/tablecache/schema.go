package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema <table>",
	Short: "Print the fields of a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		db, err := openDatabase(cmd.Context(), table)
		if err != nil {
			return err
		}
		schema, err := db.FetchSchema(cmd.Context(), table)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), schema)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FIELD\tTYPE")
		for _, f := range schema.Fields {
			fmt.Fprintf(w, "%s\t%s\n", f.Name, f.Type)
		}
		return w.Flush()
	},
}
