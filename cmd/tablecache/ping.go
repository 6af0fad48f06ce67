package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the server knows every configured table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd.Context(), "")
		if err != nil {
			return err
		}
		names := db.TableNames()
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), map[string]any{"ok": true, "tables": names})
		}
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tok\n", name, db.GetTable(name).ID)
		}
		return nil
	},
}
