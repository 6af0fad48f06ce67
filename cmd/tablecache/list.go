package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

var (
	listLimit     int
	listPageToken string
	listFilter    string
	listSort      string
	listFields    string
)

var listCmd = &cobra.Command{
	Use:   "list <table>",
	Short: "List one page of records",
	Long: `List fetches one page of records from a table.

--filter is a JSON object of field values records must equal. --sort is a
comma-separated list of fields; prefix a field with "-" for descending order.

Example:
  tablecache list customers --limit 20
  tablecache list customers --filter '{"vip":true}' --sort -age,name
  tablecache list customers --page-token 20`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		query := types.QueryParams{
			Limit:     listLimit,
			PageToken: listPageToken,
			Sort:      listSort,
		}
		if listFilter != "" {
			if !json.Valid([]byte(listFilter)) {
				return usagef("invalid --filter %q: expected JSON", listFilter)
			}
			query.Filter = json.RawMessage(listFilter)
		}
		if listFields != "" {
			query.Fields = strings.Split(listFields, ",")
		}

		db, err := openDatabase(cmd.Context(), table)
		if err != nil {
			return err
		}
		page, err := db.FetchRecords(cmd.Context(), table, query)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(cmd.OutOrStdout(), page)
		}
		out := cmd.OutOrStdout()
		for _, rec := range page.Records {
			fmt.Fprintln(out, formatRecord(rec))
		}
		fmt.Fprintf(out, "%d of %d records", len(page.Records), page.Total)
		if page.NextPageToken != "" {
			fmt.Fprintf(out, ", next page: --page-token %s", page.NextPageToken)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", types.DefaultRefreshLimit, "records per page")
	listCmd.Flags().StringVar(&listPageToken, "page-token", "", "token of the page to fetch")
	listCmd.Flags().StringVar(&listFilter, "filter", "", "JSON object of field values to match")
	listCmd.Flags().StringVar(&listSort, "sort", "", "comma-separated sort fields, - for descending")
	listCmd.Flags().StringVar(&listFields, "fields", "", "comma-separated fields to return")
}
