package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tablecache/pkg/tablecache"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// openDatabase opens a Database for the configured server and checks that
// table, when non-empty, is one of the configured tables.
func openDatabase(ctx context.Context, table string) (*tablecache.Database, error) {
	c, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	if table != "" {
		if _, ok := c.Tables[table]; !ok {
			return nil, fmt.Errorf("table %q is not configured (configured: %s): %w",
				table, strings.Join(c.TableNames(), ", "), types.ErrTableNotFound)
		}
	}
	return tablecache.Open(ctx, c, tablecache.WithLogger(logger))
}

// loadRecords caches records of table until every id is cached or there
// are no more pages.
func loadRecords(ctx context.Context, db *tablecache.Database, table string, ids []int64) error {
	query := types.QueryParams{Limit: maxLookupPage}
	for {
		page, err := db.FetchRecords(ctx, table, query)
		if err != nil {
			return err
		}
		tbl := db.GetTable(table)
		if !slices.ContainsFunc(ids, func(id int64) bool { return !tbl.HasRecord(id) }) {
			return nil
		}
		if page.NextPageToken == "" {
			return nil
		}
		query.PageToken = page.NextPageToken
	}
}

// maxLookupPage is the page size used when looking records up by ID.
const maxLookupPage = 1000

// parseFields decodes a JSON object of field values.
func parseFields(arg string) (types.Fields, error) {
	var f types.Fields
	if err := json.Unmarshal([]byte(arg), &f); err != nil {
		return nil, usagef("invalid fields %q: expected a JSON object", arg)
	}
	if f == nil {
		return nil, usagef("invalid fields %q: expected a JSON object", arg)
	}
	return f, nil
}

// parseRecordIDs parses positive record IDs.
func parseRecordIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, usagef("invalid record id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// printRecord writes one record as "id  field=value ..." with fields in
// name order, or as JSON with --json.
func printRecord(cmd *cobra.Command, rec types.Record) error {
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), rec)
	}
	fmt.Fprintln(cmd.OutOrStdout(), formatRecord(rec))
	return nil
}

func formatRecord(rec types.Record) string {
	names := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%d", rec.ID)
	for _, name := range names {
		v, err := json.Marshal(rec.Fields[name])
		if err != nil {
			v = []byte(fmt.Sprint(rec.Fields[name]))
		}
		fmt.Fprintf(&b, "  %s=%s", name, v)
	}
	return b.String()
}
