package types

import "encoding/json"

// Resource classes tracked by the loading flags and the request tracker.
const (
	ResourceRecords = "records"
	ResourceSchema  = "schema"
)

// Page size defaults. The first load of a table asks for a large page;
// manual refreshes and next-page fetches ask for small ones.
const (
	DefaultInitialLimit = 100
	DefaultRefreshLimit = 20
)

// QueryParams configures a record fetch. Filter and Sort are passed through
// to the server without interpretation. An empty PageToken asks for the
// first page.
type QueryParams struct {
	Limit     int             `json:"limit,omitempty"`
	PageToken string          `json:"page_token,omitempty"`
	Filter    json.RawMessage `json:"filter,omitempty"`
	Sort      string          `json:"sort,omitempty"`
	Fields    []string        `json:"fields,omitempty"`
}

// IsNextPage reports whether the query continues a previous fetch.
func (q QueryParams) IsNextPage() bool {
	return q.PageToken != ""
}

// WithDefaultLimit returns q with Limit set to limit when unset.
func (q QueryParams) WithDefaultLimit(limit int) QueryParams {
	if q.Limit <= 0 {
		q.Limit = limit
	}
	return q
}

// Page is one batch of records returned by a fetch.
type Page struct {
	TableID       string   `json:"table_id,omitempty"`
	Records       []Record `json:"records"`
	Total         int      `json:"total"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

// PingResult reports which table IDs the server recognizes.
type PingResult struct {
	AllValid      bool     `json:"all_valid"`
	ValidTables   []string `json:"valid_tables"`
	InvalidTables []string `json:"invalid_tables"`
}
