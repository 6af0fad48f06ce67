// Package remote implements types.API over the tabular HTTP JSON API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// Ensure Client implements types.API at compile time.
var _ types.API = (*Client)(nil)

// RequestEditor adjusts an outgoing request, typically to add credentials.
type RequestEditor func(*http.Request)

// Client talks to the tabular API rooted at a base URL. The base URL may
// carry a path prefix; endpoint paths are joined below it.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	token     string
	editors   []RequestEditor
	retry     RetryPolicy
	logger    *slog.Logger
}

const (
	defaultUserAgent = "tablecache/0.1"
	requestTimeout   = 30 * time.Second
	maxErrorBody     = 4 << 10
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithRequestEditor adds an editor run on every request before it is sent.
func WithRequestEditor(fn RequestEditor) Option {
	return func(c *Client) { c.editors = append(c.editors, fn) }
}

// WithRetry sets the retry policy for record queries.
func WithRetry(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a Client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: requestTimeout},
		userAgent: defaultUserAgent,
		retry:     DefaultRetryPolicy(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchSchema retrieves a table's field definitions.
func (c *Client) FetchSchema(ctx context.Context, tableID string) (types.Schema, error) {
	var schema types.Schema
	err := c.do(ctx, "fetch schema", http.MethodGet, c.endpoint(nil, "tables", tableID, "schema"), nil, &schema)
	if err != nil {
		return types.Schema{}, err
	}
	return schema, nil
}

// FetchRecords retrieves one page of records. Failed attempts are retried
// according to the client's RetryPolicy.
func (c *Client) FetchRecords(ctx context.Context, tableID string, query types.QueryParams) (types.Page, error) {
	values := url.Values{}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.PageToken != "" {
		values.Set("pageToken", query.PageToken)
	}
	if len(query.Filter) > 0 {
		values.Set("filter", string(query.Filter))
	}
	if sort := strings.TrimSpace(query.Sort); sort != "" {
		values.Set("sort", sort)
	}
	if len(query.Fields) > 0 {
		values.Set("fields", strings.Join(query.Fields, ","))
	}
	u := c.endpoint(values, "tables", tableID, "records")

	var page types.Page
	err := c.retry.run(ctx, c.logger, "fetch records", func() error {
		page = types.Page{}
		return c.do(ctx, "fetch records", http.MethodGet, u, nil, &page)
	})
	if err != nil {
		return types.Page{}, err
	}
	page.TableID = tableID
	if page.Records == nil {
		page.Records = []types.Record{}
	}
	return page, nil
}

// CreateRecord creates one record.
func (c *Client) CreateRecord(ctx context.Context, tableID string, fields types.Fields) (types.Record, error) {
	var rec types.Record
	err := c.do(ctx, "create record", http.MethodPost, c.endpoint(nil, "tables", tableID, "records"), fields, &rec)
	if err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

// CreateRecords creates several records in one call.
func (c *Client) CreateRecords(ctx context.Context, tableID string, fields []types.Fields) ([]types.Record, error) {
	var recs []types.Record
	err := c.do(ctx, "create records", http.MethodPost, c.endpoint(nil, "tables", tableID, "records", "batch"), fields, &recs)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// UpdateRecord applies a partial update.
func (c *Client) UpdateRecord(ctx context.Context, tableID string, recordID int64, fields types.Fields) (types.Record, error) {
	var rec types.Record
	u := c.endpoint(nil, "tables", tableID, "records", strconv.FormatInt(recordID, 10))
	if err := c.do(ctx, "update record", http.MethodPatch, u, fields, &rec); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

// DeleteRecord removes one record.
func (c *Client) DeleteRecord(ctx context.Context, tableID string, recordID int64) error {
	u := c.endpoint(nil, "tables", tableID, "records", strconv.FormatInt(recordID, 10))
	return c.do(ctx, "delete record", http.MethodDelete, u, nil, nil)
}

// DeleteRecords removes several records in one call.
func (c *Client) DeleteRecords(ctx context.Context, tableID string, recordIDs []int64) error {
	u := c.endpoint(nil, "tables", tableID, "records", "batch")
	return c.do(ctx, "delete records", http.MethodDelete, u, recordIDs, nil)
}

// Ping asks the server which of the given table IDs exist.
func (c *Client) Ping(ctx context.Context, tableIDs []string) (types.PingResult, error) {
	values := url.Values{}
	values.Set("table_ids", strings.Join(tableIDs, ","))
	var res types.PingResult
	if err := c.do(ctx, "ping tables", http.MethodGet, c.endpoint(values, "tables", "ping"), nil, &res); err != nil {
		return types.PingResult{}, err
	}
	return res, nil
}

func (c *Client) endpoint(values url.Values, elem ...string) *url.URL {
	u := c.baseURL.JoinPath(elem...)
	if len(values) > 0 {
		u.RawQuery = values.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, op, method string, u *url.URL, body, dest any) error {
	if c == nil {
		return errors.New("remote client is nil")
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for _, edit := range c.editors {
		edit(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, types.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &types.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%s: decode response: %w: %w", op, types.ErrServer, err)
	}
	return nil
}

// readErrorMessage extracts {"error": "..."} from an error body, falling
// back to the trimmed body text.
func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: base URL is empty", types.ErrValidation)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: parse base URL %q: %v", types.ErrValidation, raw, err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
