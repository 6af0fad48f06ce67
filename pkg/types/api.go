package types

import (
	"context"
	"fmt"
)

// API is the remote tabular-data service the cache reads from and writes to.
// Implementations must be safe for concurrent use.
type API interface {
	// FetchSchema returns the field definitions of a table.
	FetchSchema(ctx context.Context, tableID string) (Schema, error)

	// FetchRecords returns one page of records.
	FetchRecords(ctx context.Context, tableID string, query QueryParams) (Page, error)

	// CreateRecord creates one record and returns it with its server ID.
	CreateRecord(ctx context.Context, tableID string, fields Fields) (Record, error)

	// CreateRecords creates records in order and returns them with their
	// server IDs, in the same order.
	CreateRecords(ctx context.Context, tableID string, fields []Fields) ([]Record, error)

	// UpdateRecord applies a partial update and returns the updated record.
	UpdateRecord(ctx context.Context, tableID string, recordID int64, fields Fields) (Record, error)

	// DeleteRecord removes one record.
	DeleteRecord(ctx context.Context, tableID string, recordID int64) error

	// DeleteRecords removes several records in one call.
	DeleteRecords(ctx context.Context, tableID string, recordIDs []int64) error

	// Ping reports which of the given table IDs exist.
	Ping(ctx context.Context, tableIDs []string) (PingResult, error)
}

// RemoteError is returned for non-2xx responses. It matches ErrServer under
// errors.Is.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: server returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Is reports whether target is ErrServer.
func (e *RemoteError) Is(target error) bool {
	return target == ErrServer
}
