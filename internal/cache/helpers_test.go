package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tablecache/internal/apitest"
	"github.com/mesh-intelligence/tablecache/internal/store"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

const (
	customersID = "0190f3e4-7b2a-7c4d-9e1f-2a3b4c5d6e7f"
	waitFor     = 2 * time.Second
	tick        = time.Millisecond
)

var (
	customerSchema = types.Schema{Fields: []types.Field{
		{Name: "name", Type: types.FieldText},
		{Name: "age", Type: types.FieldNumber},
	}}
	errOffline = fmt.Errorf("%w: connection refused", types.ErrNetwork)
)

func makeRecords(from, to int) []types.Record {
	out := make([]types.Record, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, types.Record{ID: int64(i), Fields: types.Fields{"name": fmt.Sprintf("c-%d", i), "age": float64(20 + i)}})
	}
	return out
}

// counterIDs returns a deterministic temp ID generator: -1, -2, -3, ...
func counterIDs() TempIDFunc {
	var n atomic.Int64
	return func() int64 { return -n.Add(1) }
}

// newTestManager returns a Manager over a fake API holding n customer
// records. The store knows the customers table but has fetched nothing.
func newTestManager(t *testing.T, n int) (*Manager, *apitest.Fake) {
	t.Helper()
	api := apitest.New()
	var records []types.Record
	if n > 0 {
		records = makeRecords(1, n)
	}
	api.AddTable(customersID, customerSchema, records...)

	s := store.New()
	s.Dispatch(store.InitializeTables{Tables: map[string]string{"customers": customersID}})
	m := New(s, api,
		WithTempIDGenerator(counterIDs()),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
	return m, api
}

// newLoadedManager is newTestManager with the records already fetched.
func newLoadedManager(t *testing.T, n int) (*Manager, *apitest.Fake) {
	t.Helper()
	m, api := newTestManager(t, n)
	_, err := m.FetchRecords(context.Background(), "customers", types.QueryParams{})
	require.NoError(t, err)
	return m, api
}

func table(m *Manager) *types.Table {
	return store.SelectTable(m.Store().State(), "customers")
}

func recordIDs(records []types.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
