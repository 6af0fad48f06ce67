package hook

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tablecache/internal/apitest"
	"github.com/mesh-intelligence/tablecache/internal/cache"
	"github.com/mesh-intelligence/tablecache/internal/inflight"
	"github.com/mesh-intelligence/tablecache/internal/store"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

const (
	customersID = "0190f3e4-7b2a-7c4d-9e1f-2a3b4c5d6e7f"
	waitFor     = 2 * time.Second
	tick        = time.Millisecond
)

type fixture struct {
	api     *apitest.Fake
	mgr     *cache.Manager
	tracker *inflight.Tracker
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	api := apitest.New()
	records := make([]types.Record, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, types.Record{ID: int64(i), Fields: types.Fields{"name": fmt.Sprintf("c-%d", i)}})
	}
	api.AddTable(customersID, types.Schema{Fields: []types.Field{{Name: "name", Type: types.FieldText}}}, records...)

	s := store.New()
	s.Dispatch(store.InitializeTables{Tables: map[string]string{"customers": customersID}})
	return &fixture{api: api, mgr: cache.New(s, api), tracker: inflight.New()}
}

func (f *fixture) handle(opts ...Option) *Handle {
	return New("customers", f.mgr, f.tracker, opts...)
}

func TestLoad(t *testing.T) {
	f := newFixture(t, 3)
	h := f.handle()

	require.NoError(t, h.Load(context.Background()))
	assert.NotNil(t, h.Schema())
	assert.Len(t, h.Records(), 3)
	assert.True(t, h.Table().Initialized)

	require.NoError(t, h.Load(context.Background()))
	assert.Equal(t, 1, f.api.Calls(apitest.OpFetchSchema))
	assert.Equal(t, 1, f.api.Calls(apitest.OpFetchRecords))
}

func TestLoad_ConcurrentCallsShareOneRequest(t *testing.T) {
	f := newFixture(t, 3)
	release := f.api.Block(apitest.OpFetchSchema)

	var wg sync.WaitGroup
	load := func(h *Handle) {
		defer wg.Done()
		assert.NoError(t, h.Load(context.Background()))
	}
	wg.Add(1)
	go load(f.handle())
	require.Eventually(t, func() bool { return f.api.Calls(apitest.OpFetchSchema) == 1 }, waitFor, tick)
	assert.True(t, f.tracker.InProgress(inflight.Key(types.ResourceSchema, "customers")))

	wg.Add(1)
	go load(f.handle())
	release()
	wg.Wait()

	assert.Equal(t, 1, f.api.Calls(apitest.OpFetchSchema))
	assert.Equal(t, 1, f.api.Calls(apitest.OpFetchRecords))
	assert.NotNil(t, f.handle().Schema())
}

func TestLoad_SkippedWhileSharedErrorSet(t *testing.T) {
	f := newFixture(t, 3)
	f.mgr.Store().Dispatch(store.SetError{Message: "server down"})
	h := f.handle()

	require.NoError(t, h.Load(context.Background()))
	assert.Equal(t, 0, f.api.TotalCalls())
	assert.Equal(t, "server down", h.Error())

	f.mgr.ClearError()
	require.NoError(t, h.Load(context.Background()))
	assert.Equal(t, 1, f.api.Calls(apitest.OpFetchRecords))
}

func TestLoad_FailureTripsSharedError(t *testing.T) {
	f := newFixture(t, 3)
	f.api.Fail(apitest.OpFetchRecords, fmt.Errorf("%w: offline", types.ErrNetwork))
	h := f.handle()

	err := h.Load(context.Background())
	assert.ErrorIs(t, err, types.ErrNetwork)
	assert.NotEmpty(t, h.Error())

	require.NoError(t, h.Load(context.Background()))
	assert.Equal(t, 1, f.api.Calls(apitest.OpFetchRecords), "no retry storm")
}

func TestLoad_SchemaSuccessKeepsRecordsError(t *testing.T) {
	f := newFixture(t, 3)
	f.api.Fail(apitest.OpFetchRecords, fmt.Errorf("%w: offline", types.ErrNetwork))
	release := f.api.Block(apitest.OpFetchSchema)
	defer release()
	h := f.handle()

	done := make(chan error, 1)
	go func() { done <- h.Load(context.Background()) }()
	require.Eventually(t, func() bool { return h.Error() != "" }, waitFor, tick)

	release()
	assert.ErrorIs(t, <-done, types.ErrNetwork)
	require.NotNil(t, h.Schema())
	assert.NotEmpty(t, h.Error(), "schema store must not clear the records error")

	for range 3 {
		require.NoError(t, h.Load(context.Background()))
	}
	assert.Equal(t, 1, f.api.Calls(apitest.OpFetchRecords))
}

func TestLoad_InitialQuery(t *testing.T) {
	f := newFixture(t, 0)
	var limits []int
	var mu sync.Mutex
	f.api.FetchRecordsFunc = func(id string, q types.QueryParams) (types.Page, error) {
		mu.Lock()
		limits = append(limits, q.Limit)
		mu.Unlock()
		return types.Page{Records: []types.Record{}, NextPageToken: "next"}, nil
	}

	require.NoError(t, f.handle().Load(context.Background()))
	f.mgr.ClearTable("customers")
	h := f.handle(WithInitialQuery(types.QueryParams{Limit: 5, PageToken: "ignored"}))
	require.NoError(t, h.Load(context.Background()))

	assert.Equal(t, []int{types.DefaultInitialLimit, 5}, limits)
	assert.Equal(t, "next", h.NextPageToken())
}

func TestRefreshAndFetchNextPage(t *testing.T) {
	f := newFixture(t, 30)
	h := f.handle()
	ctx := context.Background()

	require.NoError(t, h.Refresh(ctx, types.QueryParams{}, nil))
	assert.Len(t, h.Records(), types.DefaultRefreshLimit)
	assert.NotEmpty(t, h.NextPageToken())

	require.NoError(t, h.FetchNextPage(ctx, nil))
	assert.Len(t, h.Records(), 30)
	assert.Empty(t, h.NextPageToken())

	require.NoError(t, h.FetchNextPage(ctx, nil))
	assert.Equal(t, 2, f.api.Calls(apitest.OpFetchRecords), "no page left to fetch")
}

func TestRefresh_ErrorCallsOnError(t *testing.T) {
	f := newFixture(t, 3)
	f.api.Fail(apitest.OpFetchRecords, &types.RemoteError{Op: "fetch records", StatusCode: 502})
	var got error

	err := f.handle().Refresh(context.Background(), types.QueryParams{}, func(err error) { got = err })
	assert.ErrorIs(t, err, types.ErrServer)
	assert.Equal(t, err, got)
}

func TestRefresh_SkippedWhileRecordsLoading(t *testing.T) {
	f := newFixture(t, 3)
	release := f.api.Block(apitest.OpFetchRecords)
	h := f.handle()

	done := make(chan error, 1)
	go func() { done <- h.Load(context.Background()) }()
	require.Eventually(t, func() bool { return f.api.Calls(apitest.OpFetchRecords) == 1 }, waitFor, tick)
	require.Eventually(t, h.IsLoading, waitFor, tick)

	require.NoError(t, h.Refresh(context.Background(), types.QueryParams{}, nil))
	assert.Equal(t, 1, f.api.Calls(apitest.OpFetchRecords))

	release()
	require.NoError(t, <-done)
	assert.False(t, h.IsLoading())
}

func TestClose_SkipsLocalStateButStoreStillUpdates(t *testing.T) {
	f := newFixture(t, 30)
	release := f.api.Block(apitest.OpFetchRecords)
	h := f.handle()

	done := make(chan error, 1)
	go func() { done <- h.Refresh(context.Background(), types.QueryParams{}, nil) }()
	require.Eventually(t, func() bool { return f.api.Calls(apitest.OpFetchRecords) == 1 }, waitFor, tick)

	h.Close()
	assert.False(t, h.Mounted())
	release()
	require.NoError(t, <-done)

	assert.Empty(t, h.NextPageToken(), "closed handle keeps its local state")
	assert.Len(t, h.Records(), types.DefaultRefreshLimit, "store received the page")
	assert.NotEmpty(t, h.Table().NextPageToken)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, 2)
	h := f.handle()

	var mu sync.Mutex
	var seen []int
	h.Subscribe(func(tbl *types.Table) {
		mu.Lock()
		seen = append(seen, len(tbl.Records))
		mu.Unlock()
	})

	require.NoError(t, h.Load(context.Background()))
	mu.Lock()
	count := len(seen)
	assert.Contains(t, seen, 2)
	mu.Unlock()
	assert.Positive(t, count)

	h.Close()
	_, err := f.mgr.AddRecord(context.Background(), "customers", types.Fields{"name": "new"})
	require.NoError(t, err)
	mu.Lock()
	assert.Len(t, seen, count, "no calls after Close")
	mu.Unlock()

	unsub := h.Subscribe(func(*types.Table) { t.Fatal("subscribed after Close") })
	unsub()
}

func TestMutationsDelegate(t *testing.T) {
	f := newFixture(t, 2)
	h := f.handle()
	ctx := context.Background()
	require.NoError(t, h.Load(ctx))

	rec, err := h.AddRecord(ctx, types.Fields{"name": "Ann"})
	require.NoError(t, err)
	_, err = h.UpdateRecord(ctx, rec.ID, types.Fields{"name": "Anne"})
	require.NoError(t, err)
	recs, err := h.AddRecords(ctx, []types.Fields{{"name": "X"}, {"name": "Y"}})
	require.NoError(t, err)
	require.NoError(t, h.DeleteRecords(ctx, []int64{recs[0].ID, recs[1].ID}))
	require.NoError(t, h.DeleteRecord(ctx, 1))

	got := h.Table()
	require.Len(t, got.Records, 2)
	assert.Equal(t, int64(2), got.Records[0].ID)
	assert.Equal(t, "Anne", got.Records[1].Fields["name"])
	assert.Equal(t, 2, got.Total)

	err = h.DeleteRecord(ctx, 999)
	assert.ErrorIs(t, err, types.ErrNotFound)
}
