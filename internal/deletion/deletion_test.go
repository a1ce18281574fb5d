package deletion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/coachrag/internal/embeddings"
	"github.com/fyrsmithlabs/coachrag/internal/logging"
	"github.com/fyrsmithlabs/coachrag/internal/records"
	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
)

// memStore is a Store without optional capabilities.
type memStore struct {
	mu      sync.Mutex
	records map[string]string // id -> userId
	failIDs map[string]bool

	deleteCalls int
	inflight    int32
	maxInflight int32
	delay       time.Duration
}

func newMemStore() *memStore {
	return &memStore{records: map[string]string{}, failIDs: map[string]bool{}}
}

func (m *memStore) add(user string, n int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for i := 0; i < n; i++ {
		id := records.FormatID(user, "100", i)
		m.records[id] = user
		ids = append(ids, id)
	}
	return ids
}

func (m *memStore) idsOf(user string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, u := range m.records {
		if u == user {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *memStore) Upsert(context.Context, []vectorstore.Document) (int, error) { return 0, nil }

func (m *memStore) Search(context.Context, string, int, map[string]string) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (m *memStore) DeleteByID(_ context.Context, id string) error {
	cur := atomic.AddInt32(&m.inflight, 1)
	defer atomic.AddInt32(&m.inflight, -1)
	for {
		prev := atomic.LoadInt32(&m.maxInflight)
		if cur <= prev || atomic.CompareAndSwapInt32(&m.maxInflight, prev, cur) {
			break
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.failIDs[id] {
		return errors.New("delete rejected")
	}
	delete(m.records, id)
	return nil
}

func (m *memStore) Stats(context.Context) (*vectorstore.Stats, error) {
	return &vectorstore.Stats{Documents: len(m.records)}, nil
}

func (m *memStore) Close() error { return nil }

// listingStore pages through IDs with integer cursors.
type listingStore struct {
	*memStore
	extra      []string // IDs injected into the first page
	stuck      bool
	pageCalls  int
	gotFilters []map[string]string
}

func (l *listingStore) ListIDs(_ context.Context, filters map[string]string, cursor string, limit int) ([]string, string, error) {
	l.pageCalls++
	l.gotFilters = append(l.gotFilters, filters)
	ids := l.idsOf(filters[records.KeyUserID])

	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := min(start+limit, len(ids))
	page := append([]string(nil), ids[start:end]...)
	if start == 0 {
		page = append(page, l.extra...)
	}

	if end >= len(ids) {
		return page, "", nil
	}
	if l.stuck {
		return page, "1", nil
	}
	return page, strconv.Itoa(end), nil
}

// queryStore answers neutral-vector queries.
type queryStore struct {
	*memStore
	dim     int
	foreign bool
}

func (q *queryStore) QueryVector(_ context.Context, vector []float32, k int, filters map[string]string) ([]vectorstore.SearchResult, error) {
	if len(vector) != q.dim {
		return nil, vectorstore.ErrDimensionMismatch
	}
	user := filters[records.KeyUserID]
	var out []vectorstore.SearchResult
	for _, id := range q.idsOf(user) {
		out = append(out, vectorstore.SearchResult{ID: id, Metadata: map[string]interface{}{"userId": user}})
	}
	if q.foreign {
		out = append(out, vectorstore.SearchResult{ID: "user_u2#doc_1#chunk_0", Metadata: map[string]interface{}{"userId": "u2"}})
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (q *queryStore) Dimension() int { return q.dim }

// batchStore adds bulk deletes to a listing store.
type batchStore struct {
	*listingStore
	failBatches int
	batchSizes  []int
}

func (b *batchStore) DeleteByIDs(ctx context.Context, ids []string) error {
	b.batchSizes = append(b.batchSizes, len(ids))
	if b.failBatches > 0 {
		b.failBatches--
		return errors.New("bulk delete unavailable")
	}
	for _, id := range ids {
		if err := b.memStore.DeleteByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func TestDeleteAll_CursorListingExhaustsPages(t *testing.T) {
	base := newMemStore()
	base.add("u1", 25)
	base.add("u2", 5)
	store := &listingStore{memStore: base}

	svc := New(store, Config{PageSize: 10}, nil)
	report, err := svc.DeleteAll(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, StrategyCursor, report.Strategy)
	assert.Equal(t, 25, report.Total)
	assert.Equal(t, 25, report.Deleted)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 3, store.pageCalls)
	for _, f := range store.gotFilters {
		assert.Equal(t, map[string]string{"userId": "u1"}, f)
	}

	assert.Empty(t, base.idsOf("u1"))
	assert.Len(t, base.idsOf("u2"), 5)
}

func TestDeleteAll_CursorSkipsForeignIDs(t *testing.T) {
	logger := logging.NewTestLogger()
	base := newMemStore()
	base.add("u1", 3)
	base.add("u10", 2)
	store := &listingStore{memStore: base, extra: []string{
		records.FormatID("u10", "100", 0),
		"not-a-record-id",
	}}

	report, err := New(store, Config{}, logger.Logger).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Len(t, base.idsOf("u10"), 2)

	logger.AssertLogged(t, zapcore.ErrorLevel, "outside user prefix")
}

func TestDeleteAll_PaginationStalled(t *testing.T) {
	base := newMemStore()
	base.add("u1", 30)
	store := &listingStore{memStore: base, stuck: true}

	report, err := New(store, Config{PageSize: 10}, nil).DeleteAll(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrPaginationStalled)
	assert.False(t, report.Success)
	assert.Len(t, base.idsOf("u1"), 30, "nothing deleted after a stalled listing")
}

func TestDeleteAll_VectorQuery(t *testing.T) {
	base := newMemStore()
	base.add("u1", 4)
	base.add("u2", 2)
	store := &queryStore{memStore: base, dim: 8}

	report, err := New(store, Config{}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, StrategyVectorQuery, report.Strategy)
	assert.Equal(t, 4, report.Deleted)
	assert.False(t, report.Truncated)
	assert.Len(t, base.idsOf("u2"), 2)
}

func TestDeleteAll_VectorQueryDropsForeign(t *testing.T) {
	logger := logging.NewTestLogger()
	base := newMemStore()
	base.add("u1", 2)
	ids2 := base.add("u2", 1)
	store := &queryStore{memStore: base, dim: 4, foreign: true}

	report, err := New(store, Config{}, logger.Logger).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, ids2, base.idsOf("u2"))
	logger.AssertLogged(t, zapcore.ErrorLevel, "another user")
}

func TestDeleteAll_VectorQueryRepeatsPastLimit(t *testing.T) {
	base := newMemStore()
	base.add("u1", 12)
	base.add("u2", 3)
	store := &queryStore{memStore: base, dim: 4}

	before := testutil.ToFloat64(TruncatedTotal)
	report, err := New(store, Config{EnumerationLimit: 5}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.False(t, report.Truncated)
	assert.Equal(t, 12, report.Total)
	assert.Equal(t, 12, report.Deleted)
	assert.Empty(t, report.Failed)
	assert.Empty(t, base.idsOf("u1"))
	assert.Len(t, base.idsOf("u2"), 3)
	assert.Equal(t, before, testutil.ToFloat64(TruncatedTotal))
}

func TestDeleteAll_VectorQueryNeverRetriesFailures(t *testing.T) {
	base := newMemStore()
	ids := base.add("u1", 12)
	base.failIDs[ids[0]] = true
	store := &queryStore{memStore: base, dim: 4}

	report, err := New(store, Config{EnumerationLimit: 10}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.False(t, report.Truncated)
	assert.Equal(t, 12, report.Total)
	assert.Equal(t, 11, report.Deleted)
	assert.Equal(t, []string{ids[0]}, report.Failed)
	assert.Equal(t, 12, base.deleteCalls)
	assert.Equal(t, []string{ids[0]}, base.idsOf("u1"))
}

func TestDeleteAll_VectorQueryTruncatedWithoutProgress(t *testing.T) {
	logger := logging.NewTestLogger()
	base := newMemStore()
	for _, id := range base.add("u1", 12) {
		base.failIDs[id] = true
	}
	store := &queryStore{memStore: base, dim: 4}

	before := testutil.ToFloat64(TruncatedTotal)
	report, err := New(store, Config{EnumerationLimit: 10}, logger.Logger).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.True(t, report.Truncated)
	assert.Equal(t, 10, report.Total)
	assert.Zero(t, report.Deleted)
	assert.Len(t, report.Failed, 10)
	assert.Len(t, base.idsOf("u1"), 12)
	assert.Equal(t, before+1, testutil.ToFloat64(TruncatedTotal))
	logger.AssertLogged(t, zapcore.WarnLevel, "enumeration reached limit")
	logger.AssertField(t, "enumeration reached limit", "limit", int64(10))
}

func TestDeleteAll_TracesEachDelete(t *testing.T) {
	logger := logging.NewTestLogger()
	base := newMemStore()
	ids := base.add("u1", 2)
	store := &listingStore{memStore: base}

	_, err := New(store, Config{}, logger.Logger).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)

	logger.AssertLogged(t, logging.TraceLevel, "deleted record")
	logger.AssertField(t, "deleted record", "record_id", ids[1])
}

func TestDeleteAll_Unsupported(t *testing.T) {
	_, err := New(newMemStore(), Config{}, nil).DeleteAll(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrEnumerationUnsupported)
}

func TestDeleteAll_NoRecordsIsSuccess(t *testing.T) {
	store := &listingStore{memStore: newMemStore()}

	report, err := New(store, Config{}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Zero(t, report.Total)
	assert.Zero(t, report.Deleted)
}

func TestDeleteAll_PartialFailureTolerance(t *testing.T) {
	base := newMemStore()
	ids := base.add("u1", 10)
	base.failIDs[ids[2]] = true
	base.failIDs[ids[7]] = true
	store := &listingStore{memStore: base}

	report, err := New(store, Config{}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, 10, report.Total)
	assert.Equal(t, 8, report.Deleted)
	want := []string{ids[2], ids[7]}
	sort.Strings(want)
	assert.Equal(t, want, report.Failed)
	assert.Equal(t, 10, base.deleteCalls, "failures do not abort or retry")
}

func TestDeleteAll_BatchDeleter(t *testing.T) {
	base := newMemStore()
	base.add("u1", 25)
	store := &batchStore{listingStore: &listingStore{memStore: base}}

	report, err := New(store, Config{BatchSize: 10}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 25, report.Deleted)
	assert.Equal(t, []int{10, 10, 5}, store.batchSizes)
	assert.Empty(t, base.idsOf("u1"))
}

func TestDeleteAll_BatchFailureFallsBackPerID(t *testing.T) {
	base := newMemStore()
	ids := base.add("u1", 6)
	base.failIDs[ids[1]] = true
	store := &batchStore{listingStore: &listingStore{memStore: base}, failBatches: 1}

	report, err := New(store, Config{BatchSize: 3}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 5, report.Deleted)
	assert.Equal(t, []string{ids[1]}, report.Failed)
	assert.Equal(t, []string{ids[1]}, base.idsOf("u1"))
}

func TestDeleteAll_WorkerPoolBounded(t *testing.T) {
	base := newMemStore()
	base.add("u1", 40)
	base.delay = 2 * time.Millisecond
	store := &listingStore{memStore: base}

	report, err := New(store, Config{Workers: 4}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, report.Deleted)
	assert.LessOrEqual(t, atomic.LoadInt32(&base.maxInflight), int32(4))
	assert.Greater(t, atomic.LoadInt32(&base.maxInflight), int32(1))
}

func TestDeleteAll_SequentialByDefault(t *testing.T) {
	base := newMemStore()
	base.add("u1", 10)
	base.delay = time.Millisecond
	store := &listingStore{memStore: base}

	_, err := New(store, Config{}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&base.maxInflight))
}

func TestDeleteAll_ContextCancelled(t *testing.T) {
	base := newMemStore()
	base.add("u1", 5)
	store := &cancelingStore{listingStore: &listingStore{memStore: base}, after: 2}
	ctx, cancel := context.WithCancel(context.Background())
	store.cancel = cancel

	report, err := New(store, Config{}, nil).DeleteAll(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, report.Success)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 2, report.Deleted)
	assert.Len(t, report.Failed, 3)
}

// cancelingStore cancels the run after a number of successful deletes.
type cancelingStore struct {
	*listingStore
	after  int
	cancel context.CancelFunc
}

func (c *cancelingStore) DeleteByID(ctx context.Context, id string) error {
	if err := c.memStore.DeleteByID(ctx, id); err != nil {
		return err
	}
	c.after--
	if c.after == 0 {
		c.cancel()
	}
	return nil
}

func TestDeleteAll_RateLimited(t *testing.T) {
	base := newMemStore()
	base.add("u1", 7)
	store := &listingStore{memStore: base}

	// A burst of 5 covers the first five deletes; the last two wait 200ms each.
	start := time.Now()
	report, err := New(store, Config{RatePerSecond: 5}, nil).DeleteAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, report.Deleted)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestDeleteAll_InvalidUser(t *testing.T) {
	_, err := New(newMemStore(), Config{}, nil).DeleteAll(context.Background(), "")
	assert.ErrorIs(t, err, records.ErrMissingUserID)
}

func TestDeleteAll_ChromemEndToEnd(t *testing.T) {
	ctx := context.Background()
	embedder, err := embeddings.NewHashProvider(32)
	require.NoError(t, err)
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Collection:     "deletion_test",
		Dimension:      32,
		RequiredFilter: records.KeyUserID,
	}, embedder, nil)
	require.NoError(t, err)

	enricher := records.NewEnricher(nil)
	for _, user := range []string{"u1", "u2"} {
		var chunks []string
		for i := 0; i < 6; i++ {
			chunks = append(chunks, fmt.Sprintf("%s feedback note %d", user, i))
		}
		docs, err := enricher.Enrich(chunks, records.DocumentMetadata{UserID: user})
		require.NoError(t, err)
		_, err = store.Upsert(ctx, docs)
		require.NoError(t, err)
	}

	report, err := New(store, Config{}, nil).DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, StrategyVectorQuery, report.Strategy)
	assert.Equal(t, 6, report.Deleted)

	remaining, err := store.Search(ctx, "feedback note", 50, map[string]string{"userId": "u1"})
	require.NoError(t, err)
	assert.Empty(t, remaining)

	others, err := store.Search(ctx, "feedback note", 50, map[string]string{"userId": "u2"})
	require.NoError(t, err)
	assert.Len(t, others, 6)
	for _, r := range others {
		assert.True(t, strings.HasPrefix(r.ID, "user_u2#"))
	}
}
