package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/coachrag/internal/logging"
	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
)

type fakeSearcher struct {
	results []vectorstore.SearchResult
	err     error

	gotK      int
	gotFilter map[string]string
}

func (f *fakeSearcher) Search(_ context.Context, _ string, k int, filters map[string]string) ([]vectorstore.SearchResult, error) {
	f.gotK = k
	f.gotFilter = filters
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > k {
		return f.results[:k], nil
	}
	return f.results, nil
}

func match(id, user string, sim float32) vectorstore.SearchResult {
	return vectorstore.SearchResult{
		ID:       id,
		Content:  "content of " + id,
		Score:    sim,
		Metadata: map[string]interface{}{"userId": user},
	}
}

func TestSearch_ScoresByRank(t *testing.T) {
	store := &fakeSearcher{results: []vectorstore.SearchResult{
		match("a", "u1", 0.91), match("b", "u1", 0.90), match("c", "u1", 0.42), match("d", "u1", 0.10),
	}}
	svc := New(store, Config{}, nil)

	results, err := svc.Search(context.Background(), "u1", "how is my squat")
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, DefaultTopK, store.gotK)
	assert.Equal(t, map[string]string{"userId": "u1"}, store.gotFilter)

	wantScores := []float64{1, 0.75, 0.5, 0.25}
	for i, r := range results {
		assert.InDelta(t, wantScores[i], r.Score, 1e-9)
		assert.Equal(t, store.results[i].Score, r.RawScore)
		if i > 0 {
			assert.Less(t, r.Score, results[i-1].Score)
		}
	}
	assert.Equal(t, "content of a", results[0].Content)
}

func TestSearch_TopKCap(t *testing.T) {
	var many []vectorstore.SearchResult
	for i := 0; i < 50; i++ {
		many = append(many, match(fmt.Sprintf("r%d", i), "u1", 1-float32(i)/100))
	}
	svc := New(&fakeSearcher{results: many}, Config{TopK: 30}, nil)

	results, err := svc.Search(context.Background(), "u1", "q")
	require.NoError(t, err)
	assert.Len(t, results, 30)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Greater(t, results[29].Score, 0.0)
}

func TestSearch_DropsForeignRecords(t *testing.T) {
	logger := logging.NewTestLogger()
	store := &fakeSearcher{results: []vectorstore.SearchResult{
		match("a", "u1", 0.9), match("x", "u2", 0.8), match("b", "u1", 0.7),
	}}
	svc := New(store, Config{}, logger.Logger)

	results, err := svc.Search(context.Background(), "u1", "q")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, 0.5, results[1].Score)

	logger.AssertLogged(t, zapcore.ErrorLevel, "another user")
	logger.AssertField(t, "another user", "record_id", "x")
}

func TestSearch_NoMatches(t *testing.T) {
	svc := New(&fakeSearcher{}, Config{}, nil)

	results, err := svc.Search(context.Background(), "u1", "q")
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_InputErrors(t *testing.T) {
	svc := New(&fakeSearcher{}, Config{}, nil)

	_, err := svc.Search(context.Background(), "u1", "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.Search(context.Background(), "", "q")
	assert.Error(t, err)
}

func TestSearch_ProviderError(t *testing.T) {
	logger := logging.NewTestLogger()
	boom := errors.New("index unavailable")
	svc := New(&fakeSearcher{err: boom}, Config{}, logger.Logger)

	_, err := svc.Search(context.Background(), "u1", "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrProvider)
	assert.ErrorIs(t, err, boom)

	logger.AssertLogged(t, zapcore.ErrorLevel, "similarity search failed")
	logger.AssertField(t, "similarity search failed", "user.id", "u1")
}
