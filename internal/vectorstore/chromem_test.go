package vectorstore_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/coachrag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const letterDims = 26

// letterEmbedder embeds text as normalized letter frequencies, so texts
// sharing letters are close and disjoint texts are orthogonal.
type letterEmbedder struct {
	fail error
}

func (e *letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = letterVector(t)
	}
	return out, nil
}

func (e *letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	return letterVector(text), nil
}

func letterVector(text string) []float32 {
	v := make([]float32, letterDims)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}

func newChromem(t *testing.T, path string) *vectorstore.ChromemStore {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:           path,
		Collection:     "test_feedback",
		Dimension:      letterDims,
		RequiredFilter: "userId",
	}, &letterEmbedder{}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func doc(id, user, content string) vectorstore.Document {
	return vectorstore.Document{
		ID:       id,
		Content:  content,
		Metadata: map[string]interface{}{"userId": user, "chunkIndex": 0},
	}
}

func TestNewChromemStore_Validation(t *testing.T) {
	tests := []struct {
		name     string
		cfg      vectorstore.ChromemConfig
		embedder vectorstore.Embedder
		wantErr  error
	}{
		{
			name:    "nil embedder",
			cfg:     vectorstore.ChromemConfig{Collection: "ok", Dimension: 3},
			wantErr: vectorstore.ErrInvalidConfig,
		},
		{
			name:     "zero dimension",
			cfg:      vectorstore.ChromemConfig{Collection: "ok"},
			embedder: &letterEmbedder{},
			wantErr:  vectorstore.ErrInvalidConfig,
		},
		{
			name:     "bad collection",
			cfg:      vectorstore.ChromemConfig{Collection: "Bad-Name", Dimension: 3},
			embedder: &letterEmbedder{},
			wantErr:  vectorstore.ErrInvalidCollectionName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := vectorstore.NewChromemStore(tt.cfg, tt.embedder, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestChromemStore_UpsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	store := newChromem(t, "")

	n, err := store.Upsert(ctx, []vectorstore.Document{
		doc("user_u1#doc_1#chunk_0", "u1", "aaaa"),
		doc("user_u1#doc_1#chunk_1", "u1", "aabb"),
		doc("user_u2#doc_2#chunk_0", "u2", "aaaa"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := store.Search(ctx, "aaaa", 10, map[string]string{"userId": "u1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "user_u1#doc_1#chunk_0", results[0].ID)
	assert.Equal(t, "aaaa", results[0].Content)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	for _, r := range results {
		assert.Equal(t, "u1", r.MetadataString("userId"))
		assert.Equal(t, "0", r.MetadataString("chunkIndex"))
	}

	require.NoError(t, store.DeleteByID(ctx, "user_u1#doc_1#chunk_0"))
	require.NoError(t, store.DeleteByID(ctx, "user_u1#doc_1#chunk_0"), "deleting twice is a no-op")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, "chromem", stats.Provider)
	assert.Equal(t, letterDims, stats.Dimension)
}

func TestChromemStore_UpsertReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	store := newChromem(t, "")

	_, err := store.Upsert(ctx, []vectorstore.Document{doc("r1", "u1", "first")})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, []vectorstore.Document{doc("r1", "u1", "second")})
	require.NoError(t, err)

	results, err := store.Search(ctx, "second", 5, map[string]string{"userId": "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "second", results[0].Content)
}

func TestChromemStore_RequiredFilter(t *testing.T) {
	ctx := context.Background()
	store := newChromem(t, "")

	_, err := store.Search(ctx, "aaaa", 5, nil)
	assert.ErrorIs(t, err, vectorstore.ErrMissingFilter)

	_, err = store.QueryVector(ctx, letterVector("a"), 5, map[string]string{"userId": ""})
	assert.ErrorIs(t, err, vectorstore.ErrMissingFilter)
}

func TestChromemStore_QueryVectorCapsAtCount(t *testing.T) {
	ctx := context.Background()
	store := newChromem(t, "")

	var docs []vectorstore.Document
	for i := 0; i < 7; i++ {
		docs = append(docs, doc(fmt.Sprintf("user_u1#doc_1#chunk_%d", i), "u1", strings.Repeat("xyz", i+1)))
	}
	docs = append(docs, doc("user_u2#doc_9#chunk_0", "u2", "xyz"))
	_, err := store.Upsert(ctx, docs)
	require.NoError(t, err)

	uniform := make([]float32, letterDims)
	for i := range uniform {
		uniform[i] = float32(1 / math.Sqrt(letterDims))
	}

	results, err := store.QueryVector(ctx, uniform, 10000, map[string]string{"userId": "u1"})
	require.NoError(t, err)
	assert.Len(t, results, 7)
}

func TestChromemStore_QueryVectorEmptyCollection(t *testing.T) {
	store := newChromem(t, "")
	results, err := store.QueryVector(context.Background(), letterVector("a"), 5, map[string]string{"userId": "u1"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_DimensionMismatch(t *testing.T) {
	store := newChromem(t, "")
	_, err := store.QueryVector(context.Background(), []float32{1, 0}, 5, map[string]string{"userId": "u1"})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestChromemStore_EmbeddingFailure(t *testing.T) {
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Collection: "test_feedback",
		Dimension:  letterDims,
	}, &letterEmbedder{fail: errors.New("quota exceeded")}, nil)
	require.NoError(t, err)

	_, err = store.Upsert(context.Background(), []vectorstore.Document{doc("r1", "u1", "text")})
	assert.ErrorIs(t, err, vectorstore.ErrEmbeddingFailed)

	_, err = store.Upsert(context.Background(), nil)
	assert.ErrorIs(t, err, vectorstore.ErrEmptyDocuments)
}

func TestChromemStore_DeleteByIDs(t *testing.T) {
	ctx := context.Background()
	store := newChromem(t, "")

	_, err := store.Upsert(ctx, []vectorstore.Document{
		doc("a", "u1", "one"), doc("b", "u1", "two"), doc("c", "u1", "three"),
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteByIDs(ctx, []string{"a", "b", "missing"}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
}

func TestChromemStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := newChromem(t, dir)
	_, err := store.Upsert(ctx, []vectorstore.Document{doc("user_u1#doc_1#chunk_0", "u1", "persisted")})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened := newChromem(t, dir)
	results, err := reopened.Search(ctx, "persisted", 5, map[string]string{"userId": "u1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "user_u1#doc_1#chunk_0", results[0].ID)

	require.NoError(t, reopened.DeleteByID(ctx, "user_u1#doc_1#chunk_0"))
	require.NoError(t, reopened.DeleteByID(ctx, "user_u1#doc_1#chunk_0"))
}
