package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashProvider_Deterministic(t *testing.T) {
	p, err := NewHashProvider(64)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := p.EmbedQuery(ctx, "Keep your elbows tucked on the bench press")
	require.NoError(t, err)
	b, err := p.EmbedQuery(ctx, "keep your ELBOWS tucked on the bench press!")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b, "case and punctuation do not change the vector")
}

func TestHashProvider_UnitNorm(t *testing.T) {
	p, err := NewHashProvider(32)
	require.NoError(t, err)

	for _, text := range []string{"one", "a longer sentence with several words", "???"} {
		v, err := p.EmbedQuery(context.Background(), text)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, math.Sqrt(cosine(v, v)), 1e-5, text)
	}
}

func TestHashProvider_Similarity(t *testing.T) {
	p, err := NewHashProvider(256)
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(context.Background(), []string{
		"squat depth was good today",
		"squat depth needs work",
		"remember to hydrate before the long run",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.Greater(t, cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2]))
}

func TestHashProvider_Errors(t *testing.T) {
	_, err := NewHashProvider(0)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	p, err := NewHashProvider(8)
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.EmbedDocuments(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
