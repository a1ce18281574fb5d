package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSplitter(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := New(Config{ChunkSize: size, ChunkOverlap: overlap})
	require.NoError(t, err)
	return s
}

func assertCoverage(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	var b strings.Builder
	for _, c := range chunks {
		assert.Equal(t, text[c.Start:c.End], c.Text)
		b.WriteString(c.Core())
	}
	assert.Equal(t, text, b.String(), "chunk cores must reassemble the input")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default", cfg: DefaultConfig()},
		{name: "zero overlap", cfg: Config{ChunkSize: 10, ChunkOverlap: 0}},
		{name: "zero size", cfg: Config{ChunkSize: 0}, wantErr: true},
		{name: "negative overlap", cfg: Config{ChunkSize: 10, ChunkOverlap: -1}, wantErr: true},
		{name: "overlap equals size", cfg: Config{ChunkSize: 10, ChunkOverlap: 10}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplit_EmptyAndShort(t *testing.T) {
	s := newSplitter(t, 500, 100)

	assert.Empty(t, s.Split(""))

	short := "Great session today. Work on your backswing."
	assert.Equal(t, []string{short}, s.Split(short))

	exact := strings.Repeat("a", 500)
	assert.Equal(t, []string{exact}, s.Split(exact))
}

func TestSplit_1200CharsIntoThreeChunks(t *testing.T) {
	s := newSplitter(t, 500, 100)
	text := strings.Repeat("word ", 240)
	require.Equal(t, 1200, len(text))

	chunks := s.SplitWithOffsets(text)
	require.Len(t, chunks, 3)

	assert.Equal(t, 500, len(chunks[0].Text))
	assert.Equal(t, 0, chunks[0].Overlap)
	assert.Equal(t, 100, chunks[1].Overlap)
	assert.Equal(t, 100, chunks[2].Overlap)
	assertCoverage(t, text, chunks)
}

func TestSplit_SizeAndOverlapBounds(t *testing.T) {
	paragraph := "The athlete held form through the first set. Then fatigue crept in, " +
		"and the hips dropped! Was the cue clear? Next time, shorten the rest interval.\n"
	text := strings.Repeat(paragraph, 20) + "\n\n" + strings.Repeat("tempo ", 150)

	for _, cfg := range []struct{ size, overlap int }{
		{500, 100}, {200, 50}, {120, 0}, {64, 16},
	} {
		s := newSplitter(t, cfg.size, cfg.overlap)
		chunks := s.SplitWithOffsets(text)
		require.NotEmpty(t, chunks)

		for i, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), cfg.size, "chunk %d too long", i)
			assert.LessOrEqual(t, utf8.RuneCountInString(c.Text[:c.Overlap]), cfg.overlap, "chunk %d overlap too long", i)
			if i > 0 {
				assert.Equal(t, chunks[i-1].End-c.Overlap, c.Start)
				assert.Greater(t, c.End, chunks[i-1].End)
			}
		}
		assertCoverage(t, text, chunks)
	}
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	s := newSplitter(t, 50, 0)
	text := strings.Repeat("x", 30) + "\n\n" + strings.Repeat("y", 30)

	chunks := s.Split(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 30)+"\n\n", chunks[0])
	assert.Equal(t, strings.Repeat("y", 30), chunks[1])
}

func TestSplit_NoSeparatorsFallsBackToRunes(t *testing.T) {
	s := newSplitter(t, 10, 3)
	text := strings.Repeat("é", 25)

	chunks := s.SplitWithOffsets(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 10)
	}
	assertCoverage(t, text, chunks)
}

func TestSplitAfter(t *testing.T) {
	assert.Equal(t, []string{"a. ", "b. ", "c"}, splitAfter("a. b. c", ". "))
	assert.Equal(t, []string{"a\n", "b\n"}, splitAfter("a\nb\n", "\n"))
	assert.Equal(t, []string{"h", "é"}, splitAfter("hé", ""))
}

func TestNew_DefaultsSeparators(t *testing.T) {
	s, err := New(Config{ChunkSize: 5, ChunkOverlap: 1})
	require.NoError(t, err)
	assert.Equal(t, DefaultSeparators, s.cfg.Separators)

	_, err = New(Config{ChunkSize: 5, ChunkOverlap: 5})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
