// Package chunker splits document text into overlapping chunks sized for
// embedding.
//
// Text is broken on the first separator that occurs in it, in priority order
// (paragraph, line, sentence, clause, word, rune). Pieces still longer than
// the chunk size are broken again with the next separator. Separators stay
// attached to the piece before them, so no input text is lost. Pieces are
// then merged greedily into chunks, and each chunk after the first opens with
// whole trailing pieces of its predecessor totalling at most ChunkOverlap.
//
// All lengths are counted in runes.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidConfig is returned for unusable chunk sizes.
var ErrInvalidConfig = errors.New("invalid chunker config")

// DefaultSeparators is the separator priority list.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", ", ", " ", ""}

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

// Config controls chunk sizing.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// Separators defaults to DefaultSeparators. A trailing "" guarantees
	// progress on text without any other separator.
	Separators []string
}

// DefaultConfig returns the 500/100 configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Separators:   DefaultSeparators,
	}
}

// Validate checks 0 <= overlap < size.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", ErrInvalidConfig, c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// Chunk is one chunk with its byte offsets in the source text.
type Chunk struct {
	Text string
	// Start and End are byte offsets: source[Start:End] == Text.
	Start, End int
	// Overlap is the number of leading bytes repeated from the previous chunk.
	Overlap int
}

// Core returns the part of the chunk not shared with the previous chunk.
// Cores of consecutive chunks concatenate to the source text.
func (c Chunk) Core() string {
	return c.Text[c.Overlap:]
}

// Splitter splits text per its Config. It is stateless and safe for
// concurrent use.
type Splitter struct {
	cfg Config
}

// New validates cfg and returns a Splitter.
func New(cfg Config) (*Splitter, error) {
	if len(cfg.Separators) == 0 {
		cfg.Separators = DefaultSeparators
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{cfg: cfg}, nil
}

// Split returns the chunk texts. Empty input yields no chunks; input within
// ChunkSize yields exactly one chunk equal to the input.
func (s *Splitter) Split(text string) []string {
	chunks := s.SplitWithOffsets(text)
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// SplitWithOffsets returns chunks with their positions in text.
func (s *Splitter) SplitWithOffsets(text string) []Chunk {
	if text == "" {
		return nil
	}
	if runeLen(text) <= s.cfg.ChunkSize {
		return []Chunk{{Text: text, Start: 0, End: len(text)}}
	}
	return s.merge(text, s.pieces(text, 0, s.cfg.Separators))
}

// piece is a contiguous span of the source with its rune length.
type piece struct {
	start, end int
	runes      int
}

// pieces breaks text (located at offset base in the source) into spans of at
// most ChunkSize runes.
func (s *Splitter) pieces(text string, base int, seps []string) []piece {
	n := runeLen(text)
	if n <= s.cfg.ChunkSize {
		return []piece{{start: base, end: base + len(text), runes: n}}
	}

	sep, rest := pickSeparator(text, seps)
	var out []piece
	offset := base
	for _, part := range splitAfter(text, sep) {
		pn := runeLen(part)
		if pn > s.cfg.ChunkSize && len(rest) > 0 {
			out = append(out, s.pieces(part, offset, rest)...)
		} else {
			out = append(out, piece{start: offset, end: offset + len(part), runes: pn})
		}
		offset += len(part)
	}
	return out
}

// merge packs pieces into chunks of at most ChunkSize runes, carrying up to
// ChunkOverlap runes of whole pieces from one chunk into the next.
func (s *Splitter) merge(text string, ps []piece) []Chunk {
	var (
		chunks  []Chunk
		window  []piece
		total   int
		prevEnd int
	)

	emit := func() {
		start, end := window[0].start, window[len(window)-1].end
		overlap := 0
		if len(chunks) > 0 && start < prevEnd {
			overlap = prevEnd - start
		}
		chunks = append(chunks, Chunk{Text: text[start:end], Start: start, End: end, Overlap: overlap})
		prevEnd = end
	}

	for _, p := range ps {
		if len(window) > 0 && total+p.runes > s.cfg.ChunkSize {
			emit()
			for len(window) > 0 && (total > s.cfg.ChunkOverlap || total+p.runes > s.cfg.ChunkSize) {
				total -= window[0].runes
				window = window[1:]
			}
		}
		window = append(window, p)
		total += p.runes
	}
	if len(window) > 0 && window[len(window)-1].end > prevEnd {
		emit()
	}
	return chunks
}

// pickSeparator returns the first separator present in text and the
// separators after it. The empty separator always matches.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, sep := range seps {
		if sep == "" || strings.Contains(text, sep) {
			return sep, seps[i+1:]
		}
	}
	return "", nil
}

// splitAfter splits after each separator; the empty separator splits per rune.
// The parts concatenate back to text.
func splitAfter(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for i, w := 0, 0; i < len(text); i += w {
			_, w = utf8.DecodeRuneInString(text[i:])
			out = append(out, text[i:i+w])
		}
		return out
	}
	parts := strings.SplitAfter(text, sep)
	if last := len(parts) - 1; parts[last] == "" {
		parts = parts[:last]
	}
	return parts
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
