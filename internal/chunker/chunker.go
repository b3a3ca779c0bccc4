// Package chunker splits chapter text into overlapping word windows
// for embedding.
//
// Cuts prefer structural boundaries (paragraph breaks, then sentence
// ends) so a window rarely severs a code block or heading from its
// context. Overlap is measured against the actual cut, so chunks
// ordered by index always reconstruct the source word sequence with
// the overlapping regions removed.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// DefaultChunkSize is the target chunk length in words.
const DefaultChunkSize = 500

// DefaultOverlap is the number of words repeated between consecutive
// chunks.
const DefaultOverlap = 100

// DefaultBoundaryTolerance is the fraction of a window that must
// precede a structural boundary for the cut to snap to it. Boundaries
// in the first half of a window are ignored so chunks stay close to
// the target size.
const DefaultBoundaryTolerance = 0.5

// ErrInvalidInput marks input that cannot be chunked, such as empty or
// whitespace-only text.
var ErrInvalidInput = errors.New("chunker: input is empty")

// Chunk is one overlapping window of a source text.
type Chunk struct {
	Text      string
	Index     int
	WordCount int
	// ContainsCode is set when the chunk holds a fenced code block
	// marker.
	ContainsCode bool
	// ContainsHeader is set when a line in the chunk starts with '#'.
	ContainsHeader bool
}

// Chunker splits text into overlapping word windows.
type Chunker struct {
	size      int
	overlap   int
	tolerance float64
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the target chunk size in words.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.size = size
	}
}

// WithOverlap sets the overlap between consecutive chunks in words.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// WithBoundaryTolerance sets the fraction of a window that must
// precede a structural boundary for the cut to snap to it.
func WithBoundaryTolerance(tolerance float64) Option {
	return func(c *Chunker) {
		c.tolerance = tolerance
	}
}

// New creates a Chunker, rejecting configurations that could not make
// progress or would drop words.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:      DefaultChunkSize,
		overlap:   DefaultOverlap,
		tolerance: DefaultBoundaryTolerance,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", c.size)
	}
	if c.overlap <= 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("overlap must be in (0, chunk size), got %d", c.overlap)
	}
	if c.tolerance < 0 || c.tolerance >= 1 {
		return nil, fmt.Errorf("boundary tolerance must be in [0, 1), got %g", c.tolerance)
	}

	return c, nil
}

// span marks one word as byte offsets into the source text.
type span struct {
	start, end int
}

// Split cuts text into overlapping chunks. Chunk text is sliced from
// the source, so intra-chunk whitespace (and with it paragraph breaks
// and heading lines) survives verbatim.
func (c *Chunker) Split(text string) ([]Chunk, error) {
	spans := fieldSpans(text)
	n := len(spans)
	if n == 0 {
		return nil, ErrInvalidInput
	}

	if n <= c.size {
		return []Chunk{c.newChunk(text, spans, 0, n, 0)}, nil
	}

	chunks := make([]Chunk, 0, n/(c.size-c.overlap)+1)
	start := 0

	for {
		end := start + c.size
		if end > n {
			end = n
		}

		cut := end
		if end < n {
			cut = c.boundaryCut(text, spans, start, end)
		}

		chunks = append(chunks, c.newChunk(text, spans, start, cut, len(chunks)))

		if end >= n {
			return chunks, nil
		}
		start = cut - c.overlap
	}
}

func (c *Chunker) newChunk(text string, spans []span, start, cut, index int) Chunk {
	t := text[spans[start].start:spans[cut-1].end]
	return Chunk{
		Text:           t,
		Index:          index,
		WordCount:      cut - start,
		ContainsCode:   strings.Contains(t, "```"),
		ContainsHeader: hasHeaderLine(t),
	}
}

// boundaryCut returns the rightmost structural cut in (lo, hi], or hi
// when no boundary qualifies. A cut qualifies when it lies past the
// tolerance point of the window and leaves the next chunk a new start
// beyond lo after the overlap rewind.
func (c *Chunker) boundaryCut(text string, spans []span, lo, hi int) int {
	min := lo + int(float64(hi-lo)*c.tolerance)
	if floor := lo + c.overlap; floor > min {
		min = floor
	}

	for j := hi - 1; j > min; j-- {
		if strings.Contains(text[spans[j-1].end:spans[j].start], "\n\n") {
			return j
		}
	}
	for j := hi - 1; j > min; j-- {
		if isSentenceEnd(text, spans[j-1]) {
			return j
		}
	}

	return hi
}

func isSentenceEnd(text string, word span) bool {
	switch text[word.end-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func hasHeaderLine(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "#") {
			return true
		}
	}
	return false
}

// fieldSpans locates every whitespace-separated word, mirroring
// strings.Fields but keeping byte offsets.
func fieldSpans(s string) []span {
	var spans []span
	start := -1

	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, span{start, i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, span{start, len(s)})
	}

	return spans
}
