package ingest

import (
	"fmt"
	"log"
	"strings"
	"unicode"
)

// Piece is one chunk of a document's text plus the section header that
// was current at the chunk's start offset.
type Piece struct {
	Text   string
	Header string
}

type ChunkerConfig struct {
	Size      int // target chunk size, characters
	Overlap   int // characters shared between consecutive chunks
	MinChunk  int // chunks shorter than this are dropped as noise
	MaxChunks int // per-document cap, truncation is logged
}

func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		Size:      1000,
		Overlap:   200,
		MinChunk:  100,
		MaxChunks: 200,
	}
}

func (c ChunkerConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("overlap %d must be in [0, size), size %d", c.Overlap, c.Size)
	}
	if c.MaxChunks <= 0 {
		return fmt.Errorf("max chunks must be positive, got %d", c.MaxChunks)
	}
	return nil
}

type Chunker struct {
	cfg ChunkerConfig
}

func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

type headerMark struct {
	offset int
	text   string
}

// Split slices normalized text into overlapping pieces, preferring to
// break at sentence ends or newlines, and tags each piece with the
// nearest preceding section header.
func (c *Chunker) Split(text string) []Piece {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	headers := scanHeaders(text)

	var pieces []Piece
	size := c.cfg.Size
	start := 0

	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			// Back up to a sentence end or newline, but never earlier
			// than half the target size.
			floor := start + size/2
			if b := boundaryBefore(text, floor, end); b > floor {
				end = b
			}
		}

		piece := strings.TrimSpace(text[start:end])
		if len(piece) >= c.cfg.MinChunk {
			pieces = append(pieces, Piece{
				Text:   piece,
				Header: headerAt(headers, start),
			})
		}

		if end == len(text) {
			break
		}
		if len(pieces) >= c.cfg.MaxChunks {
			log.Printf("[CHUNKER] document truncated at %d chunks (cap %d)", len(pieces), c.cfg.MaxChunks)
			break
		}

		next := end - c.cfg.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	// Text shorter than the noise threshold still yields one chunk, so a
	// small but real document is never silently dropped.
	if pieces == nil && len(text) > 0 {
		pieces = append(pieces, Piece{Text: text, Header: headerAt(headers, 0)})
	}

	return pieces
}

// boundaryBefore finds the latest sentence end (". ") or newline in
// (floor, end], returning the index just past the delimiter, or -1.
func boundaryBefore(text string, floor, end int) int {
	window := text[:end]
	if dot := strings.LastIndex(window, ". "); dot > floor {
		return dot + 2
	}
	if nl := strings.LastIndexByte(window, '\n'); nl > floor {
		return nl + 1
	}
	if sp := strings.LastIndexByte(window, ' '); sp > floor {
		return sp + 1
	}
	return -1
}

func scanHeaders(text string) []headerMark {
	var marks []headerMark
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		if IsSectionHeader(line) {
			marks = append(marks, headerMark{offset: offset, text: strings.TrimSpace(line)})
		}
		offset += len(line) + 1
	}
	return marks
}

// IsSectionHeader classifies a line as a section header: short, and
// either fully upper-case or ending with a colon.
func IsSectionHeader(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < 5 || len(line) > 100 {
		return false
	}
	if strings.HasSuffix(line, ":") {
		return true
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

func headerAt(marks []headerMark, offset int) string {
	current := ""
	for _, m := range marks {
		if m.offset > offset {
			break
		}
		current = m.text
	}
	return current
}
