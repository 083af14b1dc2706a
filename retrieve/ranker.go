package retrieve

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"medrag/ingest"
	"medrag/types"
)

// Boost factors applied on top of the similarity base score.
const (
	boostDocumentName = 1.5
	boostHeaderWord   = 0.2 // per matching header word, additive inside the factor
	boostDateMatch    = 1.3
	boostKeyword      = 1.4

	// scorePrecision rounds scores to a fixed number of decimals so
	// floating-point jitter can never reorder results between runs.
	scorePrecision = 1e6
)

// CosineSimilarity returns the directional closeness of two equal-length
// vectors in [-1, 1]. Accumulates in float64.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("vectors must be non-empty")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (normA * normB), nil
}

func roundScore(s float64) float64 {
	return math.Round(s*scorePrecision) / scorePrecision
}

// Scored is a chunk with its computed hybrid score and the original scan
// position, the final tie-breaker.
type Scored struct {
	Chunk types.Chunk
	Score float64
	orig  int
}

type RankerConfig struct {
	PerDocLimit    int
	OverallLimit   int
	RelevanceFloor float64
}

func DefaultRankerConfig() RankerConfig {
	return RankerConfig{
		PerDocLimit:    20,
		OverallLimit:   30,
		RelevanceFloor: 0.15,
	}
}

type Ranker struct {
	cfg RankerConfig
}

func NewRanker(cfg RankerConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

// Rank scores the whole corpus against the query and returns the
// selected chunks in a stable order. The same corpus and query always
// produce the same output, bit for bit: scores are rounded after every
// boost and ties break by document id, chunk index, then scan order.
func (r *Ranker) Rank(queryVec []float32, query string, cls Classification, corpus []types.Chunk) ([]Scored, error) {
	queryDates := ingest.ExtractDates(query)
	queryWords := significantWords(query)

	scored := make([]Scored, 0, len(corpus))
	for i, chunk := range corpus {
		base, err := CosineSimilarity(queryVec, chunk.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", chunk.ID, err)
		}
		score := roundScore(base)

		if cls.DocumentName != "" && strings.EqualFold(chunk.DocumentName, cls.DocumentName) {
			score = roundScore(score * boostDocumentName)
		}
		if n := headerWordMatches(chunk.Section, queryWords); n > 0 {
			score = roundScore(score * (1 + boostHeaderWord*float64(n)))
		}
		if datesIntersect(queryDates, chunk.Dates) {
			score = roundScore(score * boostDateMatch)
		}
		if cls.Keyword != "" && strings.Contains(strings.ToLower(chunk.Text), cls.Keyword) {
			score = roundScore(score * boostKeyword)
		}

		scored = append(scored, Scored{Chunk: chunk, Score: score, orig: i})
	}

	sortScored(scored)

	if cls.Kind == KindLabValue {
		return r.exhaustive(scored, cls.Keyword), nil
	}
	return r.balanced(scored), nil
}

// balanced keeps the best chunks overall while capping how many any one
// document may contribute. Empty when nothing clears the relevance
// floor: an empty or irrelevant corpus is an expected steady state.
func (r *Ranker) balanced(scored []Scored) []Scored {
	if len(scored) == 0 || scored[0].Score < r.cfg.RelevanceFloor {
		return nil
	}
	perDoc := make(map[string]int)
	var out []Scored
	for _, s := range scored {
		if len(out) >= r.cfg.OverallLimit {
			break
		}
		key := s.Chunk.DocumentID.String()
		if perDoc[key] >= r.cfg.PerDocLimit {
			continue
		}
		perDoc[key]++
		out = append(out, s)
	}
	return out
}

// exhaustive gathers every chunk containing the matched lab keyword
// regardless of score, plus each one's immediate neighbors
// (chunk_index +/- 1 in the same document) to recover adjacent
// historical tables, deduplicated by (document id, chunk index). The
// year grouping is implicit in the stable order; the context assembler
// relies on it to keep every year represented under truncation.
func (r *Ranker) exhaustive(scored []Scored, keyword string) []Scored {
	type key struct {
		doc   string
		index int
	}
	byPos := make(map[key]Scored, len(scored))
	for _, s := range scored {
		byPos[key{s.Chunk.DocumentID.String(), s.Chunk.Index}] = s
	}

	taken := make(map[key]struct{})
	var out []Scored
	add := func(s Scored) {
		k := key{s.Chunk.DocumentID.String(), s.Chunk.Index}
		if _, ok := taken[k]; ok {
			return
		}
		taken[k] = struct{}{}
		out = append(out, s)
	}

	for _, s := range scored {
		if !strings.Contains(strings.ToLower(s.Chunk.Text), keyword) {
			continue
		}
		add(s)
		doc := s.Chunk.DocumentID.String()
		if prev, ok := byPos[key{doc, s.Chunk.Index - 1}]; ok {
			add(prev)
		}
		if next, ok := byPos[key{doc, s.Chunk.Index + 1}]; ok {
			add(next)
		}
	}

	sortScored(out)
	return out
}

// sortScored applies the documented ordering: score descending, then
// document id lexicographic, then chunk index ascending, then original
// scan order.
func sortScored(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ai, bi := a.Chunk.DocumentID.String(), b.Chunk.DocumentID.String()
		if ai != bi {
			return ai < bi
		}
		if a.Chunk.Index != b.Chunk.Index {
			return a.Chunk.Index < b.Chunk.Index
		}
		return a.orig < b.orig
	})
}

func significantWords(query string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?()\"'")
		if len(w) > 3 {
			words = append(words, w)
		}
	}
	return words
}

func headerWordMatches(header string, queryWords []string) int {
	if header == "" {
		return 0
	}
	headerWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(header)) {
		headerWords[strings.Trim(w, ".,;:!?()\"'")] = struct{}{}
	}
	n := 0
	for _, w := range queryWords {
		if _, ok := headerWords[w]; ok {
			n++
		}
	}
	return n
}

func datesIntersect(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, d := range a {
		set[d] = struct{}{}
	}
	for _, d := range b {
		if _, ok := set[d]; ok {
			return true
		}
	}
	return false
}

// PrimaryYear extracts the year grouping key for a chunk: the year of
// its primary date, empty when undated.
func PrimaryYear(chunk types.Chunk) string {
	if len(chunk.Dates) == 0 {
		return ""
	}
	d := chunk.Dates[0]
	if len(d) >= 4 {
		return d[len(d)-4:]
	}
	return ""
}
