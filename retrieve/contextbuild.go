package retrieve

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"medrag/ingest"
	"medrag/types"

	"github.com/pkoukk/tiktoken-go"
)

// AssembledContext is the prompt-ready context plus the authoritative
// set of dates the answer is permitted to cite.
type AssembledContext struct {
	Text           string
	AvailableDates []string
	Chunks         []Scored
}

type Assembler struct {
	maxTokens int
	enc       *tiktoken.Tiktoken
}

// NewAssembler budgets the context at maxTokens. Token counts use the
// tiktoken encoding when available and fall back to the length/4
// estimate otherwise.
func NewAssembler(maxTokens int) *Assembler {
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		log.Printf("[CONTEXT] tiktoken unavailable, estimating tokens: %v", err)
		enc = nil
	}
	return &Assembler{maxTokens: maxTokens, enc: enc}
}

func (a *Assembler) estimateTokens(text string) int {
	if a.enc != nil {
		return len(a.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// Build renders the selected chunks into one context blob under the
// token budget. Rendered blocks are deduplicated by normalized text
// prefix, a second guard against near-duplicates that survived earlier
// stages under different metadata. For lab-value queries, truncation
// keeps at least one representative chunk per year instead of cutting
// blindly from the tail.
func (a *Assembler) Build(selected []Scored, cls Classification) AssembledContext {
	mustKeep := map[int]bool{}
	if cls.Kind == KindLabValue {
		seenYear := map[string]bool{}
		for i, s := range selected {
			year := PrimaryYear(s.Chunk)
			if year == "" || seenYear[year] {
				continue
			}
			seenYear[year] = true
			mustKeep[i] = true
		}
	}

	var sb strings.Builder
	var included []Scored
	seenPrefix := map[string]struct{}{}
	used := 0
	truncated := false

	for i, s := range selected {
		block := renderBlock(s.Chunk)

		// A year's sole representative survives even when its text is a
		// prefix-duplicate of an earlier chunk: the metadata (its dates)
		// is what the keep is for.
		prefix := blockPrefix(s.Chunk.Text)
		if _, dup := seenPrefix[prefix]; dup && !mustKeep[i] {
			continue
		}

		cost := a.estimateTokens(block)
		if used+cost > a.maxTokens && !mustKeep[i] {
			truncated = true
			continue
		}

		seenPrefix[prefix] = struct{}{}
		used += cost
		sb.WriteString(block)
		sb.WriteString("\n")
		included = append(included, s)
	}
	if truncated {
		log.Printf("[CONTEXT] token budget %d reached, using %d of %d chunks", a.maxTokens, len(included), len(selected))
	}

	return AssembledContext{
		Text:           sb.String(),
		AvailableDates: availableDates(included),
		Chunks:         included,
	}
}

func renderBlock(chunk types.Chunk) string {
	var meta strings.Builder
	fmt.Fprintf(&meta, "[Document: %s", chunk.DocumentName)
	if chunk.Section != "" {
		fmt.Fprintf(&meta, " | Section: %s", chunk.Section)
	}
	if len(chunk.Dates) > 0 {
		fmt.Fprintf(&meta, " | Date: %s", chunk.Dates[0])
		if chunk.FilenameDate {
			meta.WriteString(" (from filename)")
		}
	}
	fmt.Fprintf(&meta, " | Chunk %d]\n", chunk.Index)
	return meta.String() + chunk.Text + "\n"
}

func blockPrefix(text string) string {
	key := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if len(key) > 100 {
		key = key[:100]
	}
	return key
}

// availableDates unions chunk metadata dates with a fresh scan of each
// included chunk's text. The post-generation validator treats any date
// outside this set as a suspected hallucination.
func availableDates(included []Scored) []string {
	set := map[string]struct{}{}
	for _, s := range included {
		for _, d := range s.Chunk.Dates {
			set[d] = struct{}{}
		}
		for _, d := range ingest.ExtractDates(s.Chunk.Text) {
			set[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
