package ingest

import (
	"log"
	"strings"
)

// MinDedupLen is the looser noise threshold used on already-chunked text.
const MinDedupLen = 20

// Deduplicate drops pieces whose normalized text was already seen and
// pieces under minLen characters, preserving relative order. Exact match
// after trim + lowercase + whitespace collapse, not fuzzy. Running it
// twice yields the same output as running it once.
func Deduplicate(pieces []Piece, minLen int) []Piece {
	seen := make(map[string]struct{}, len(pieces))
	unique := make([]Piece, 0, len(pieces))

	for _, p := range pieces {
		trimmed := strings.TrimSpace(p.Text)
		if len(trimmed) < minLen {
			log.Printf("[DEDUP] skipping short chunk (%d chars)", len(trimmed))
			continue
		}
		key := normalizeKey(trimmed)
		if _, ok := seen[key]; ok {
			log.Printf("[DEDUP] skipping duplicate chunk: %.50s...", trimmed)
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, p)
	}
	return unique
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
