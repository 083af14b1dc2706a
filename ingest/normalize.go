package ingest

import (
	"regexp"
	"strings"
)

var (
	reCRLF       = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	reHorizontal = regexp.MustCompile(`[^\S\n]+`)
	reLineEdges  = regexp.MustCompile(`[^\S\n]*\n[^\S\n]*`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)

	// Known OCR misreads in these reports. Applied after whitespace
	// normalization so the multi-word entries match regardless of the
	// original spacing.
	ocrFixes = strings.NewReplacer(
		"B1ood", "Blood",
		"Pressu re", "Pressure",
		"Cho1esterol", "Cholesterol",
		"G1ucose", "Glucose",
		"8O", "80",
	)
)

// Normalize standardizes line endings, collapses horizontal whitespace to
// single spaces, caps blank runs at one empty line and corrects the known
// OCR substitution errors. Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	text = reCRLF.Replace(text)
	text = reHorizontal.ReplaceAllString(text, " ")
	text = reLineEdges.ReplaceAllString(text, "\n")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	text = ocrFixes.Replace(text)
	return strings.TrimSpace(text)
}
