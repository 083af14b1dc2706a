package agent

import (
	"log"
	"regexp"
	"time"
)

// Post-generation validation is a detective control only: a suspected
// hallucinated date is logged and surfaced as a warning, the answer is
// still returned unmodified.

var (
	reAnswerDate = regexp.MustCompile(`\b\d{1,2} (?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec) (?:19|20)\d{2}\b`)
	reAnswerYear = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

// DetectHallucinatedDates scans a generated answer for formatted dates
// and bare years absent from the available-dates set and returns a
// human-readable warning per offender.
func DetectHallucinatedDates(answer string, availableDates []string) []string {
	allowed := make(map[string]struct{}, len(availableDates)*2)
	for _, d := range availableDates {
		allowed[d] = struct{}{}
		if len(d) >= 4 {
			// The year of every available date is itself citable.
			allowed[d[len(d)-4:]] = struct{}{}
		}
	}

	seen := map[string]struct{}{}
	var warnings []string
	flag := func(token, kind string) {
		if _, ok := allowed[token]; ok {
			return
		}
		if _, dup := seen[token]; dup {
			return
		}
		seen[token] = struct{}{}
		log.Printf("[HALLUCINATION] answer cites %s %q not present in retrieved context", kind, token)
		warnings = append(warnings, kind+" "+token+" does not appear in the retrieved documents")
	}

	for _, m := range reAnswerDate.FindAllString(answer, -1) {
		flag(canonicalAnswerDate(m), "date")
	}
	for _, m := range reAnswerYear.FindAllString(answer, -1) {
		flag(m, "year")
	}
	return warnings
}

// canonicalAnswerDate zero-pads the day so "4 Mar 2024" checks against
// the same allowed entry as "04 Mar 2024".
func canonicalAnswerDate(s string) string {
	if t, err := time.Parse("2 Jan 2006", s); err == nil {
		return t.Format("02 Jan 2006")
	}
	return s
}
