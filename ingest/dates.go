package ingest

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Date extraction. Free text contributes "DD Mon YYYY" dates, "Month
// YYYY" mentions, slash dates and bare years; the filename's numeric
// prefix, when present, is the authoritative draw date for the whole
// document. Everything is normalized to "DD Mon YYYY" plus bare year
// strings.

var (
	reDayMonYear = regexp.MustCompile(`(?i)\b(\d{1,2})[ .]+(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)[ .]+(\d{4})\b`)
	reMonYear    = regexp.MustCompile(`(?i)\b(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)[ .]+(\d{4})\b`)
	reSlashDate  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{2,4})\b`)
	reBareYear   = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	reDigitsPref = regexp.MustCompile(`^(\d{6,8})`)
	// Filenames separate words with underscores, which defeat \b.
	reNameYear  = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)\d{2})(?:[^0-9]|$)`)
	reTrailYear = regexp.MustCompile(`(\d{4})$`)
)

var shortMonths = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

func monthFromName(name string) (time.Month, bool) {
	if len(name) < 3 {
		return 0, false
	}
	m, ok := shortMonths[strings.ToLower(name[:3])]
	return m, ok
}

func canonicalDate(year int, month time.Month, day int) (string, bool) {
	if year < 1900 || year > 2099 {
		return "", false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return "", false
	}
	return t.Format("02 Jan 2006"), true
}

// pivotYear expands a 2-digit year: YY <= 50 -> 20YY, else 19YY.
func pivotYear(yy int) int {
	if yy <= 50 {
		return 2000 + yy
	}
	return 1900 + yy
}

// ExtractDates pulls every recognizable date out of free text: full
// dates in canonical form plus every contributing bare year.
func ExtractDates(text string) []string {
	var full []string
	years := map[string]struct{}{}

	addFull := func(date string) {
		for _, f := range full {
			if f == date {
				return
			}
		}
		full = append(full, date)
		years[date[len(date)-4:]] = struct{}{}
	}

	for _, m := range reDayMonYear.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		if month, ok := monthFromName(m[2]); ok {
			if date, ok := canonicalDate(year, month, day); ok {
				addFull(date)
			}
		}
	}

	for _, m := range reSlashDate.FindAllStringSubmatch(text, -1) {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		switch len(m[3]) {
		case 2:
			year = pivotYear(year)
		case 4:
		default:
			continue
		}
		if month < 1 || month > 12 {
			continue
		}
		if date, ok := canonicalDate(year, time.Month(month), day); ok {
			addFull(date)
		}
	}

	for _, m := range reMonYear.FindAllStringSubmatch(text, -1) {
		years[m[2]] = struct{}{}
	}
	for _, m := range reBareYear.FindAllStringSubmatch(text, -1) {
		years[m[1]] = struct{}{}
	}

	var out []string
	out = append(out, full...)
	var bare []string
	for y := range years {
		bare = append(bare, y)
	}
	sort.Strings(bare)
	return append(out, bare...)
}

// FilenameDates is the document-level date derived from the source
// filename. PrimaryDate is empty when the filename carries no parseable
// numeric prefix; PrimaryYear may still be set from a year found
// anywhere in the name.
type FilenameDates struct {
	PrimaryDate string
	PrimaryYear string
}

// ExtractFilenameDates recognizes a leading YYMMDD or YYYYMMDD prefix
// (lab exports reliably name files this way), falling back to the first
// 4-digit year anywhere in the filename.
func ExtractFilenameDates(name string) FilenameDates {
	if m := reDigitsPref.FindStringSubmatch(name); m != nil {
		digits := m[1]
		var year, month, day int
		switch len(digits) {
		case 8:
			year, _ = strconv.Atoi(digits[:4])
			month, _ = strconv.Atoi(digits[4:6])
			day, _ = strconv.Atoi(digits[6:8])
		case 6:
			yy, _ := strconv.Atoi(digits[:2])
			year = pivotYear(yy)
			month, _ = strconv.Atoi(digits[2:4])
			day, _ = strconv.Atoi(digits[4:6])
		}
		if month >= 1 && month <= 12 {
			if date, ok := canonicalDate(year, time.Month(month), day); ok {
				return FilenameDates{
					PrimaryDate: date,
					PrimaryYear: fmt.Sprintf("%04d", year),
				}
			}
		}
	}

	if m := reNameYear.FindStringSubmatch(name); m != nil {
		return FilenameDates{PrimaryYear: m[1]}
	}
	return FilenameDates{}
}

// MergeDates combines text-derived dates with the filename date. A
// filename date is authoritative: text dates from other years are
// discarded as OCR noise (comparison columns, page furniture). Without
// a filename date the union is kept. Output is deduplicated and
// year-sorted, primary date first.
func MergeDates(textDates []string, fd FilenameDates) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(d string) {
		if d == "" {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}

	if fd.PrimaryDate != "" {
		add(fd.PrimaryDate)
		add(fd.PrimaryYear)
		var rest []string
		for _, d := range textDates {
			y := yearOf(d)
			if y == "" || y == fd.PrimaryYear {
				rest = append(rest, d)
			}
		}
		sortByYear(rest)
		for _, d := range rest {
			add(d)
		}
		return out
	}

	rest := append([]string{}, textDates...)
	if fd.PrimaryYear != "" {
		rest = append(rest, fd.PrimaryYear)
	}
	sortByYear(rest)
	for _, d := range rest {
		add(d)
	}
	return out
}

func yearOf(date string) string {
	if m := reTrailYear.FindStringSubmatch(strings.TrimSpace(date)); m != nil {
		return m[1]
	}
	return ""
}

// sortByYear orders dates by year, full dates before bare years within
// the same year, then chronologically.
func sortByYear(dates []string) {
	sort.SliceStable(dates, func(i, j int) bool {
		yi, yj := yearOf(dates[i]), yearOf(dates[j])
		if yi != yj {
			return yi < yj
		}
		fi, fj := len(dates[i]) > 4, len(dates[j]) > 4
		if fi != fj {
			return fi
		}
		ti, ei := time.Parse("02 Jan 2006", dates[i])
		tj, ej := time.Parse("02 Jan 2006", dates[j])
		if ei == nil && ej == nil {
			return ti.Before(tj)
		}
		return dates[i] < dates[j]
	})
}
