package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectHallucinatedDatesClean(t *testing.T) {
	available := []string{"26 Feb 2024", "2024", "15 Jan 2023", "2023"}

	answer := "Your HDL was 1.4 mmol/L on 26 Feb 2024, up from the 15 Jan 2023 result."
	assert.Empty(t, DetectHallucinatedDates(answer, available))
}

func TestDetectHallucinatedDatesFlagsUnknownDate(t *testing.T) {
	available := []string{"26 Feb 2024", "2024"}

	warnings := DetectHallucinatedDates("Measured on 12 Jun 2021 at the clinic.", available)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "12 Jun 2021")
}

func TestDetectHallucinatedDatesFlagsUnknownYear(t *testing.T) {
	available := []string{"26 Feb 2024", "2024"}

	warnings := DetectHallucinatedDates("Compared with your 2019 baseline.", available)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "2019")
}

func TestDetectHallucinatedDatesYearOfAvailableDateAllowed(t *testing.T) {
	// Only the full date is listed; its year is implicitly citable.
	available := []string{"26 Feb 2024"}

	assert.Empty(t, DetectHallucinatedDates("Your 2024 results look stable.", available))
}

func TestDetectHallucinatedDatesAcceptsUnpaddedDay(t *testing.T) {
	// The stored form is zero-padded; models tend to write "4 Mar 2024".
	available := []string{"04 Mar 2024", "2024"}

	assert.Empty(t, DetectHallucinatedDates("Your HDL from 4 Mar 2024 was normal.", available))
	assert.Empty(t, DetectHallucinatedDates("Your HDL from 04 Mar 2024 was normal.", available))
}

func TestDetectHallucinatedDatesUnpaddedUnknownStillFlagged(t *testing.T) {
	warnings := DetectHallucinatedDates("Drawn on 4 Jun 2021.", []string{"04 Mar 2024", "2024"})
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "04 Jun 2021")
}

func TestDetectHallucinatedDatesDeduplicates(t *testing.T) {
	warnings := DetectHallucinatedDates("In 2019 and again in 2019.", []string{"2024"})
	assert.Len(t, warnings, 1)
}

func TestDetectHallucinatedDatesEmptyAnswer(t *testing.T) {
	assert.Empty(t, DetectHallucinatedDates("", []string{"2024"}))
	assert.Empty(t, DetectHallucinatedDates("No dates mentioned at all.", nil))
}
