package attendance

import (
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Čeština" -> "Cestina").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeLabel normalizes a subject or section for use in keys
// (no diacritics, single spaces, upper case), so "Matematika  a" and "MATEMATIKA A" are one roster.
func NormalizeLabel(s string) string {
	s = RemoveDiacritics(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToUpper(s)
}

// NormalizeHours sorts period numbers and drops duplicates
func NormalizeHours(hours []int) []int {
	out := slices.Clone(hours)
	slices.Sort(out)
	return slices.Compact(out)
}

// NormalizeDate returns the calendar day of t in loc, represented as midnight UTC.
// A zero t means today.
func NormalizeDate(t, now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if t.IsZero() {
		t = now
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
