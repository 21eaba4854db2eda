// Package period extracts fiscal periods from financial document text and
// provides validation and chronological comparison of the canonical period
// strings "YYYY", "YYYY-MM" and "YYYY-Qn".
package period

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Info is the best-guess fiscal period extracted from a document.
// Period is the canonical string form ("" when nothing usable was found);
// Year, Month and Quarter are zero when absent.
type Info struct {
	Period  string `json:"period,omitempty"`
	Year    int    `json:"year,omitempty"`
	Month   int    `json:"month,omitempty"`
	Quarter int    `json:"quarter,omitempty"`
}

var yearPattern = regexp.MustCompile(`20[2-3][0-9]`)

// Quarter patterns are tried in order; the first matching pattern wins.
var quarterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([1-4])º\s*trimestre`),
	regexp.MustCompile(`trimestre\s*([1-4])`),
	regexp.MustCompile(`q([1-4])`),
	regexp.MustCompile(`([1-4])t`),
}

type monthNames struct {
	full string
	abbr string
}

// Canonical month list, January through December. Ties between multiple month
// mentions resolve to whichever month comes first in this list, not to the
// earliest textual occurrence.
var months = []monthNames{
	{"janeiro", "jan"},
	{"fevereiro", "fev"},
	{"março", "mar"},
	{"abril", "abr"},
	{"maio", "mai"},
	{"junho", "jun"},
	{"julho", "jul"},
	{"agosto", "ago"},
	{"setembro", "set"},
	{"outubro", "out"},
	{"novembro", "nov"},
	{"dezembro", "dez"},
}

// Extract returns the fiscal period found in text. The filename is prepended
// to the searched text since filenames often carry the period
// (e.g. "DRE_2024_Q1.pdf").
func Extract(text, fileName string) Info {
	haystack := strings.ToLower(fileName + "\n" + text)

	info := Info{}
	if m := yearPattern.FindString(haystack); m != "" {
		info.Year, _ = strconv.Atoi(m)
	}

	for _, p := range quarterPatterns {
		if m := p.FindStringSubmatch(haystack); m != nil {
			info.Quarter, _ = strconv.Atoi(m[1])
			break
		}
	}

	info.Month = findMonth(haystack, info.Year)

	switch {
	case info.Year != 0 && info.Quarter != 0:
		info.Period = fmt.Sprintf("%d-Q%d", info.Year, info.Quarter)
	case info.Year != 0 && info.Month != 0:
		info.Period = fmt.Sprintf("%d-%02d", info.Year, info.Month)
	case info.Year != 0:
		info.Period = strconv.Itoa(info.Year)
	}

	return info
}

func findMonth(haystack string, year int) int {
	for i, m := range months {
		if strings.Contains(haystack, m.full) || strings.Contains(haystack, m.abbr) {
			return i + 1
		}
	}
	if year == 0 {
		return 0
	}

	// Numeric fallback: MM/YYYY, MM-YYYY, YYYY/MM or YYYY-MM adjacent to the
	// year we already found.
	ys := strconv.Itoa(year)
	before := regexp.MustCompile(`(\d{1,2})[/-]` + ys)
	after := regexp.MustCompile(ys + `[/-](\d{1,2})`)
	for _, p := range []*regexp.Regexp{before, after} {
		if m := p.FindStringSubmatch(haystack); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 1 && v <= 12 {
				return v
			}
		}
	}
	return 0
}

var (
	validYear    = regexp.MustCompile(`^\d{4}$`)
	validMonth   = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)
	validQuarter = regexp.MustCompile(`^\d{4}-Q[1-4]$`)
)

// IsValid reports whether s is one of the three canonical period forms:
// "YYYY", "YYYY-MM" (01-12) or "YYYY-Qn" (1-4).
func IsValid(s string) bool {
	return validYear.MatchString(s) || validMonth.MatchString(s) || validQuarter.MatchString(s)
}

// DateRange maps a canonical period string to its inclusive calendar range.
// ok is false for non-canonical input.
func DateRange(s string) (start, end time.Time, ok bool) {
	switch {
	case validYear.MatchString(s):
		year, _ := strconv.Atoi(s)
		start = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		end = time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		return start, end, true
	case validMonth.MatchString(s):
		year, _ := strconv.Atoi(s[:4])
		month, _ := strconv.Atoi(s[5:])
		start = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, -1)
		return start, end, true
	case validQuarter.MatchString(s):
		year, _ := strconv.Atoi(s[:4])
		quarter, _ := strconv.Atoi(s[6:])
		firstMonth := time.Month((quarter-1)*3 + 1)
		start = time.Date(year, firstMonth, 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 3, -1)
		return start, end, true
	default:
		return time.Time{}, time.Time{}, false
	}
}

// Compare orders two canonical period strings chronologically by the start of
// their date ranges. Periods sharing a start sort broader-first, so a whole
// year precedes its own first quarter and first month. Returns 0 when either
// side fails to parse.
func Compare(a, b string) int {
	aStart, aEnd, aOK := DateRange(a)
	bStart, bEnd, bOK := DateRange(b)
	if !aOK || !bOK {
		return 0
	}
	if aStart.Before(bStart) {
		return -1
	}
	if aStart.After(bStart) {
		return 1
	}
	// Equal starts: the longer range comes first.
	if aEnd.After(bEnd) {
		return -1
	}
	if aEnd.Before(bEnd) {
		return 1
	}
	return 0
}
