package rx

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	numericDateRE = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2,4})\b`)
	dayMonthRE    = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?(?:\s+(\d{4}))?\b`)
	monthDayRE    = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?(?:\s+(\d{4}))?\b`)
	relativeRE    = regexp.MustCompile(`(?i)\b(\d{1,3}|a|an|one|two|three|four|five|six|seven|ten|fifteen)\s*(days?|weeks?|wks?|months?)\b`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "ten": 10, "fifteen": 15,
}

// ParseFollowUpDate reads an absolute (day-first) or relative date from
// text. Relative dates and dates without a year are anchored at now.
// The result is truncated to midnight in now's location.
func ParseFollowUpDate(text string, now time.Time) (time.Time, bool) {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	if m := numericDateRE.FindStringSubmatch(text); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y, _ := strconv.Atoi(m[3])
		if y < 100 {
			y += 2000
		}
		if t, ok := validDate(y, time.Month(mo), d, loc); ok {
			return t, true
		}
	}
	if m := dayMonthRE.FindStringSubmatch(text); m != nil {
		d, _ := strconv.Atoi(m[1])
		if t, ok := dateWithOptionalYear(m[3], months[strings.ToLower(m[2])], d, today); ok {
			return t, true
		}
	}
	if m := monthDayRE.FindStringSubmatch(text); m != nil {
		d, _ := strconv.Atoi(m[2])
		if t, ok := dateWithOptionalYear(m[3], months[strings.ToLower(m[1])], d, today); ok {
			return t, true
		}
	}
	if m := relativeRE.FindStringSubmatch(text); m != nil {
		n, ok := numberWords[strings.ToLower(m[1])]
		if !ok {
			n, _ = strconv.Atoi(m[1])
		}
		if n <= 0 {
			return time.Time{}, false
		}
		unit := strings.ToLower(m[2])
		switch {
		case strings.HasPrefix(unit, "day"):
			return today.AddDate(0, 0, n), true
		case strings.HasPrefix(unit, "w"):
			return today.AddDate(0, 0, 7*n), true
		default:
			return today.AddDate(0, n, 0), true
		}
	}
	return time.Time{}, false
}

func dateWithOptionalYear(year string, mo time.Month, d int, today time.Time) (time.Time, bool) {
	if year != "" {
		y, _ := strconv.Atoi(year)
		return validDate(y, mo, d, today.Location())
	}
	t, ok := validDate(today.Year(), mo, d, today.Location())
	if !ok {
		return t, false
	}
	if t.Before(today) {
		return validDate(today.Year()+1, mo, d, today.Location())
	}
	return t, true
}

// validDate rejects dates time.Date would normalize (31/02 and friends).
func validDate(y int, mo time.Month, d int, loc *time.Location) (time.Time, bool) {
	if mo < time.January || mo > time.December || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, mo, d, 0, 0, 0, 0, loc)
	if t.Day() != d || t.Month() != mo {
		return time.Time{}, false
	}
	return t, true
}
