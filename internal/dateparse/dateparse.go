// Package dateparse turns natural-language date filters like "yesterday"
// or "2 weeks ago" into the YYYY-MM-DD form the API expects.
package dateparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parse parses a date filter and returns a date in YYYY-MM-DD format.
// Supported forms:
//   - today, yesterday
//   - last week, last month
//   - N days ago, N weeks ago, N months ago
//   - -N (N days back)
//   - YYYY-MM-DD (passthrough)
//
// Unrecognized input is returned unchanged; use IsValid to check.
func Parse(input string) string {
	return ParseFrom(input, time.Now())
}

// ParseFrom parses a date filter relative to the given reference time.
func ParseFrom(input string, now time.Time) string {
	input = strings.ToLower(strings.TrimSpace(input))

	switch input {
	case "today":
		return formatDate(now)
	case "yesterday":
		return formatDate(now.AddDate(0, 0, -1))
	case "last week", "lastweek":
		return formatDate(now.AddDate(0, 0, -7))
	case "last month", "lastmonth":
		return formatDate(now.AddDate(0, -1, 0))
	}

	// -N days back
	if strings.HasPrefix(input, "-") {
		if days, err := strconv.Atoi(input[1:]); err == nil && days >= 0 {
			return formatDate(now.AddDate(0, 0, -days))
		}
	}

	if match := agoPattern.FindStringSubmatch(input); match != nil {
		n, err := strconv.Atoi(match[1])
		if err == nil {
			switch match[2] {
			case "day":
				return formatDate(now.AddDate(0, 0, -n))
			case "week":
				return formatDate(now.AddDate(0, 0, -n*7))
			case "month":
				return formatDate(now.AddDate(0, -n, 0))
			}
		}
	}

	return input
}

var agoPattern = regexp.MustCompile(`^(\d+) (day|week|month)s? ago$`)

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// IsValid returns true if the input resolves to a real calendar date.
func IsValid(input string) bool {
	_, err := time.Parse("2006-01-02", Parse(input))
	return err == nil
}
