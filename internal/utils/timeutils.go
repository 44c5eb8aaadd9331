package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout used for dates in tables and CSV output.
const DateLayout = "2006-01-02"

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	DateLayout,
	"01/02/2006",
	"Jan 2, 2006",
	"02-Jan-2006",
	"02-Jan-06",
}

// ParseTimestamp accepts RFC3339, plain dates, US-style dates, day-first
// abbreviated dates such as 20-May-87, and unix seconds.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported layout", value)
}

// FormatDate renders a timestamp as a calendar date, or "-" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(DateLayout)
}
