package calendar

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order by the general parser. Sources deliver a
// mix of ISO dates, RFC3339 timestamps and a few sheet-export formats.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"2006/01/02",
	"Jan 2, 2006",
}

// ParseTimestamp converts a date-like string of unknown representation into
// a UTC time. Disambiguation order: a string that fully parses as a number
// is epoch milliseconds; anything else goes through the general date parser.
// Unparseable values come back invalid, never as an error.
func ParseTimestamp(raw string) sql.NullTime {
	s := strings.TrimSpace(raw)
	if s == "" {
		return sql.NullTime{}
	}

	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return sql.NullTime{Time: FromEpochMillis(int64(ms)), Valid: true}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return sql.NullTime{Time: t.UTC(), Valid: true}
		}
	}

	return sql.NullTime{}
}

// FromEpochMillis converts epoch milliseconds to a UTC time.
func FromEpochMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// MondayWeek maps any time to the Monday 00:00 UTC that begins its ISO week.
// Applying it twice yields the same result as once.
func MondayWeek(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	monday := t.AddDate(0, 0, -offset)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}

// ISOWeekStart returns the Monday beginning the given ISO week, via the ISO
// calendar rule (year, week, weekday=1). January 4 is always in week 1.
func ISOWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	return MondayWeek(jan4).AddDate(0, 0, (week-1)*7)
}
