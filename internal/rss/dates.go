package rss

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// nativeLayouts are tried on the whole string before any pattern matching.
var nativeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339Nano,
	time.RFC3339,
}

type datePattern struct {
	re    *regexp.Regexp
	parse func(m []string) (time.Time, error)
}

func layoutParser(layout string) func(m []string) (time.Time, error) {
	return func(m []string) (time.Time, error) {
		return time.Parse(layout, strings.Join(strings.Fields(m[0]), " "))
	}
}

// numericParser builds a UTC time from capture groups given as indexes of
// year, month, day and optionally hour, minute, second.
func numericParser(idx ...int) func(m []string) (time.Time, error) {
	return func(m []string) (time.Time, error) {
		parts := make([]int, 6)
		for i, group := range idx {
			v, err := strconv.Atoi(m[group])
			if err != nil {
				return time.Time{}, err
			}
			parts[i] = v
		}
		year, month, day := parts[0], parts[1], parts[2]
		hour, minute, sec := parts[3], parts[4], parts[5]
		if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 || sec > 60 {
			return time.Time{}, strconv.ErrRange
		}
		t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, time.UTC)
		if t.Day() != day {
			return time.Time{}, strconv.ErrRange
		}
		return t, nil
	}
}

// fallbackPatterns are applied in order to text the native layouts reject.
// Patterns without a zone are read as UTC.
var fallbackPatterns = []datePattern{
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`), layoutParser("2006-01-02T15:04:05Z")},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d+Z`), layoutParser("2006-01-02T15:04:05.999999999Z")},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[+-]\d{2}:\d{2}`), layoutParser("2006-01-02T15:04:05-07:00")},
	{regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日\s*(\d{1,2}):(\d{2}):(\d{2})`), numericParser(1, 2, 3, 4, 5, 6)},
	{regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`), numericParser(1, 2, 3)},
	{regexp.MustCompile(`[A-Za-z]{3}\s+\d{1,2}\s+\d{4}\s+\d{1,2}:\d{2}:\d{2}`), layoutParser("Jan 2 2006 15:04:05")},
	{regexp.MustCompile(`[A-Za-z]{3}\s+\d{1,2}\s+\d{4}`), layoutParser("Jan 2 2006")},
	{regexp.MustCompile(`[A-Za-z]{3},\s+\d{1,2}\s+[A-Za-z]{3}\s+\d{4}\s+\d{1,2}:\d{2}:\d{2}\s+[A-Za-z]{3}`), layoutParser("Mon, 2 Jan 2006 15:04:05 MST")},
	{regexp.MustCompile(`(\d{4})/(\d{1,2})/(\d{1,2})\s+(\d{1,2}):(\d{2}):(\d{2})`), numericParser(1, 2, 3, 4, 5, 6)},
	{regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})\s+(\d{1,2}):(\d{2}):(\d{2})`), numericParser(3, 1, 2, 4, 5, 6)},
}

// ParseDate parses a feed date. It returns nil when no format applies;
// an unparseable date is not an error.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range nativeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	for _, p := range fallbackPatterns {
		m := p.re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		if t, err := p.parse(m); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
