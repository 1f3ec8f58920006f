// Package datemode resolves symbolic date tokens (today, start_of_week, ...)
// to absolute calendar dates. All results are ISO dates in YYYY-MM-DD form;
// unknown tokens pass through unchanged, so resolution is idempotent.
package datemode

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ISODate is the calendar-date layout every resolved value uses.
const ISODate = "2006-01-02"

// Recognised date_mode tokens.
const (
	ModeToday           = "today"
	ModeYesterday       = "yesterday"
	ModeTomorrow        = "tomorrow"
	ModeOneWeekAgo      = "one_week_ago"
	ModeOneWeekFromNow  = "one_week_from_now"
	ModeOneMonthAgo     = "one_month_ago"
	ModeOneMonthFromNow = "one_month_from_now"
	ModeStartOfWeek     = "start_of_week" // Sunday-based
	ModeEndOfWeek       = "end_of_week"
	ModeStartOfMonth    = "start_of_month"
	ModeEndOfMonth      = "end_of_month"
	ModeExactDate       = "exact_date" // requires date_mode_value
)

// Resolve turns a filter date value into a bound parameter. The value is
// either a plain string or a map carrying date_mode_value, date, and
// date_mode keys, in that priority order. Values that cannot be resolved are
// returned unchanged (stringified when not already a string).
func Resolve(value any, now time.Time) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return resolveString(v, now)
	case time.Time:
		return v.Format(ISODate)
	case map[string]any:
		return resolveMap(v, now)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, s := range v {
			m[k] = s
		}
		return resolveMap(m, now)
	default:
		return fmt.Sprint(v)
	}
}

func stringKey(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

func resolveMap(m map[string]any, now time.Time) string {
	if raw, ok := stringKey(m, "date_mode_value"); ok && raw != "" {
		return resolveExact(raw, now)
	}
	if raw, ok := stringKey(m, "date"); ok && raw != "" {
		return resolveString(raw, now)
	}
	if mode, ok := stringKey(m, "date_mode"); ok && mode != "" {
		if resolved, ok := resolveToken(mode, now); ok {
			return resolved
		}
		return mode
	}
	return ""
}

func resolveString(s string, now time.Time) string {
	if resolved, ok := resolveToken(s, now); ok {
		return resolved
	}
	if isoShaped(s) {
		return s[:10]
	}
	return s
}

// resolveExact handles exact_date values: ISO dates pass through trimmed to
// the calendar prefix, anything else gets one natural-language parse attempt.
func resolveExact(raw string, now time.Time) string {
	if isoShaped(raw) {
		return raw[:10]
	}
	if parsed, ok := parseNatural(raw, now); ok {
		return parsed
	}
	return raw
}

func resolveToken(mode string, now time.Time) (string, bool) {
	day := func(t time.Time) string { return t.Format(ISODate) }

	switch strings.TrimSpace(mode) {
	case ModeToday:
		return day(now), true
	case ModeYesterday:
		return day(now.AddDate(0, 0, -1)), true
	case ModeTomorrow:
		return day(now.AddDate(0, 0, 1)), true
	case ModeOneWeekAgo:
		return day(now.AddDate(0, 0, -7)), true
	case ModeOneWeekFromNow:
		return day(now.AddDate(0, 0, 7)), true
	case ModeOneMonthAgo:
		return day(now.AddDate(0, -1, 0)), true
	case ModeOneMonthFromNow:
		return day(now.AddDate(0, 1, 0)), true
	case ModeStartOfWeek:
		return day(startOfWeek(now)), true
	case ModeEndOfWeek:
		return day(startOfWeek(now).AddDate(0, 0, 6)), true
	case ModeStartOfMonth:
		return day(startOfMonth(now)), true
	case ModeEndOfMonth:
		return day(startOfMonth(now).AddDate(0, 1, -1)), true
	}
	return "", false
}

func startOfWeek(t time.Time) time.Time {
	return t.AddDate(0, 0, -int(t.Weekday()))
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// isoShaped reports whether s starts with a YYYY-MM-DD calendar date.
func isoShaped(s string) bool {
	if len(s) < 10 {
		return false
	}
	for i, r := range s[:10] {
		if i == 4 || i == 7 {
			if r != '-' {
				return false
			}
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	naturalOnce   sync.Once
	naturalParser *when.Parser
)

// parseNatural gives free-form exact_date values one chance at a
// natural-language interpretation.
func parseNatural(raw string, now time.Time) (string, bool) {
	naturalOnce.Do(func() {
		naturalParser = when.New(nil)
		naturalParser.Add(en.All...)
		naturalParser.Add(common.All...)
	})

	result, err := naturalParser.Parse(raw, now)
	if err != nil || result == nil {
		return "", false
	}
	return result.Time.Format(ISODate), true
}
