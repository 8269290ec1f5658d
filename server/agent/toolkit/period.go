package toolkit

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/shopmind/shopmind/plugin/woocommerce"
)

// Period names a reporting window relative to now.
type Period string

const (
	PeriodWeek      Period = "week"
	PeriodMonth     Period = "month"
	PeriodLastMonth Period = "last_month"
	PeriodYear      Period = "year"
)

// Window is the half-open interval [After, Before).
type Window struct {
	After  time.Time
	Before time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.After) && t.Before(w.Before)
}

// Params returns after/before query parameters for the store API.
func (w Window) Params() woocommerce.Params {
	return woocommerce.Params{
		"after":  w.After.Format(woocommerce.TimeLayout),
		"before": w.Before.Format(woocommerce.TimeLayout),
	}
}

// PeriodWindow maps a named period onto a concrete window.
//
//	week       [now-7d, now)
//	month      [first of this month, now)
//	last_month [first of last month, first of this month)
//	year       [Jan 1, now)
func PeriodWindow(period string, now time.Time) (Window, error) {
	y, m, _ := now.Date()
	loc := now.Location()
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	switch Period(strings.ToLower(strings.TrimSpace(period))) {
	case PeriodWeek:
		return Window{After: now.AddDate(0, 0, -7), Before: now}, nil
	case PeriodMonth:
		return Window{After: monthStart, Before: now}, nil
	case PeriodLastMonth:
		return Window{After: monthStart.AddDate(0, -1, 0), Before: monthStart}, nil
	case PeriodYear:
		return Window{After: time.Date(y, time.January, 1, 0, 0, 0, 0, loc), Before: now}, nil
	default:
		return Window{}, errors.Errorf("unsupported period %q: use week, month, last_month or year", period)
	}
}

// Dates returns inclusive date_min/date_max report parameters for a window whose
// bounds fall on midnight.
func (w Window) Dates() woocommerce.Params {
	return woocommerce.Params{
		"date_min": w.After.Format(time.DateOnly),
		"date_max": w.Before.AddDate(0, 0, -1).Format(time.DateOnly),
	}
}

// salesWindows returns the day-aligned windows compared by sales growth. The
// current window runs through the end of today; the previous one ends where it
// starts.
//
//	week   [today-6d, tomorrow)     vs [today-13d, today-6d)
//	month  [first of month, tomorrow) vs last month
//	year   [Jan 1, tomorrow)        vs last year
func salesWindows(period string, now time.Time) (current, previous Window, err error) {
	previous, err = previousWindow(period, now)
	if err != nil {
		return Window{}, Window{}, err
	}
	current, err = PeriodWindow(period, now)
	if err != nil {
		return Window{}, Window{}, err
	}
	tomorrow := startOfDay(now).AddDate(0, 0, 1)
	current.Before = tomorrow
	if Period(period) == PeriodWeek {
		current.After = tomorrow.AddDate(0, 0, -7)
	}
	return current, previous, nil
}

// previousWindow is the comparison window used by sales growth. Only week, month
// and year are supported.
func previousWindow(period string, now time.Time) (Window, error) {
	y, m, _ := now.Date()
	loc := now.Location()
	switch Period(period) {
	case PeriodWeek:
		today := startOfDay(now)
		return Window{After: today.AddDate(0, 0, -13), Before: today.AddDate(0, 0, -6)}, nil
	case PeriodMonth:
		start := time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return Window{After: start.AddDate(0, -1, 0), Before: start}, nil
	case PeriodYear:
		return Window{
			After:  time.Date(y-1, time.January, 1, 0, 0, 0, 0, loc),
			Before: time.Date(y, time.January, 1, 0, 0, 0, 0, loc),
		}, nil
	default:
		return Window{}, errors.Errorf("unsupported comparison period %q: only week, month or year; use code_interpreter for custom ranges", period)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// customerDateFields are checked in order; the first one that parses is used.
var customerDateFields = []string{"date_registered", "date_created", "date_created_gmt", "date_modified"}

func customerDate(customer map[string]any) (time.Time, bool) {
	for _, key := range customerDateFields {
		s, _ := customer[key].(string)
		if strings.TrimSpace(s) == "" {
			continue
		}
		if t, ok := parseStoreTime(s); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseStoreTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{woocommerce.TimeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// filterCustomersByDate keeps customers whose first parseable date falls within [after, before).
// Customers without any usable date are excluded.
func filterCustomersByDate(customers []map[string]any, after, before *time.Time) []map[string]any {
	out := make([]map[string]any, 0, len(customers))
	for _, c := range customers {
		t, ok := customerDate(c)
		if !ok {
			continue
		}
		if after != nil && t.Before(*after) {
			continue
		}
		if before != nil && !t.Before(*before) {
			continue
		}
		out = append(out, c)
	}
	return out
}
