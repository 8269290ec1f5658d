package sandbox

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"

	"github.com/shopmind/shopmind/plugin/woocommerce"
)

var dateLayouts = []string{
	time.RFC3339,
	woocommerce.TimeLayout,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func roundTo(f float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(f*p) / p
}

// builtins returns the helper allowlist bound to one execution.
func (e *execution) builtins() starlark.StringDict {
	return starlark.StringDict{
		"fetch":     starlark.NewBuiltin("fetch", e.fetch),
		"sum":       starlark.NewBuiltin("sum", sumBuiltin),
		"avg":       starlark.NewBuiltin("avg", avgBuiltin),
		"round":     starlark.NewBuiltin("round", roundBuiltin),
		"percent":   starlark.NewBuiltin("percent", percentBuiltin),
		"to_number": starlark.NewBuiltin("to_number", toNumberBuiltin),
		"sort_by":   starlark.NewBuiltin("sort_by", sortByBuiltin),
		"group_by":  starlark.NewBuiltin("group_by", groupByBuiltin),
		"date_diff": starlark.NewBuiltin("date_diff", dateDiffBuiltin),
		"sleep":     starlark.NewBuiltin("sleep", e.sleep),
	}
}

// fetch(endpoint, params=None, fetch_all=False) reads from the store API.
// A truthy "fetchAll" or "fetch_all" key in params also selects fetch-all mode.
func (e *execution) fetch(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		endpoint string
		params   starlark.Value = starlark.None
		fetchAll bool
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "endpoint", &endpoint, "params?", &params, "fetch_all?", &fetchAll); err != nil {
		return nil, err
	}
	if e.fetcher == nil {
		return nil, fmt.Errorf("%s: store credentials are not configured", b.Name())
	}

	query := woocommerce.Params{}
	if params != starlark.None {
		m, ok := fromStarlark(params).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: params must be a dict, got %s", b.Name(), params.Type())
		}
		for k, v := range m {
			if k == "fetchAll" || k == "fetch_all" {
				if flag, ok := v.(bool); ok && flag {
					fetchAll = true
				}
				continue
			}
			query[k] = v
		}
	}

	e.logger.Info("[sandbox] fetch", "endpoint", endpoint, "fetchAll", fetchAll)
	var (
		data any
		err  error
	)
	if fetchAll {
		data, err = e.fetcher.FetchAll(e.ctx, endpoint, query)
	} else {
		data, err = e.fetcher.Get(e.ctx, endpoint, query)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %v", b.Name(), endpoint, err)
	}
	return toStarlark(data)
}

func (e *execution) sleep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seconds starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seconds); err != nil {
		return nil, err
	}
	f, ok := number(seconds)
	if !ok || f < 0 {
		return nil, fmt.Errorf("%s: expected a non-negative number of seconds", b.Name())
	}
	timer := time.NewTimer(time.Duration(f * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return starlark.None, nil
	case <-e.ctx.Done():
		return nil, e.ctx.Err()
	}
}

func unpackItemsKey(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Iterable, string, error) {
	var (
		items starlark.Iterable
		key   string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "items", &items, "key?", &key); err != nil {
		return nil, "", err
	}
	return items, key, nil
}

func sumValues(items starlark.Iterable, key string) (float64, int) {
	var (
		total float64
		count int
		item  starlark.Value
	)
	it := items.Iterate()
	defer it.Done()
	for it.Next(&item) {
		if f, ok := number(field(item, key)); ok {
			total += f
			count++
		}
	}
	return total, count
}

// sum(items, key=None) adds numeric values, reading item[key] when key is given.
func sumBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	items, key, err := unpackItemsKey(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	total, _ := sumValues(items, key)
	return starlark.Float(total), nil
}

// avg(items, key=None) is 0 for an empty input.
func avgBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	items, key, err := unpackItemsKey(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	total, count := sumValues(items, key)
	if count == 0 {
		return starlark.Float(0), nil
	}
	return starlark.Float(total / float64(count)), nil
}

func roundBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		x      starlark.Value
		digits = 2
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &x, "digits?", &digits); err != nil {
		return nil, err
	}
	f, ok := number(x)
	if !ok {
		return nil, fmt.Errorf("%s: %s is not a number", b.Name(), x.Type())
	}
	return starlark.Float(roundTo(f, digits)), nil
}

// percent(part, total, digits=2) is 0 when total is 0.
func percentBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		part, total starlark.Value
		digits      = 2
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "part", &part, "total", &total, "digits?", &digits); err != nil {
		return nil, err
	}
	p, ok1 := number(part)
	t, ok2 := number(total)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s: arguments must be numbers", b.Name())
	}
	if t == 0 {
		return starlark.Float(0), nil
	}
	return starlark.Float(roundTo(p/t*100, digits)), nil
}

func toNumberBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	f, _ := number(x)
	return starlark.Float(f), nil
}

// sort_by(items, key, reverse=False) returns a new list ordered by item[key].
// Numeric values compare numerically; everything else compares as text.
func sortByBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		items   starlark.Iterable
		key     string
		reverse bool
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "items", &items, "key", &key, "reverse?", &reverse); err != nil {
		return nil, err
	}
	var (
		elems []starlark.Value
		item  starlark.Value
	)
	it := items.Iterate()
	for it.Next(&item) {
		elems = append(elems, item)
	}
	it.Done()

	less := func(a, b starlark.Value) bool {
		fa, okA := number(a)
		fb, okB := number(b)
		if okA && okB {
			return fa < fb
		}
		sa, _ := starlark.AsString(a)
		sb, _ := starlark.AsString(b)
		if sa == "" && sb == "" {
			return a.String() < b.String()
		}
		return sa < sb
	}
	sort.SliceStable(elems, func(i, j int) bool {
		vi, vj := field(elems[i], key), field(elems[j], key)
		if reverse {
			return less(vj, vi)
		}
		return less(vi, vj)
	})
	return starlark.NewList(elems), nil
}

// group_by(items, key) returns {str(item[key]): [items...]} in first-seen order.
func groupByBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		items starlark.Iterable
		key   string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "items", &items, "key", &key); err != nil {
		return nil, err
	}
	groups := starlark.NewDict(0)
	var item starlark.Value
	it := items.Iterate()
	defer it.Done()
	for it.Next(&item) {
		v := field(item, key)
		name, ok := starlark.AsString(v)
		if !ok {
			name = v.String()
		}
		existing, found, err := groups.Get(starlark.String(name))
		if err != nil {
			return nil, err
		}
		if !found {
			existing = starlark.NewList(nil)
			if err := groups.SetKey(starlark.String(name), existing); err != nil {
				return nil, err
			}
		}
		if err := existing.(*starlark.List).Append(item); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// date_diff(start, end, unit="days") is end minus start in the given unit.
func dateDiffBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		start, end string
		unit       = "days"
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "end", &end, "unit?", &unit); err != nil {
		return nil, err
	}
	from, err := parseDate(start)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	to, err := parseDate(end)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", b.Name(), err)
	}
	d := to.Sub(from)
	switch strings.ToLower(unit) {
	case "days", "day":
		return starlark.Float(d.Hours() / 24), nil
	case "hours", "hour":
		return starlark.Float(d.Hours()), nil
	case "minutes", "minute":
		return starlark.Float(d.Minutes()), nil
	case "seconds", "second":
		return starlark.Float(d.Seconds()), nil
	case "weeks", "week":
		return starlark.Float(d.Hours() / (24 * 7)), nil
	default:
		return nil, fmt.Errorf("%s: unsupported unit %q", b.Name(), unit)
	}
}

// Fetcher is the store access the sandbox exposes through fetch().
type Fetcher interface {
	Get(ctx context.Context, endpoint string, params woocommerce.Params) (any, error)
	FetchAll(ctx context.Context, endpoint string, params woocommerce.Params) ([]map[string]any, error)
}
