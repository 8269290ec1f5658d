package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
)

// toStarlark converts decoded JSON into Starlark values.
func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return starlark.MakeInt64(int64(x)), nil
		}
		return starlark.Float(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return starlark.Float(f), nil
	case []any:
		elems := make([]starlark.Value, 0, len(x))
		for _, item := range x {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case []map[string]any:
		elems := make([]starlark.Value, 0, len(x))
		for _, item := range x {
			sv, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			elems = append(elems, sv)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(x))
		for _, k := range keys {
			sv, err := toStarlark(x[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

// fromStarlark converts a Starlark value into plain Go values suitable for JSON.
func fromStarlark(v starlark.Value) any {
	switch x := v.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(x)
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i
		}
		return x.String()
	case starlark.Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case starlark.String:
		return string(x)
	case *starlark.Dict:
		out := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				key = item[0].String()
			}
			out[key] = fromStarlark(item[1])
		}
		return out
	case starlark.Indexable:
		out := make([]any, 0, x.Len())
		for i := 0; i < x.Len(); i++ {
			out = append(out, fromStarlark(x.Index(i)))
		}
		return out
	case starlark.Iterable:
		var out []any
		it := x.Iterate()
		defer it.Done()
		var item starlark.Value
		for it.Next(&item) {
			out = append(out, fromStarlark(item))
		}
		return out
	default:
		return v.String()
	}
}

// number reads ints, floats and numeric strings. The store API reports money as strings.
func number(v starlark.Value) (float64, bool) {
	switch x := v.(type) {
	case starlark.Int, starlark.Float:
		f, ok := starlark.AsFloat(x)
		return f, ok
	case starlark.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
		return f, err == nil
	case starlark.Bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// field returns item[key] for dicts, or item itself when key is empty.
func field(item starlark.Value, key string) starlark.Value {
	if key == "" {
		return item
	}
	dict, ok := item.(*starlark.Dict)
	if !ok {
		return starlark.None
	}
	v, found, err := dict.Get(starlark.String(key))
	if err != nil || !found {
		return starlark.None
	}
	return v
}
