package verify

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

const maxSummaryLen = 200

// maxExactInt is the largest magnitude a JSON number keeps exactly once
// decoded as float64.
const maxExactInt = 1 << 53

// Canonicalize converts v into a plain JSON value. The second result is true
// when some part of v had no exact JSON form: arrays (fixed-size tuples),
// maps with non-string keys, non-finite floats, integers beyond 2^53 and
// any other type. Those parts are kept as lists, stringified keys, or a
// {"type_name","summary"} placeholder.
func Canonicalize(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case bool, string, json.Number:
		return x, false
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return placeholder(v), true
		}
		return x, false
	case []any:
		out := make([]any, len(x))
		lossy := false
		for i, item := range x {
			var l bool
			out[i], l = Canonicalize(item)
			lossy = lossy || l
		}
		return out, lossy
	case map[string]any:
		out := make(map[string]any, len(x))
		lossy := false
		for k, item := range x {
			var l bool
			out[k], l = Canonicalize(item)
			lossy = lossy || l
		}
		return out, lossy
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), false
	case reflect.String:
		return rv.String(), false
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		return n, n > maxExactInt || n < -maxExactInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		return n, n > maxExactInt
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return placeholder(v), true
		}
		return f, false
	case reflect.Slice:
		if rv.IsNil() {
			return []any{}, false
		}
		return canonicalList(rv, false)
	case reflect.Array:
		return canonicalList(rv, true)
	case reflect.Map:
		return canonicalMap(rv)
	}
	return placeholder(v), true
}

func canonicalList(rv reflect.Value, lossy bool) (any, bool) {
	out := make([]any, rv.Len())
	for i := range out {
		var l bool
		out[i], l = Canonicalize(rv.Index(i).Interface())
		lossy = lossy || l
	}
	return out, lossy
}

func canonicalMap(rv reflect.Value) (any, bool) {
	type entry struct {
		key string
		val reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	lossy := false
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		var key string
		if k.Kind() == reflect.String {
			key = k.String()
		} else {
			key = fmt.Sprint(k.Interface())
			lossy = true
		}
		entries = append(entries, entry{key: key, val: iter.Value()})
	}
	// Stringified keys may collide; sorting makes the survivor deterministic.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	out := make(map[string]any, len(entries))
	for _, e := range entries {
		val, l := Canonicalize(e.val.Interface())
		out[e.key] = val
		lossy = lossy || l
	}
	return out, lossy
}

func placeholder(v any) map[string]any {
	summary := strings.Join(strings.Fields(fmt.Sprintf("%#v", v)), " ")
	if len(summary) > maxSummaryLen {
		summary = summary[:maxSummaryLen-3] + "..."
	}
	return map[string]any{
		"type_name": fmt.Sprintf("%T", v),
		"summary":   summary,
	}
}
