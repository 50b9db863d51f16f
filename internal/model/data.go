package model

import (
	"encoding/json"
	"sort"
	"strconv"
)

// CanonicalDataMap is the reconciled view of a subject's metrics. A field
// that is not available is absent; Set never stores an empty value.
type CanonicalDataMap map[string]any

// Set stores v under field unless v is empty. It reports whether the value
// was stored.
func (m CanonicalDataMap) Set(field string, v any) bool {
	if IsEmpty(v) {
		return false
	}
	m[field] = v
	return true
}

// Has reports whether field is present.
func (m CanonicalDataMap) Has(field string) bool {
	_, ok := m[field]
	return ok
}

// Float returns field as a float64 when it holds a number.
func (m CanonicalDataMap) Float(field string) (float64, bool) {
	v, ok := m[field]
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// Series returns field as a time series when it holds one.
func (m CanonicalDataMap) Series(field string) (Series, bool) {
	v, ok := m[field]
	if !ok {
		return nil, false
	}
	return ToSeries(v)
}

// Clone returns a deep copy.
func (m CanonicalDataMap) Clone() CanonicalDataMap {
	if m == nil {
		return nil
	}
	return CanonicalDataMap(CloneMap(m))
}

// IsEmpty reports whether v carries no information: nil, an empty string,
// or an empty container.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []float64:
		return len(t) == 0
	case [][]float64:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case []map[string]any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case Series:
		return len(t) == 0
	default:
		return false
	}
}

// IsFalsy extends IsEmpty with zero numbers and false. Merge treats a falsy
// field as fillable by a lower-priority provider.
func IsFalsy(v any) bool {
	if IsEmpty(v) {
		return true
	}
	if b, ok := v.(bool); ok {
		return !b
	}
	if f, ok := ToFloat(v); ok {
		return f == 0
	}
	return false
}

// ToFloat converts the numeric representations found in decoded payloads.
// Numeric strings are accepted.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Point is one sample of a history series.
type Point struct {
	Timestamp int64 // unix milliseconds
	Value     float64
}

// Series is an ordered list of samples.
type Series []Point

// ToSeries converts the encodings a series can take: [][]float64 as built in
// memory, or []any of two-element []any as decoded from JSON.
func ToSeries(v any) (Series, bool) {
	switch t := v.(type) {
	case Series:
		return t, true
	case [][]float64:
		out := make(Series, 0, len(t))
		for _, p := range t {
			if len(p) < 2 {
				return nil, false
			}
			out = append(out, Point{Timestamp: int64(p[0]), Value: p[1]})
		}
		return out, true
	case []any:
		out := make(Series, 0, len(t))
		for _, e := range t {
			pair, ok := e.([]any)
			if !ok || len(pair) < 2 {
				return nil, false
			}
			ts, ok1 := ToFloat(pair[0])
			val, ok2 := ToFloat(pair[1])
			if !ok1 || !ok2 {
				return nil, false
			}
			out = append(out, Point{Timestamp: int64(ts), Value: val})
		}
		return out, true
	default:
		return nil, false
	}
}

// Raw returns the series in its storable [][]float64 form.
func (s Series) Raw() [][]float64 {
	out := make([][]float64, len(s))
	for i, p := range s {
		out[i] = []float64{float64(p.Timestamp), p.Value}
	}
	return out
}

// Latest returns the sample with the greatest timestamp. The receiver is
// not reordered.
func (s Series) Latest() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	sorted := append(Series{}, s...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	return sorted[len(sorted)-1], true
}
