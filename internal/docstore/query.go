package docstore

import (
	"sort"
	"strings"
	"time"
)

// Matches reports whether data satisfies every filter of q.
func (q Query) Matches(data Data) bool {
	for _, f := range q.Filters {
		v, ok := data[f.Field]
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if !equal(v, f.Value) {
				return false
			}
		case OpArrayContains:
			if !contains(v, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Apply filters, orders and truncates docs according to q. Stores that cannot
// push a query down to their backend evaluate it with Apply.
func (q Query) Apply(docs []Snapshot) []Snapshot {
	out := make([]Snapshot, 0, len(docs))
	for _, d := range docs {
		if d.Exists && q.Matches(d.Data) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compare(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		if q.Desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// LiteralString returns v when it is a string that Matches compares byte for
// byte, that is one that reads as neither a timestamp nor a number.
func LiteralString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	if _, isTime := toTime(s); isTime {
		return "", false
	}
	if _, isNum := toFloat(s); isNum {
		return "", false
	}
	return s, true
}

// InCollection reports whether path names a document directly inside collection.
func InCollection(path, collection string) bool {
	parent, _, err := Split(path)
	return err == nil && parent == strings.Trim(collection, "/")
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Equal(tb)
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	return okA && okB && sa == sb
}

func contains(arr, v any) bool {
	switch items := arr.(type) {
	case []string:
		for _, item := range items {
			if equal(item, v) {
				return true
			}
		}
	case []any:
		for _, item := range items {
			if equal(item, v) {
				return true
			}
		}
	}
	return false
}

// compare orders values the way a document database does: nulls first, then
// numbers, then timestamps, then strings.
func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return cmp(fa < fb, fa > fb)
	case 2:
		ta, _ := toTime(a)
		tb, _ := toTime(b)
		return cmp(ta.Before(tb), ta.After(tb))
	case 3:
		sa, sb := toString(a), toString(b)
		return cmp(sa < sb, sa > sb)
	default:
		return 0
	}
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := v.(time.Time); ok {
		return 2
	}
	if s, ok := v.(string); ok {
		if _, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return 2
		}
		return 3
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	return 3
}

func cmp(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	default:
		return 0
	}
}

// Resolve returns a copy of data with ServerTimestamp sentinels replaced by now.
func Resolve(data Data, now time.Time) Data {
	out := make(Data, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case serverTimestamp:
			out[k] = now
		case Data:
			out[k] = Resolve(val, now)
		case map[string]any:
			out[k] = Resolve(Data(val), now)
		default:
			out[k] = v
		}
	}
	return out
}

// MergeInto overlays the top-level fields of update onto base.
func MergeInto(base, update Data) Data {
	out := base.Clone()
	if out == nil {
		out = Data{}
	}
	for k, v := range update {
		out[k] = v
	}
	return out
}

// HasServerTimestamp reports whether data contains the sentinel anywhere.
func HasServerTimestamp(data Data) bool {
	for _, v := range data {
		switch val := v.(type) {
		case serverTimestamp:
			return true
		case Data:
			if HasServerTimestamp(val) {
				return true
			}
		case map[string]any:
			if HasServerTimestamp(Data(val)) {
				return true
			}
		}
	}
	return false
}
