package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Occurrence is one entity snapshot captured when an alert rule fired.
// Field presence, not a discriminant, tells which entity it describes.
type Occurrence map[string]any

// Snapshot is the decoded alert_log details document.
type Snapshot struct {
	Rule []Occurrence `json:"rule"`
	// Order holds the field names of each occurrence as they appeared in
	// the decoded document.
	Order [][]string `json:"-"`
}

// Keys returns the field names of occurrence i in document order. Snapshots
// built in code carry no order; their keys come back sorted.
func (s Snapshot) Keys(i int) []string {
	rec := s.Rule[i]
	if i < len(s.Order) && len(s.Order[i]) == len(rec) {
		return s.Order[i]
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o Occurrence) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Truthy reports whether the field is present and not falsy. Falsy values
// are nil, false, zero numbers, "" and "0".
func (o Occurrence) Truthy(key string) bool {
	v, ok := o[key]
	if !ok {
		return false
	}
	return truthy(v)
}

func (o Occurrence) String(key string) string {
	return Stringify(o[key])
}

// Int returns the field as an integer when it holds a whole number.
func (o Occurrence) Int(key string) (int64, bool) {
	switch v := o[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func (o Occurrence) Clone() Occurrence {
	out := make(Occurrence, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String() != ""
		}
		return f != 0
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// Stringify prints a snapshot value the way it was written at fire time.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "1"
		}
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return fmt.Sprint(v)
}
