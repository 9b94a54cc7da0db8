package samapi

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// Record is one raw opportunity as returned by the search endpoint. Numbers
// are decoded as json.Number.
type Record map[string]any

// Value returns the first of keys holding a non-empty value.
func (r Record) Value(keys ...string) any {
	for _, key := range keys {
		v, ok := r[key]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return v
	}
	return nil
}

// String is Value rendered as text. Missing values yield "".
func (r Record) String(keys ...string) string {
	return Stringify(r.Value(keys...))
}

// Records returns the value under key as a list of objects. A single object
// becomes a one-element list and non-object entries are dropped.
func (r Record) Records(keys ...string) []Record {
	switch v := r.Value(keys...).(type) {
	case map[string]any:
		return []Record{v}
	case Record:
		return []Record{v}
	case []any:
		out := make([]Record, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// Strings returns a scalar or list value as a list of strings.
func (r Record) Strings(keys ...string) []string {
	switch v := r.Value(keys...).(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := Stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{Stringify(v)}
	}
}

func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
