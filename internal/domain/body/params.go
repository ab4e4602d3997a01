package body

import "strconv"

// Well-known parameter keys.
const (
	ParamSearchText = "searchText"
	ParamLimit      = "limit"
	ParamSkip       = "skip"
	ParamFilters    = "filters"
	ParamOptions    = "options"
	ParamBody       = "$body"
)

// Params are caller-supplied values consumed by filter functions, pagination
// and search compilation.
type Params map[string]any

// Clone deep-copies p.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	return Params(cloneMap(p))
}

// With returns a deep copy of p with over assigned on top (shallow per key).
func (p Params) With(over Params) Params {
	out := p.Clone()
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Map returns the mapping stored under key, or nil.
func (p Params) Map(key string) map[string]any {
	switch m := p[key].(type) {
	case map[string]any:
		return m
	case Params:
		return m
	default:
		return nil
	}
}

// String returns the value under key when it is a string.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the numeric value under key; strings holding integers are accepted.
func (p Params) Int(key string) (int64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	if s, isStr := v.(string); isStr {
		n, err := strconv.ParseInt(s, 10, 64)
		return n, err == nil
	}
	f, ok := ToFloat(v)
	return int64(f), ok
}

// SearchText returns params.searchText.
func (p Params) SearchText() string {
	return p.String(ParamSearchText)
}
