package body

import (
	"errors"
	"fmt"
)

// Reserved search index names.
const (
	IndexText  = "$text"
	IndexRegex = "$regex"
)

// SearchSpec is the $search directive.
type SearchSpec struct {
	Index              string
	Path               []string
	Language           string
	IsCompound         bool
	CaseSensitive      *bool
	DiacriticSensitive *bool
}

// ParseSearch accepts a SearchSpec, a pointer to one, or a plain mapping.
func ParseSearch(raw any) (*SearchSpec, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case *SearchSpec:
		return v.Clone(), nil
	case SearchSpec:
		return v.Clone(), nil
	case map[string]any:
		return searchFromMap(v)
	default:
		return nil, fmt.Errorf("expected a search spec, got %T", raw)
	}
}

func searchFromMap(m map[string]any) (*SearchSpec, error) {
	s := &SearchSpec{}
	for k, v := range m {
		switch k {
		case "index":
			idx, ok := v.(string)
			if !ok && v != nil {
				return nil, errors.New("index must be a string")
			}
			s.Index = idx
		case "path":
			p, err := paths(v)
			if err != nil {
				return nil, err
			}
			s.Path = p
		case "language":
			lang, _ := v.(string)
			s.Language = lang
		case "isCompound":
			s.IsCompound = truthy(v)
		case "caseSensitive":
			b := truthy(v)
			s.CaseSensitive = &b
		case "diacriticSensitive":
			b := truthy(v)
			s.DiacriticSensitive = &b
		default:
			return nil, fmt.Errorf("unknown search option %q", k)
		}
	}
	return s, nil
}

func paths(v any) ([]string, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{p}, nil
	case []string:
		return append([]string(nil), p...), nil
	case []any:
		out := make([]string, 0, len(p))
		for _, item := range p {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("path entries must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("path must be a string or a list, got %T", v)
	}
}

// Clone copies s.
func (s *SearchSpec) Clone() *SearchSpec {
	if s == nil {
		return nil
	}
	c := *s
	c.Path = append([]string(nil), s.Path...)
	if s.CaseSensitive != nil {
		b := *s.CaseSensitive
		c.CaseSensitive = &b
	}
	if s.DiacriticSensitive != nil {
		b := *s.DiacriticSensitive
		c.DiacriticSensitive = &b
	}
	return &c
}

// Map renders s as a plain mapping.
func (s *SearchSpec) Map() map[string]any {
	m := map[string]any{"index": s.Index}
	if len(s.Path) > 0 {
		p := make([]any, len(s.Path))
		for i, v := range s.Path {
			p[i] = v
		}
		m["path"] = p
	}
	if s.Language != "" {
		m["language"] = s.Language
	}
	if s.IsCompound {
		m["isCompound"] = true
	}
	if s.CaseSensitive != nil {
		m["caseSensitive"] = *s.CaseSensitive
	}
	if s.DiacriticSensitive != nil {
		m["diacriticSensitive"] = *s.DiacriticSensitive
	}
	return m
}
