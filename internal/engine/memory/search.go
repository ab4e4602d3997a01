package memory

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/nova/internal/engine"
)

// matchSearchStage approximates an Atlas $search stage: text operators match
// on words, equals/range/in/exists behave like their query counterparts.
func matchSearchStage(doc map[string]any, stage map[string]any) (bool, error) {
	for key, arg := range stage {
		switch key {
		case "index", "sort", "highlight", "count", "returnStoredSource", "scoreDetails":
			continue
		}
		op, ok := arg.(map[string]any)
		if !ok {
			return false, fmt.Errorf("$search.%s expects an object, got %T", key, arg)
		}
		matched, err := searchOperator(doc, key, op)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

func searchOperator(doc map[string]any, kind string, op map[string]any) (bool, error) {
	switch kind {
	case "compound":
		return searchCompound(doc, op)
	case "text", "phrase", "autocomplete":
		return searchText(doc, op), nil
	case "equals":
		v, exists := lookupPath(doc, op["path"])
		return matchEq(v, exists, op["value"]), nil
	case "range":
		v, _ := lookupPath(doc, op["path"])
		for _, bound := range []string{"gt", "gte", "lt", "lte"} {
			arg, ok := op[bound]
			if !ok {
				continue
			}
			if !anyElement(v, func(x any) bool { return compareOp("$"+bound, x, arg) }) {
				return false, nil
			}
		}
		return true, nil
	case "in":
		v, exists := lookupPath(doc, op["path"])
		for _, item := range engine.Flatten(op["value"]) {
			if matchEq(v, exists, item) {
				return true, nil
			}
		}
		return false, nil
	case "exists":
		_, exists := lookupPath(doc, op["path"])
		return exists, nil
	default:
		return false, fmt.Errorf("unsupported $search operator %q", kind)
	}
}

func searchCompound(doc map[string]any, c map[string]any) (bool, error) {
	for _, clause := range []string{"must", "filter"} {
		for _, item := range clauses(c[clause]) {
			ok, err := searchClause(doc, item)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	for _, item := range clauses(c["mustNot"]) {
		ok, err := searchClause(doc, item)
		if err != nil || ok {
			return false, err
		}
	}
	if should := clauses(c["should"]); len(should) > 0 {
		for _, item := range should {
			if ok, err := searchClause(doc, item); err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	return true, nil
}

func searchClause(doc map[string]any, clause map[string]any) (bool, error) {
	for kind, arg := range clause {
		op, ok := arg.(map[string]any)
		if !ok {
			return false, fmt.Errorf("$search clause %s expects an object, got %T", kind, arg)
		}
		matched, err := searchOperator(doc, kind, op)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

func clauses(v any) []map[string]any {
	var out []map[string]any
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
	case []map[string]any:
		out = x
	}
	return out
}

func searchText(doc map[string]any, op map[string]any) bool {
	query, _ := op["query"].(string)
	terms := words(query, false)
	if len(terms) == 0 {
		return false
	}

	var found bool
	check := func(s string) {
		for w := range words(s, false) {
			if terms[w] {
				found = true
				return
			}
		}
	}

	paths, wildcard := searchPaths(op["path"])
	if wildcard {
		walkStrings(doc, check)
		return found
	}
	for _, p := range paths {
		v, _ := engine.Lookup(doc, p)
		walkStrings(v, check)
		if found {
			return true
		}
	}
	return found
}

func searchPaths(v any) ([]string, bool) {
	switch p := v.(type) {
	case nil:
		return nil, true
	case string:
		return []string{p}, false
	case []string:
		return p, false
	case []any:
		out := make([]string, 0, len(p))
		for _, item := range p {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, false
	case map[string]any:
		w, _ := p["wildcard"].(string)
		return nil, strings.Contains(w, "*")
	}
	return nil, false
}

func lookupPath(doc map[string]any, path any) (any, bool) {
	p, _ := path.(string)
	if p == "" {
		return nil, false
	}
	return engine.Lookup(doc, p)
}
