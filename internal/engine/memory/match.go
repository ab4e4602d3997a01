package memory

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kailas-cloud/nova/internal/domain"
	"github.com/kailas-cloud/nova/internal/domain/body"
	"github.com/kailas-cloud/nova/internal/engine"
)

// match evaluates a Mongo-style filter document against doc.
func match(doc map[string]any, filters map[string]any) (bool, error) {
	for key, cond := range filters {
		ok, err := matchKey(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchKey(doc map[string]any, key string, cond any) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		return matchLogical(doc, key, cond)
	case "$text":
		spec, ok := cond.(map[string]any)
		if !ok {
			return false, fmt.Errorf("$text expects an object, got %T", cond)
		}
		return matchText(doc, spec), nil
	case engine.SearchStage:
		stage, ok := cond.(map[string]any)
		if !ok {
			return false, fmt.Errorf("$search expects an object, got %T", cond)
		}
		return matchSearchStage(doc, stage)
	}
	if body.IsDirective(key) {
		return false, fmt.Errorf("%w: %s", domain.ErrUnsupportedOperator, key)
	}

	v, exists := engine.Lookup(doc, key)
	if ops, ok := operatorDoc(cond); ok {
		return matchOperators(v, exists, ops)
	}
	return matchEq(v, exists, cond), nil
}

func matchLogical(doc map[string]any, op string, cond any) (bool, error) {
	list, ok := cond.([]any)
	if !ok {
		return false, fmt.Errorf("%s expects a list, got %T", op, cond)
	}
	for _, item := range list {
		sub, ok := item.(map[string]any)
		if !ok {
			return false, fmt.Errorf("%s entries must be objects, got %T", op, item)
		}
		matched, err := match(doc, sub)
		if err != nil {
			return false, err
		}
		switch {
		case op == "$and" && !matched:
			return false, nil
		case op == "$or" && matched:
			return true, nil
		case op == "$nor" && matched:
			return false, nil
		}
	}
	return op != "$or", nil
}

// operatorDoc reports whether cond is {$op: ...} rather than a literal document.
func operatorDoc(cond any) (map[string]any, bool) {
	m, ok := cond.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !body.IsDirective(k) {
			return nil, false
		}
	}
	return m, true
}

func matchOperators(v any, exists bool, ops map[string]any) (bool, error) {
	for op, arg := range ops {
		ok, err := matchOperator(v, exists, op, arg, ops)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOperator(v any, exists bool, op string, arg any, ops map[string]any) (bool, error) {
	switch op {
	case "$eq":
		return matchEq(v, exists, arg), nil
	case "$ne":
		return !matchEq(v, exists, arg), nil
	case "$gt", "$gte", "$lt", "$lte":
		return anyElement(v, func(x any) bool { return compareOp(op, x, arg) }), nil
	case "$in":
		list, ok := arg.([]any)
		if !ok {
			list = engine.Flatten(arg)
		}
		for _, item := range list {
			if matchEq(v, exists, item) {
				return true, nil
			}
		}
		return false, nil
	case "$nin":
		ok, err := matchOperator(v, exists, "$in", arg, ops)
		return !ok, err
	case "$exists":
		return exists == truthy(arg), nil
	case "$regex":
		re, err := compileRegex(arg, ops["$options"])
		if err != nil {
			return false, err
		}
		return anyElement(v, func(x any) bool {
			s, ok := x.(string)
			return ok && re.MatchString(s)
		}), nil
	case "$options":
		return true, nil
	case "$not":
		sub, ok := operatorDoc(arg)
		if !ok {
			return false, fmt.Errorf("$not expects an operator object, got %T", arg)
		}
		matched, err := matchOperators(v, exists, sub)
		return !matched, err
	case "$size":
		list, ok := v.([]any)
		n, isNum := body.ToFloat(arg)
		return ok && isNum && float64(len(list)) == n, nil
	case "$all":
		for _, item := range engine.Flatten(arg) {
			if !matchEq(v, exists, item) {
				return false, nil
			}
		}
		return true, nil
	case "$elemMatch":
		sub, ok := arg.(map[string]any)
		if !ok {
			return false, fmt.Errorf("$elemMatch expects an object, got %T", arg)
		}
		list, _ := v.([]any)
		for _, item := range list {
			if m, isDoc := item.(map[string]any); isDoc {
				if matched, err := match(m, sub); err != nil || matched {
					return matched, err
				}
				continue
			}
			if ops, isOps := operatorDoc(sub); isOps {
				if matched, err := matchOperators(item, true, ops); err != nil || matched {
					return matched, err
				}
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s", domain.ErrUnsupportedOperator, op)
	}
}

// matchEq is equality with array membership; null matches a missing field.
func matchEq(v any, exists bool, want any) bool {
	if want == nil {
		return !exists || v == nil
	}
	if equal(v, want) {
		return true
	}
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if equal(item, want) {
				return true
			}
		}
	}
	return false
}

func anyElement(v any, fn func(any) bool) bool {
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if fn(item) {
				return true
			}
		}
		return false
	}
	return fn(v)
}

func compareOp(op string, x, arg any) bool {
	if !orderable(x, arg) {
		return false
	}
	c := compareValues(x, arg)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

func compileRegex(pattern, options any) (*regexp.Regexp, error) {
	var src string
	switch p := pattern.(type) {
	case string:
		src = p
	case *regexp.Regexp:
		src = p.String()
	default:
		return nil, fmt.Errorf("$regex expects a string, got %T", pattern)
	}
	if opts, ok := options.(string); ok {
		var flags strings.Builder
		for _, f := range opts {
			if strings.ContainsRune("imsU", f) {
				flags.WriteRune(f)
			}
		}
		if flags.Len() > 0 {
			src = "(?" + flags.String() + ")" + src
		}
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("$regex: %w", err)
	}
	return re, nil
}

// matchText matches when any word of $search appears as a word in any string
// of the document.
func matchText(doc map[string]any, spec map[string]any) bool {
	query, _ := spec["$search"].(string)
	caseSensitive := truthy(spec["$caseSensitive"])
	terms := words(query, caseSensitive)
	if len(terms) == 0 {
		return false
	}
	var found bool
	walkStrings(doc, func(s string) {
		if found {
			return
		}
		for w := range words(s, caseSensitive) {
			if terms[w] {
				found = true
				return
			}
		}
	})
	return found
}

func words(s string, caseSensitive bool) map[string]bool {
	if !caseSensitive {
		s = strings.ToLower(s)
	}
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}

func walkStrings(v any, fn func(string)) {
	switch x := v.(type) {
	case string:
		fn(x)
	case map[string]any:
		for _, item := range x {
			walkStrings(item, fn)
		}
	case []any:
		for _, item := range x {
			walkStrings(item, fn)
		}
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	}
	if f, ok := body.ToFloat(v); ok {
		return f != 0
	}
	return true
}
