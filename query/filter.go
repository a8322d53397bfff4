// Package query evaluates document-store filter, update and sort expressions
// against in-memory documents. The vocabulary is the MongoDB one, so the
// embedded store backends accept exactly what the mongo backend forwards.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalid is wrapped by every error for a malformed filter, update or sort.
var ErrInvalid = errors.New("invalid query")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type predicate func(doc map[string]any) bool

// Filter is a compiled filter expression.
type Filter struct {
	match predicate
}

// Match reports whether doc satisfies the filter. A nil Filter matches everything.
func (f *Filter) Match(doc map[string]any) bool {
	if f == nil || f.match == nil {
		return true
	}
	return f.match(doc)
}

// Compile checks a filter document and prepares it for matching.
// A nil or empty filter matches every document.
func Compile(filter map[string]any) (*Filter, error) {
	p, err := compileDoc(filter)
	if err != nil {
		return nil, err
	}
	return &Filter{match: p}, nil
}

func compileDoc(filter map[string]any) (predicate, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]predicate, 0, len(keys))
	for _, key := range keys {
		val := filter[key]
		var (
			p   predicate
			err error
		)
		switch {
		case key == "$and" || key == "$or" || key == "$nor":
			p, err = compileLogical(key, val)
		case strings.HasPrefix(key, "$"):
			err = invalid("unknown top level operator %s", key)
		case key == "":
			err = invalid("empty field name")
		default:
			p, err = compileField(key, val)
		}
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return all(preds), nil
}

func all(preds []predicate) predicate {
	return func(doc map[string]any) bool {
		for _, p := range preds {
			if !p(doc) {
				return false
			}
		}
		return true
	}
}

func compileLogical(op string, val any) (predicate, error) {
	items, ok := toSlice(val)
	if !ok || len(items) == 0 {
		return nil, invalid("%s must be a nonempty array", op)
	}
	preds := make([]predicate, 0, len(items))
	for i, item := range items {
		sub, ok := item.(map[string]any)
		if !ok {
			return nil, invalid("%s entry %d must be an object", op, i)
		}
		p, err := compileDoc(sub)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	switch op {
	case "$and":
		return all(preds), nil
	case "$or":
		return func(doc map[string]any) bool {
			for _, p := range preds {
				if p(doc) {
					return true
				}
			}
			return false
		}, nil
	}
	return func(doc map[string]any) bool {
		for _, p := range preds {
			if p(doc) {
				return false
			}
		}
		return true
	}, nil
}

// isOperatorDoc reports whether v is an operator expression such as
// {"$gt": 3}. Mixing operators and plain keys is rejected.
func isOperatorDoc(v any) (map[string]any, bool, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false, nil
	}
	ops := 0
	for k := range m {
		if strings.HasPrefix(k, "$") {
			ops++
		}
	}
	switch ops {
	case 0:
		return nil, false, nil
	case len(m):
		return m, true, nil
	}
	return nil, false, invalid("cannot mix operators and field names in %v", m)
}

func compileField(path string, cond any) (predicate, error) {
	ops, isOps, err := isOperatorDoc(cond)
	if err != nil {
		return nil, err
	}
	if !isOps {
		if re, ok := cond.(*regexp.Regexp); ok {
			return fieldPredicate(path, regexMatcher(re), false), nil
		}
		return fieldPredicate(path, eqMatcher(cond), cond == nil), nil
	}
	return compileOperators(path, ops)
}

// valueMatcher tests a single resolved value.
type valueMatcher func(v any) bool

// fieldPredicate applies m to the values found at path. Array values match
// when the array itself or any of its elements matches. missing is the result
// when the path does not resolve.
func fieldPredicate(path string, m valueMatcher, missing bool) predicate {
	return func(doc map[string]any) bool {
		vals := resolve(doc, path)
		if len(vals) == 0 {
			return missing
		}
		for _, v := range vals {
			if m(v) {
				return true
			}
			if elems, ok := toSlice(v); ok {
				for _, e := range elems {
					if m(e) {
						return true
					}
				}
			}
		}
		return false
	}
}

func eqMatcher(operand any) valueMatcher {
	return func(v any) bool { return equal(v, operand) }
}

func regexMatcher(re *regexp.Regexp) valueMatcher {
	return func(v any) bool {
		s, ok := v.(string)
		return ok && re.MatchString(s)
	}
}

func compileOperators(path string, ops map[string]any) (predicate, error) {
	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var preds []predicate
	for _, op := range keys {
		operand := ops[op]
		switch op {
		case "$eq":
			preds = append(preds, fieldPredicate(path, eqMatcher(operand), operand == nil))
		case "$ne":
			p := fieldPredicate(path, eqMatcher(operand), operand == nil)
			preds = append(preds, negate(p))
		case "$gt", "$gte", "$lt", "$lte":
			preds = append(preds, fieldPredicate(path, rangeMatcher(op, operand), false))
		case "$in", "$nin":
			m, matchesNull, err := inMatcher(op, operand)
			if err != nil {
				return nil, err
			}
			p := fieldPredicate(path, m, matchesNull)
			if op == "$nin" {
				p = negate(p)
			}
			preds = append(preds, p)
		case "$exists":
			want, err := truthy(op, operand)
			if err != nil {
				return nil, err
			}
			preds = append(preds, func(doc map[string]any) bool {
				return (len(resolve(doc, path)) > 0) == want
			})
		case "$regex":
			re, err := compileRegex(operand, ops["$options"])
			if err != nil {
				return nil, err
			}
			preds = append(preds, fieldPredicate(path, regexMatcher(re), false))
		case "$options":
			if _, ok := ops["$regex"]; !ok {
				return nil, invalid("$options needs a $regex")
			}
		case "$size":
			n, ok := toFloat(operand)
			if !ok || n < 0 || n != float64(int(n)) {
				return nil, invalid("$size needs a non-negative integer")
			}
			preds = append(preds, func(doc map[string]any) bool {
				for _, v := range resolve(doc, path) {
					if elems, ok := toSlice(v); ok && len(elems) == int(n) {
						return true
					}
				}
				return false
			})
		case "$not":
			var inner predicate
			if re, ok := operand.(*regexp.Regexp); ok {
				inner = fieldPredicate(path, regexMatcher(re), false)
			} else {
				sub, isOps, err := isOperatorDoc(operand)
				if err != nil {
					return nil, err
				}
				if !isOps {
					return nil, invalid("$not needs an operator expression or a regex")
				}
				inner, err = compileOperators(path, sub)
				if err != nil {
					return nil, err
				}
			}
			preds = append(preds, negate(inner))
		default:
			return nil, invalid("unknown operator %s", op)
		}
	}
	return all(preds), nil
}

func negate(p predicate) predicate {
	return func(doc map[string]any) bool { return !p(doc) }
}

func rangeMatcher(op string, operand any) valueMatcher {
	class := typeClass(operand)
	return func(v any) bool {
		// Range operators only compare values of the same type class.
		if typeClass(v) != class {
			return false
		}
		c, ok := compare(v, operand)
		if !ok {
			return false
		}
		switch op {
		case "$gt":
			return c > 0
		case "$gte":
			return c >= 0
		case "$lt":
			return c < 0
		}
		return c <= 0
	}
}

func inMatcher(op string, operand any) (valueMatcher, bool, error) {
	items, ok := toSlice(operand)
	if !ok {
		return nil, false, invalid("%s needs an array", op)
	}
	matchers := make([]valueMatcher, 0, len(items))
	matchesNull := false
	for _, item := range items {
		if re, ok := item.(*regexp.Regexp); ok {
			matchers = append(matchers, regexMatcher(re))
			continue
		}
		if _, isOps, _ := isOperatorDoc(item); isOps {
			return nil, false, invalid("cannot use operators inside %s", op)
		}
		if item == nil {
			matchesNull = true
		}
		matchers = append(matchers, eqMatcher(item))
	}
	return func(v any) bool {
		for _, m := range matchers {
			if m(v) {
				return true
			}
		}
		return false
	}, matchesNull, nil
}

func truthy(op string, operand any) (bool, error) {
	switch v := operand.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	}
	if f, ok := toFloat(operand); ok {
		return f != 0, nil
	}
	return false, invalid("%s needs a boolean", op)
}

func compileRegex(pattern, options any) (*regexp.Regexp, error) {
	var expr string
	switch p := pattern.(type) {
	case string:
		expr = p
	case *regexp.Regexp:
		expr = p.String()
	default:
		return nil, invalid("$regex needs a string")
	}
	if options != nil {
		opts, ok := options.(string)
		if !ok {
			return nil, invalid("$options needs a string")
		}
		var flags strings.Builder
		for _, o := range opts {
			switch o {
			case 'i', 'm', 's':
				flags.WriteRune(o)
			default:
				return nil, invalid("unsupported regex option %q", o)
			}
		}
		if flags.Len() > 0 {
			expr = "(?" + flags.String() + ")" + expr
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, invalid("bad regex %q: %v", expr, err)
	}
	return re, nil
}

// resolve returns the values at a dotted path. Arrays of objects fan out, so
// "tags.name" on {"tags": [{"name": "a"}, {"name": "b"}]} yields "a" and "b".
// A numeric segment indexes into an array.
func resolve(doc map[string]any, path string) []any {
	return resolveSegments(doc, strings.Split(path, "."))
}

func resolveSegments(cur any, segs []string) []any {
	if len(segs) == 0 {
		return []any{cur}
	}
	seg, rest := segs[0], segs[1:]
	if m, ok := cur.(map[string]any); ok {
		v, ok := m[seg]
		if !ok {
			return nil
		}
		return resolveSegments(v, rest)
	}
	elems, ok := toSlice(cur)
	if !ok {
		return nil
	}
	if i, err := strconv.Atoi(seg); err == nil {
		if i < 0 || i >= len(elems) {
			return nil
		}
		return resolveSegments(elems[i], rest)
	}
	var out []any
	for _, e := range elems {
		if _, isMap := e.(map[string]any); isMap {
			out = append(out, resolveSegments(e, segs)...)
		}
	}
	return out
}

// Lookup returns the first value at a dotted path.
func Lookup(doc map[string]any, path string) (any, bool) {
	vals := resolve(doc, path)
	if len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}
