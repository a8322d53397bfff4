package query

import (
	"sort"
	"strings"
)

// IDKey is the immutable primary-key field of every document.
const IDKey = "_id"

type fieldOp struct {
	op    string
	path  string
	value any
}

// Update is a compiled update expression.
type Update struct {
	ops []fieldOp
}

// CompileUpdate checks an update document. Only operator updates are
// accepted ($set, $unset, $inc, $mul); whole-document replacement and any
// change to _id are rejected.
func CompileUpdate(update map[string]any) (*Update, error) {
	if len(update) == 0 {
		return nil, invalid("update document must not be empty")
	}
	opNames := make([]string, 0, len(update))
	for k := range update {
		opNames = append(opNames, k)
	}
	sort.Strings(opNames)

	u := &Update{}
	seen := make(map[string]string)
	for _, op := range opNames {
		switch op {
		case "$set", "$unset", "$inc", "$mul":
		default:
			if !strings.HasPrefix(op, "$") {
				return nil, invalid("update document requires atomic operators, got field %q", op)
			}
			return nil, invalid("unknown update operator %s", op)
		}
		fields, ok := update[op].(map[string]any)
		if !ok {
			return nil, invalid("%s needs an object", op)
		}
		paths := make([]string, 0, len(fields))
		for p := range fields {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, path := range paths {
			if path == "" || strings.HasPrefix(path, "$") {
				return nil, invalid("bad field name %q in %s", path, op)
			}
			if path == IDKey || strings.HasPrefix(path, IDKey+".") {
				return nil, invalid("%s would modify the immutable field %s", op, IDKey)
			}
			if prev, dup := seen[path]; dup {
				return nil, invalid("conflicting updates to %q in %s and %s", path, prev, op)
			}
			seen[path] = op
			val := fields[path]
			if op == "$inc" || op == "$mul" {
				if _, ok := toFloat(val); !ok {
					return nil, invalid("%s needs a number for %q", op, path)
				}
			}
			u.ops = append(u.ops, fieldOp{op: op, path: path, value: val})
		}
	}
	return u, nil
}

// Apply mutates doc in place and reports whether any value changed.
// Arithmetic on a non-numeric field is an invalid query.
func (u *Update) Apply(doc map[string]any) (bool, error) {
	changed := false
	for _, fo := range u.ops {
		segs := strings.Split(fo.path, ".")
		parent, leaf, err := walkToParent(doc, segs, fo.op != "$unset")
		if err != nil {
			return false, err
		}
		if parent == nil {
			continue
		}
		old, exists := parent[leaf]
		switch fo.op {
		case "$set":
			if !exists || !equal(old, fo.value) {
				parent[leaf] = fo.value
				changed = true
			}
		case "$unset":
			if exists {
				delete(parent, leaf)
				changed = true
			}
		case "$inc", "$mul":
			next, err := arith(fo, old, exists)
			if err != nil {
				return false, err
			}
			if !exists || !equal(old, next) {
				parent[leaf] = next
				changed = true
			}
		}
	}
	return changed, nil
}

// walkToParent finds the map holding the last path segment, creating
// intermediate objects when create is set. A nil parent means the path does
// not exist and nothing should happen.
func walkToParent(doc map[string]any, segs []string, create bool) (map[string]any, string, error) {
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			if !create {
				return nil, "", nil
			}
			m := make(map[string]any)
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, "", invalid("cannot create field %q in non-object element %v", seg, next)
		}
		cur = m
	}
	return cur, segs[len(segs)-1], nil
}

func arith(fo fieldOp, old any, exists bool) (any, error) {
	operand, _ := toFloat(fo.value)
	if !exists || old == nil {
		if fo.op == "$mul" {
			return keepIntegral(fo.value, 0), nil
		}
		return fo.value, nil
	}
	cur, ok := toFloat(old)
	if !ok {
		return nil, invalid("cannot apply %s to non-numeric field %q", fo.op, fo.path)
	}
	if fo.op == "$inc" {
		return keepIntegral(old, cur+operand), nil
	}
	return keepIntegral(old, cur*operand), nil
}

// keepIntegral returns n in the Go type family of like: int64 when like is
// an integer kind and n is whole, float64 otherwise.
func keepIntegral(like any, n float64) any {
	switch like.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	}
	return n
}
