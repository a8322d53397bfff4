package query

import "sort"

// SortKey orders documents by the value at Path.
type SortKey struct {
	Path string
	Desc bool
}

// Sort orders docs in place by keys. The sort is stable, so documents that
// compare equal keep their insertion order. Missing fields sort as null.
func Sort(docs []map[string]any, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := Lookup(docs[i], k.Path)
			b, _ := Lookup(docs[j], k.Path)
			c, ok := compare(a, b)
			if !ok || c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Page applies skip and limit to an already sorted result. limit <= 0 means
// no limit.
func Page[T any](items []T, skip, limit int64) []T {
	if skip >= int64(len(items)) {
		return items[:0]
	}
	if skip > 0 {
		items = items[skip:]
	}
	if limit > 0 && limit < int64(len(items)) {
		items = items[:limit]
	}
	return items
}
