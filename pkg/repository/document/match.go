package document

import "sort"

// Matches reports whether d belongs to the filtered set of q (collection and filters).
func Matches(q Query, d Document) bool {
	if d.Collection != q.Collection {
		return false
	}
	for _, c := range q.Filters {
		v, ok := d.Value(c.Field)
		if !ok {
			return false
		}
		n := CompareValues(v, c.Value)
		switch c.Op {
		case OpEqual:
			if n != 0 {
				return false
			}
		case OpNotEqual:
			if n == 0 {
				return false
			}
		case OpLess:
			if n >= 0 {
				return false
			}
		case OpLessEqual:
			if n > 0 {
				return false
			}
		case OpGreater:
			if n <= 0 {
				return false
			}
		case OpGreaterEqual:
			if n < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compareInOrder compares two documents in q's result order.
func compareInOrder(q Query, a, b Document) int {
	field := q.SortField()
	n := a.Cursor(field).Compare(b.Cursor(field))
	if q.Descending() {
		return -n
	}
	return n
}

// positionedAfter reports whether d lies at or after q.Start in q's order.
func positionedAfter(q Query, d Document) bool {
	if q.Start == nil {
		return true
	}
	n := d.Cursor(q.SortField()).Compare(q.Start.Cursor)
	if q.Descending() {
		n = -n
	}
	if q.Start.Inclusive {
		return n >= 0
	}
	return n > 0
}

// Evaluate runs q over an unordered candidate set. It is the reference semantics
// every backend reproduces natively.
func Evaluate(q Query, candidates []Document) []Document {
	field := q.SortField()
	out := make([]Document, 0, len(candidates))
	for _, d := range candidates {
		if !Matches(q, d) {
			continue
		}
		if _, ok := d.Value(field); !ok {
			continue
		}
		if !positionedAfter(q, d) {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return compareInOrder(q, out[i], out[j]) < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Classify turns a before/after pair of one document into a query-relative change.
// Either side may be nil (created or deleted). ok is false when q is unaffected.
func Classify(q Query, before, after *Document) (Change, bool) {
	wasIn := before != nil && Matches(q, *before)
	isIn := after != nil && Matches(q, *after)
	switch {
	case !wasIn && isIn:
		return Change{Kind: ChangeAdded, Document: *after}, true
	case wasIn && isIn:
		return Change{Kind: ChangeModified, Document: *after}, true
	case wasIn && !isIn:
		if after != nil {
			return Change{Kind: ChangeRemoved, Document: *after}, true
		}
		return Change{Kind: ChangeRemoved, Document: *before}, true
	default:
		return Change{}, false
	}
}
