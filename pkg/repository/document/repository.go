// Package document defines the ordered-collection contracts the feed core is built on:
// an ordered source with opaque cursors, a standing subscription and a batched atomic
// write. Backends live next to the contracts (in-memory, MongoDB, PostgreSQL JSONB).
package document

import (
	"context"
	"strings"
)

// IDField orders or filters by document id instead of a data field.
const IDField = "__id"

// SortOrder defines the direction of sorting.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Op is a comparison operator usable in a Condition.
type Op string

const (
	OpEqual        Op = "=="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Condition is a single field predicate. Field may be a dotted path ("stats.likes").
// A document that lacks the field never matches.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Where is a shorthand for building a Condition.
func Where(field string, op Op, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// Start positions a query relative to a cursor.
// Inclusive=false is "start after", Inclusive=true is "start at".
type Start struct {
	Cursor    Cursor
	Inclusive bool
}

// Query describes a filtered, ordered, limited read of one collection.
//
// Results are totally ordered by (OrderBy, document id), both in Order direction.
// Documents missing the OrderBy field are excluded. An empty OrderBy orders by id.
type Query struct {
	Collection string
	Filters    []Condition
	OrderBy    string
	Order      SortOrder
	Limit      int
	Start      *Start
}

// SortField returns the effective ordering field.
func (q Query) SortField() string {
	if q.OrderBy == "" {
		return IDField
	}
	return q.OrderBy
}

// Descending reports whether results are returned newest/largest first.
func (q Query) Descending() bool {
	return q.Order == SortDesc
}

// Validate checks the query shape shared by all backends.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Collection) == "" {
		return documentError(ErrInvalidQuery, "collection is required")
	}
	if q.Limit < 0 {
		return documentError(ErrInvalidQuery, "limit must not be negative")
	}
	if q.Order != "" && q.Order != SortAsc && q.Order != SortDesc {
		return documentError(ErrInvalidQuery, "unknown sort order "+string(q.Order))
	}
	for _, c := range q.Filters {
		if c.Field == "" {
			return documentError(ErrInvalidQuery, "filter field is required")
		}
		switch c.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		default:
			return documentError(ErrInvalidQuery, "unknown operator "+string(c.Op))
		}
	}
	return nil
}

// Document is one record of a collection. Collection may be a nested path
// such as "users/u1/notifications".
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
}

// Path returns "collection/id".
func (d Document) Path() string {
	return d.Collection + "/" + d.ID
}

// Value resolves a (dotted) field. IDField resolves to the document id.
func (d Document) Value(field string) (any, bool) {
	if field == IDField {
		return d.ID, true
	}
	return lookupPath(d.Data, field)
}

// Cursor returns the position of this document in an ordering by field.
func (d Document) Cursor(field string) Cursor {
	if field == "" {
		field = IDField
	}
	v, _ := d.Value(field)
	return Cursor{Value: v, ID: d.ID}
}

// ChangeKind tags a subscription event.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change is one subscription event. For removals Document holds the last known state.
type Change struct {
	Kind     ChangeKind
	Document Document
}

// Source executes ordered reads.
type Source interface {
	Find(ctx context.Context, q Query) ([]Document, error)
}

// Getter reads a single document. Missing documents yield ErrNotFound.
type Getter interface {
	Get(ctx context.Context, collection, id string) (Document, error)
}

// Subscription is a cancelable standing subscription.
type Subscription interface {
	// Close stops delivery. After Close returns no further callback runs.
	// Close must not be called from inside a callback of the same subscription.
	Close() error
}

// Subscriber opens standing subscriptions over the filtered set of q.Collection.
//
// Only changes that happen after Subscribe returns are delivered; there is no initial
// snapshot. A document entering the filtered set is reported as added, leaving it as
// removed and changing inside it as modified. Limit and Start are ignored.
// onError is invoked at most once, when the transport fails; no change is delivered after it.
type Subscriber interface {
	Subscribe(ctx context.Context, q Query, onChange func(Change), onError func(error)) (Subscription, error)
}

// Batcher applies a list of writes as one all-or-nothing unit.
type Batcher interface {
	Commit(ctx context.Context, writes []Write) error
}

// Store is the full set of collaborator contracts a backend provides.
type Store interface {
	Source
	Getter
	Subscriber
	Batcher
}
