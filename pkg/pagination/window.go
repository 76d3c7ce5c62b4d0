// Package pagination serves discrete pages of an ordered document stream with opaque
// keyset cursors instead of offsets.
//
// A Window is owned by one caller (a screen controller, a CLI command) and is not safe
// for concurrent navigation: the caller keeps at most one LoadFirst/LoadNext/LoadPrevious
// in flight per window.
package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/repository/document"
)

// Decoder turns a raw document into the caller's item type.
type Decoder[T any] func(document.Document) (T, error)

// Item is one rendered entry with its position in the ordering.
type Item[T any] struct {
	ID     string
	Cursor document.Cursor
	Value  T
}

// Page is a snapshot of the rendered page.
type Page[T any] struct {
	Number      int
	Items       []Item[T]
	HasNext     bool
	HasPrevious bool
}

// IDs returns the item ids in page order.
func (p Page[T]) IDs() []string {
	out := make([]string, len(p.Items))
	for i, it := range p.Items {
		out[i] = it.ID
	}
	return out
}

// Window is the explicit page state of one paginated list.
//
// Invariants after every successful load: len(stack) == number-1, and first/last are the
// cursors of the first and last rendered item (never of the hasNext lookahead).
type Window[T any] struct {
	source document.Source
	decode Decoder[T]
	logger logger.Logger

	query    document.Query
	pageSize int
	loaded   bool
	number   int
	stack    []document.Cursor
	first    document.Cursor
	last     document.Cursor
	hasNext  bool
	items    []Item[T]
}

// NewWindow creates an empty window over source.
func NewWindow[T any](source document.Source, decode Decoder[T], log logger.Logger) (*Window[T], error) {
	if source == nil {
		return nil, fmt.Errorf("pagination source is required")
	}
	if decode == nil {
		return nil, fmt.Errorf("pagination decoder is required")
	}
	return &Window[T]{source: source, decode: decode, logger: logger.OrNop(log)}, nil
}

// LoadFirst resets the window to page 1 of base. Limit and Start of base are ignored.
// On failure the previous state is kept.
func (w *Window[T]) LoadFirst(ctx context.Context, base document.Query, pageSize int) (Page[T], error) {
	if pageSize <= 0 {
		return Page[T]{}, paginationError(ErrInvalidPageSize, fmt.Sprintf("%d", pageSize))
	}
	base.Limit = 0
	base.Start = nil
	if err := base.Validate(); err != nil {
		return Page[T]{}, err
	}

	items, hasNext, err := w.fetchPage(ctx, base, pageSize, nil, "first")
	if err != nil {
		return Page[T]{}, err
	}

	w.query = base
	w.pageSize = pageSize
	w.loaded = true
	w.number = 1
	w.stack = w.stack[:0]
	w.commit(items, hasNext)
	recordPage(base.Collection, "first", "ok")
	w.logger.Debug("first page loaded", "collection", base.Collection, "items", len(items), "has_next", hasNext)
	return w.Page(), nil
}

// LoadNext moves forward one page, strictly after the last rendered item.
func (w *Window[T]) LoadNext(ctx context.Context) (Page[T], error) {
	if !w.loaded {
		return Page[T]{}, ErrNoPageLoaded
	}
	if !w.hasNext {
		return Page[T]{}, ErrNoNextPage
	}

	items, hasNext, err := w.fetchPage(ctx, w.query, w.pageSize, &document.Start{Cursor: w.last}, "next")
	if err != nil {
		return Page[T]{}, err
	}
	if len(items) == 0 {
		recordPage(w.query.Collection, "next", "empty")
		return Page[T]{}, paginationError(ErrEmptyPage, fmt.Sprintf("nothing after page %d of %s", w.number, w.query.Collection))
	}

	w.stack = append(w.stack, w.first)
	w.number++
	w.commit(items, hasNext)
	recordPage(w.query.Collection, "next", "ok")
	return w.Page(), nil
}

// LoadPrevious returns to the page whose first item was recorded when leaving it,
// starting at (inclusive) that cursor.
func (w *Window[T]) LoadPrevious(ctx context.Context) (Page[T], error) {
	if !w.loaded {
		return Page[T]{}, ErrNoPageLoaded
	}
	if len(w.stack) == 0 {
		return Page[T]{}, ErrNoPreviousPage
	}

	boundary := w.stack[len(w.stack)-1]
	items, hasNext, err := w.fetchPage(ctx, w.query, w.pageSize, &document.Start{Cursor: boundary, Inclusive: true}, "previous")
	if err != nil {
		return Page[T]{}, err
	}
	if len(items) == 0 {
		recordPage(w.query.Collection, "previous", "empty")
		return Page[T]{}, paginationError(ErrEmptyPage, fmt.Sprintf("nothing at page %d of %s", w.number-1, w.query.Collection))
	}

	w.stack = w.stack[:len(w.stack)-1]
	w.number--
	w.commit(items, hasNext)
	recordPage(w.query.Collection, "previous", "ok")
	return w.Page(), nil
}

// Reset drops all state, as when the screen owning the window is torn down.
func (w *Window[T]) Reset() {
	w.query = document.Query{}
	w.pageSize = 0
	w.loaded = false
	w.number = 0
	w.stack = nil
	w.first = document.Cursor{}
	w.last = document.Cursor{}
	w.hasNext = false
	w.items = nil
}

// Page returns a copy of the rendered page.
func (w *Window[T]) Page() Page[T] {
	items := make([]Item[T], len(w.items))
	copy(items, w.items)
	return Page[T]{Number: w.number, Items: items, HasNext: w.hasNext, HasPrevious: w.HasPrevious()}
}

// Loaded reports whether a page is rendered.
func (w *Window[T]) Loaded() bool { return w.loaded }

// PageNumber is 1-based; 0 before LoadFirst.
func (w *Window[T]) PageNumber() int { return w.number }

// PageSize returns the size passed to LoadFirst.
func (w *Window[T]) PageSize() int { return w.pageSize }

// HasNext reports the result of the last lookahead read.
func (w *Window[T]) HasNext() bool { return w.hasNext }

// HasPrevious reports whether a boundary cursor is recorded.
func (w *Window[T]) HasPrevious() bool { return len(w.stack) > 0 }

// FirstCursor is the cursor of the first rendered item.
func (w *Window[T]) FirstCursor() document.Cursor { return w.first }

// LastCursor is the cursor of the last rendered item.
func (w *Window[T]) LastCursor() document.Cursor { return w.last }

// Query returns the base query of the window.
func (w *Window[T]) Query() document.Query { return w.query }

// Depth returns the number of recorded page boundaries.
func (w *Window[T]) Depth() int { return len(w.stack) }

func (w *Window[T]) commit(items []Item[T], hasNext bool) {
	w.items = items
	w.hasNext = hasNext
	if len(items) == 0 {
		w.first, w.last = document.Cursor{}, document.Cursor{}
		return
	}
	w.first = items[0].Cursor
	w.last = items[len(items)-1].Cursor
}

// fetchPage reads one page and looks ahead for a following document. Nothing is mutated.
func (w *Window[T]) fetchPage(ctx context.Context, base document.Query, size int, start *document.Start, direction string) ([]Item[T], bool, error) {
	q := base
	q.Limit = size
	q.Start = start

	started := time.Now()
	docs, err := w.source.Find(ctx, q)
	observeFetch(q.Collection, "page", started)
	if err != nil {
		recordPage(q.Collection, direction, "failed")
		w.logger.WithContext(ctx).Warn("page fetch failed", "collection", q.Collection, "direction", direction, "error", err)
		return nil, false, fetchFailed(q.Collection, err)
	}

	field := q.SortField()
	items := make([]Item[T], 0, len(docs))
	for _, d := range docs {
		v, err := w.decode(d)
		if err != nil {
			recordPage(q.Collection, direction, "malformed")
			return nil, false, fmt.Errorf("decode %s: %w", d.Path(), err)
		}
		items = append(items, Item[T]{ID: d.ID, Cursor: d.Cursor(field), Value: v})
	}
	if len(items) == 0 {
		return items, false, nil
	}

	ahead := base
	ahead.Limit = 1
	ahead.Start = &document.Start{Cursor: items[len(items)-1].Cursor}
	started = time.Now()
	next, err := w.source.Find(ctx, ahead)
	observeFetch(q.Collection, "lookahead", started)
	if err != nil {
		recordPage(q.Collection, direction, "failed")
		w.logger.WithContext(ctx).Warn("next-page lookahead failed", "collection", q.Collection, "error", err)
		return nil, false, fetchFailed(q.Collection, err)
	}
	return items, len(next) > 0, nil
}
