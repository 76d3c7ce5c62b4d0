// Package livetail keeps page 1 of a reverse-chronological feed current through a
// standing subscription while later pages stay static snapshots.
package livetail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/pagination"
	"github.com/signalmax/signalmax/pkg/repository/document"
)

var (
	// ErrSubscriptionDropped reports a failed subscription transport. There is no
	// reconnect: callers restart the feed with Start.
	ErrSubscriptionDropped = errors.New("livetail subscription dropped")
	// ErrUnsupportedOrder rejects queries that are not ordered descending by a field.
	ErrUnsupportedOrder = errors.New("livetail unsupported order")
	// ErrInvalidPolicy rejects unknown merge policies.
	ErrInvalidPolicy = errors.New("livetail invalid policy")
)

// Policy selects how insertions newer than the watermark reach the rendered page.
type Policy string

const (
	// PolicyPrepend inserts new items at the top of page 1 as they arrive.
	PolicyPrepend Policy = "prepend"
	// PolicyDeferredBanner only counts new items; ShowPending renders them.
	PolicyDeferredBanner Policy = "deferred-banner"
)

// ParsePolicy accepts "prepend" and "deferred-banner" (or "banner").
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(PolicyPrepend):
		return PolicyPrepend, nil
	case string(PolicyDeferredBanner), "banner", "":
		return PolicyDeferredBanner, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Config configures a Feed.
type Config struct {
	Policy Policy
}

// Feed merges live changes into the first page of a paginated list.
//
// Navigation methods (Start, Next, Previous, ShowPending, Stop) are serialized by the
// feed. Subscription callbacks may arrive on any goroutine; they only touch page-1 state.
type Feed[T any] struct {
	window     *pagination.Window[T]
	subscriber document.Subscriber
	decode     pagination.Decoder[T]
	logger     logger.Logger
	policy     Policy

	nav sync.Mutex

	mu        sync.Mutex
	gen       uint64
	sub       document.Subscription
	base      document.Query
	pageSize  int
	buffering bool
	buffered  []document.Change
	onPage1   bool
	watermark document.Cursor
	hasMark   bool
	arrivals  []pagination.Item[T]
	page1     []pagination.Item[T]
	current   []pagination.Item[T]
	pending   map[string]struct{}
	err       error
	onChange  func()
}

// New builds a feed over source and subscriber.
func New[T any](source document.Source, subscriber document.Subscriber, decode pagination.Decoder[T], cfg Config, log logger.Logger) (*Feed[T], error) {
	if subscriber == nil {
		return nil, errors.New("livetail subscriber is required")
	}
	switch cfg.Policy {
	case PolicyPrepend, PolicyDeferredBanner:
	case "":
		cfg.Policy = PolicyDeferredBanner
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPolicy, cfg.Policy)
	}
	log = logger.OrNop(log)
	w, err := pagination.NewWindow(source, decode, log)
	if err != nil {
		return nil, err
	}
	return &Feed[T]{
		window:     w,
		subscriber: subscriber,
		decode:     decode,
		logger:     log.With("component", "livetail"),
		policy:     cfg.Policy,
		pending:    make(map[string]struct{}),
	}, nil
}

// OnChange registers fn to run after each merged event. fn runs on the subscription
// goroutine without the feed lock held.
func (f *Feed[T]) OnChange(fn func()) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// Start tears down any previous subscription and loads page 1 of base. The watermark is
// the sort key of the newest rendered item. An empty first page leaves the feed static.
func (f *Feed[T]) Start(ctx context.Context, base document.Query, pageSize int) (pagination.Page[T], error) {
	f.nav.Lock()
	defer f.nav.Unlock()
	return f.start(ctx, base, pageSize)
}

func (f *Feed[T]) start(ctx context.Context, base document.Query, pageSize int) (pagination.Page[T], error) {
	if base.OrderBy == "" || !base.Descending() {
		return pagination.Page[T]{}, fmt.Errorf("%w: feed must be ordered descending by a field", ErrUnsupportedOrder)
	}
	f.stop()

	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.buffering = true
	f.buffered = nil
	f.mu.Unlock()

	// Subscribing before the read means nothing committed between the two is missed;
	// events seen meanwhile are replayed once the snapshot is in place.
	subQuery := document.Query{Collection: base.Collection, Filters: base.Filters}
	sub, err := f.subscriber.Subscribe(ctx, subQuery,
		func(ch document.Change) { f.handle(gen, ch) },
		func(err error) { f.dropped(gen, err) },
	)
	if err != nil {
		recordDrop(base.Collection)
		return pagination.Page[T]{}, fmt.Errorf("%w: %w", ErrSubscriptionDropped, err)
	}

	page, err := f.window.LoadFirst(ctx, base, pageSize)
	if err != nil {
		f.mu.Lock()
		f.gen++
		f.buffering = false
		f.buffered = nil
		f.mu.Unlock()
		_ = sub.Close()
		return pagination.Page[T]{}, err
	}

	f.mu.Lock()
	f.base = page1Query(base)
	f.pageSize = pageSize
	f.onPage1 = true
	f.arrivals = nil
	f.page1 = cloneItems(page.Items)
	f.current = page.Items
	f.pending = make(map[string]struct{})
	f.err = nil
	f.buffering = false
	buffered := f.buffered
	f.buffered = nil
	if len(page.Items) == 0 {
		f.hasMark = false
		f.watermark = document.Cursor{}
		f.gen++
		f.mu.Unlock()
		_ = sub.Close()
		f.logger.Debug("empty first page, live tail disabled", "collection", base.Collection)
		return page, nil
	}
	f.watermark = page.Items[0].Cursor
	f.hasMark = true
	f.sub = sub
	for _, ch := range buffered {
		f.apply(ch)
	}
	f.mu.Unlock()

	f.logger.Debug("live tail started", "collection", base.Collection, "items", len(page.Items), "replayed", len(buffered))
	return page, nil
}

// Next moves to the next static page. A vanished page restarts the feed at page 1.
func (f *Feed[T]) Next(ctx context.Context) (pagination.Page[T], error) {
	f.nav.Lock()
	defer f.nav.Unlock()
	page, err := f.window.LoadNext(ctx)
	return f.navigated(ctx, page, err)
}

// Previous moves back one page. Returning to page 1 re-renders it from the source and
// keeps prepended arrivals on top.
func (f *Feed[T]) Previous(ctx context.Context) (pagination.Page[T], error) {
	f.nav.Lock()
	defer f.nav.Unlock()
	page, err := f.window.LoadPrevious(ctx)
	return f.navigated(ctx, page, err)
}

func (f *Feed[T]) navigated(ctx context.Context, page pagination.Page[T], err error) (pagination.Page[T], error) {
	if errors.Is(err, pagination.ErrEmptyPage) {
		f.mu.Lock()
		base, size := f.base, f.pageSize
		f.mu.Unlock()
		f.logger.WithContext(ctx).Info("page vanished, restarting live tail", "collection", base.Collection)
		return f.start(ctx, base, size)
	}
	if err != nil {
		return page, err
	}

	f.mu.Lock()
	f.current = page.Items
	f.onPage1 = page.Number == 1
	if f.onPage1 {
		f.page1 = withoutIDs(cloneItems(page.Items), f.arrivals)
	}
	f.mu.Unlock()
	return page, nil
}

// ShowPending renders the pending insertions by reloading page 1 with a new watermark.
func (f *Feed[T]) ShowPending(ctx context.Context) (pagination.Page[T], error) {
	f.nav.Lock()
	defer f.nav.Unlock()
	f.mu.Lock()
	base, size := f.base, f.pageSize
	f.mu.Unlock()
	if base.Collection == "" {
		return pagination.Page[T]{}, pagination.ErrNoPageLoaded
	}
	return f.start(ctx, base, size)
}

// Stop cancels the subscription. No callback mutates the feed after Stop returns.
func (f *Feed[T]) Stop() {
	f.nav.Lock()
	defer f.nav.Unlock()
	f.stop()
}

func (f *Feed[T]) stop() {
	f.mu.Lock()
	f.gen++
	sub := f.sub
	f.sub = nil
	f.buffering = false
	f.buffered = nil
	f.mu.Unlock()
	if sub != nil {
		if err := sub.Close(); err != nil {
			f.logger.Warn("closing subscription failed", "error", err)
		}
	}
}

// Items returns the rendered list: live page 1, or the static page being viewed.
func (f *Feed[T]) Items() []pagination.Item[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.onPage1 {
		out := make([]pagination.Item[T], len(f.current))
		copy(out, f.current)
		return out
	}
	out := make([]pagination.Item[T], 0, len(f.arrivals)+len(f.page1))
	out = append(out, f.arrivals...)
	out = append(out, f.page1...)
	return out
}

// Pending returns the number of insertions waiting behind the banner. It stays zero
// under PolicyPrepend.
func (f *Feed[T]) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// PendingIDs returns the waiting document ids, sorted.
func (f *Feed[T]) PendingIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.pending))
	for id := range f.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Watermark returns the sort position of the newest item of the last page-1 load.
func (f *Feed[T]) Watermark() (document.Cursor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermark, f.hasMark
}

// Err returns the subscription failure, if any, since the last Start.
func (f *Feed[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Live reports whether a subscription is open.
func (f *Feed[T]) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sub != nil
}

// Policy returns the merge policy.
func (f *Feed[T]) Policy() Policy { return f.policy }

// Window exposes the underlying pagination window for cursor inspection.
func (f *Feed[T]) Window() *pagination.Window[T] { return f.window }

func (f *Feed[T]) handle(gen uint64, ch document.Change) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	if f.buffering {
		f.buffered = append(f.buffered, ch)
		f.mu.Unlock()
		return
	}
	changed := f.apply(ch)
	hook := f.onChange
	f.mu.Unlock()
	if changed && hook != nil {
		hook()
	}
}

func (f *Feed[T]) dropped(gen uint64, err error) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	f.gen++
	f.sub = nil
	f.buffering = false
	f.err = fmt.Errorf("%w: %w", ErrSubscriptionDropped, err)
	collection := f.base.Collection
	hook := f.onChange
	f.mu.Unlock()

	recordDrop(collection)
	f.logger.Warn("live tail subscription dropped", "collection", collection, "error", err)
	if hook != nil {
		hook()
	}
}

// apply merges one change into page-1 state. Callers hold f.mu.
func (f *Feed[T]) apply(ch document.Change) bool {
	d := ch.Document
	collection := f.base.Collection

	if ch.Kind == document.ChangeRemoved {
		_, wasPending := f.pending[d.ID]
		delete(f.pending, d.ID)
		var removed bool
		f.arrivals, removed = removeID(f.arrivals, d.ID)
		if f.onPage1 {
			var fromPage bool
			f.page1, fromPage = removeID(f.page1, d.ID)
			removed = removed || fromPage
		}
		if removed || wasPending {
			recordMerge(collection, "remove")
			return true
		}
		recordMerge(collection, "ignored")
		return false
	}

	if idx := indexOf(f.arrivals, d.ID); idx >= 0 {
		return f.replace(f.arrivals, idx, d)
	}
	if idx := indexOf(f.page1, d.ID); idx >= 0 && f.onPage1 {
		return f.replace(f.page1, idx, d)
	}
	if _, ok := f.pending[d.ID]; ok {
		recordMerge(collection, "ignored")
		return false
	}

	pos := d.Cursor(f.base.SortField())
	if !f.hasMark || pos.Compare(f.watermark) <= 0 {
		recordMerge(collection, "ignored")
		return false
	}

	// Arrivals belong to page 1; while another page is viewed they wait there and render
	// on return.
	if f.policy == PolicyPrepend {
		v, err := f.decode(d)
		if err != nil {
			f.logger.Warn("skipping undecodable live item", "path", d.Path(), "error", err)
			recordMerge(collection, "malformed")
			return false
		}
		f.arrivals = insertDescending(f.arrivals, pagination.Item[T]{ID: d.ID, Cursor: pos, Value: v})
		recordMerge(collection, "prepend")
		return true
	}
	f.pending[d.ID] = struct{}{}
	recordMerge(collection, "pending")
	return true
}

func (f *Feed[T]) replace(items []pagination.Item[T], idx int, d document.Document) bool {
	v, err := f.decode(d)
	if err != nil {
		f.logger.Warn("skipping undecodable live update", "path", d.Path(), "error", err)
		recordMerge(f.base.Collection, "malformed")
		return false
	}
	items[idx].Value = v
	recordMerge(f.base.Collection, "replace")
	return true
}

func page1Query(q document.Query) document.Query {
	q.Limit = 0
	q.Start = nil
	return q
}

func cloneItems[T any](items []pagination.Item[T]) []pagination.Item[T] {
	out := make([]pagination.Item[T], len(items))
	copy(out, items)
	return out
}

func indexOf[T any](items []pagination.Item[T], id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func removeID[T any](items []pagination.Item[T], id string) ([]pagination.Item[T], bool) {
	idx := indexOf(items, id)
	if idx < 0 {
		return items, false
	}
	out := make([]pagination.Item[T], 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...), true
}

func withoutIDs[T any](items, drop []pagination.Item[T]) []pagination.Item[T] {
	if len(drop) == 0 {
		return items
	}
	out := make([]pagination.Item[T], 0, len(items))
	for _, it := range items {
		if indexOf(drop, it.ID) < 0 {
			out = append(out, it)
		}
	}
	return out
}

// insertDescending keeps arrivals newest first.
func insertDescending[T any](items []pagination.Item[T], it pagination.Item[T]) []pagination.Item[T] {
	idx := sort.Search(len(items), func(i int) bool {
		return items[i].Cursor.Compare(it.Cursor) < 0
	})
	out := make([]pagination.Item[T], 0, len(items)+1)
	out = append(out, items[:idx]...)
	out = append(out, it)
	return append(out, items[idx:]...)
}
