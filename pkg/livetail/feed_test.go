package livetail

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/pagination"
	"github.com/signalmax/signalmax/pkg/repository/document"
)

var (
	feedQuery = document.Query{Collection: "posts", OrderBy: "createdAt", Order: document.SortDesc}
	baseTime  = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
)

func decodeTitle(d document.Document) (string, error) {
	title, _ := d.Data["title"].(string)
	if title == "" {
		return "", errors.New("missing title")
	}
	return title, nil
}

func post(id string, minute int) document.Write {
	return document.Set("posts", id, map[string]any{
		"title":     "title " + id,
		"createdAt": baseTime.Add(time.Duration(minute) * time.Minute),
	})
}

func commit(t testing.TB, store document.Batcher, writes ...document.Write) {
	t.Helper()
	if err := store.Commit(context.Background(), writes); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seed(t testing.TB, store *document.Memory, n int) {
	t.Helper()
	writes := make([]document.Write, 0, n)
	for i := 0; i < n; i++ {
		writes = append(writes, post(fmt.Sprintf("p%02d", i), i))
	}
	commit(t, store, writes...)
}

func newFeed(t testing.TB, store *document.Memory, policy Policy) *Feed[string] {
	t.Helper()
	f, err := New[string](store, store, decodeTitle, Config{Policy: policy}, logger.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func ids(items []pagination.Item[string]) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	store := document.NewMemory()
	if _, err := New[string](store, nil, decodeTitle, Config{}, nil); err == nil {
		t.Fatal("expected error for nil subscriber")
	}
	if _, err := New[string](store, store, decodeTitle, Config{Policy: "toast"}, nil); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	f, err := New[string](store, store, decodeTitle, Config{}, nil)
	if err != nil || f.Policy() != PolicyDeferredBanner {
		t.Fatalf("default policy = %v, %v", f, err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]Policy{"prepend": PolicyPrepend, "Deferred-Banner": PolicyDeferredBanner, "banner": PolicyDeferredBanner, "": PolicyDeferredBanner}
	for in, want := range tests {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("popup"); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

// Page 1 is live with the prepend policy: a post newer than the watermark shows on top
// while the pagination cursors keep describing the loaded page.
func TestScenarioC_PrependKeepsCursors(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemory()
	seed(t, store, 5)
	f := newFeed(t, store, PolicyPrepend)
	defer f.Stop()

	changes := 0
	f.OnChange(func() { changes++ })

	page, err := f.Start(ctx, feedQuery, 3)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !reflect.DeepEqual(page.IDs(), []string{"p04", "p03", "p02"}) {
		t.Fatalf("first page %v", page.IDs())
	}
	mark, ok := f.Watermark()
	if !ok || mark.ID != "p04" {
		t.Fatalf("watermark = %+v, %v", mark, ok)
	}
	firstBefore, lastBefore := f.Window().FirstCursor(), f.Window().LastCursor()

	commit(t, store, post("fresh", 5))

	if got := ids(f.Items()); !reflect.DeepEqual(got, []string{"fresh", "p04", "p03", "p02"}) {
		t.Fatalf("rendered %v", got)
	}
	if f.Window().FirstCursor() != firstBefore || f.Window().LastCursor() != lastBefore {
		t.Fatal("live insertion moved the pagination cursors")
	}
	if after, _ := f.Watermark(); after != mark {
		t.Fatal("live insertion moved the watermark")
	}
	if changes != 1 || f.Pending() != 0 {
		t.Fatalf("changes=%d pending=%d", changes, f.Pending())
	}

	next, err := f.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !reflect.DeepEqual(next.IDs(), []string{"p01", "p00"}) {
		t.Fatalf("second page %v", next.IDs())
	}
}

func TestDeferredBanner_CountsThenShows(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemory()
	seed(t, store, 4)
	f := newFeed(t, store, PolicyDeferredBanner)
	defer f.Stop()

	if _, err := f.Start(ctx, feedQuery, 10); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	commit(t, store, post("n1", 10))
	commit(t, store, post("n2", 11))
	commit(t, store, document.Update("posts", "n1", map[string]any{"title": "edited"}))

	if got := ids(f.Items()); !reflect.DeepEqual(got, []string{"p03", "p02", "p01", "p00"}) {
		t.Fatalf("banner policy must not touch the rendered list, got %v", got)
	}
	if f.Pending() != 2 || !reflect.DeepEqual(f.PendingIDs(), []string{"n1", "n2"}) {
		t.Fatalf("pending = %v", f.PendingIDs())
	}

	commit(t, store, document.Delete("posts", "n2"))
	if f.Pending() != 1 {
		t.Fatalf("removed pending item still counted: %v", f.PendingIDs())
	}

	page, err := f.ShowPending(ctx)
	if err != nil {
		t.Fatalf("ShowPending() error = %v", err)
	}
	if !reflect.DeepEqual(page.IDs(), []string{"n1", "p03", "p02", "p01", "p00"}) || f.Pending() != 0 {
		t.Fatalf("after ShowPending %v pending=%d", page.IDs(), f.Pending())
	}
	if mark, _ := f.Watermark(); mark.ID != "n1" {
		t.Fatalf("watermark not advanced: %+v", mark)
	}
	if store.Subscriptions() != 1 {
		t.Fatalf("restart leaked subscriptions: %d", store.Subscriptions())
	}
}

func TestModifyAndRemoveRendered(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemory()
	seed(t, store, 2)
	f := newFeed(t, store, PolicyPrepend)
	defer f.Stop()
	if _, err := f.Start(ctx, feedQuery, 5); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	commit(t, store, document.Update("posts", "p00", map[string]any{"title": "renamed"}))
	items := f.Items()
	if items[1].ID != "p00" || items[1].Value != "renamed" {
		t.Fatalf("modification not applied in place: %+v", items)
	}

	commit(t, store, document.Delete("posts", "p01"), document.Delete("posts", "p00"))
	if len(f.Items()) != 0 {
		t.Fatalf("expected an empty page, got %v", ids(f.Items()))
	}
	if f.Window().PageNumber() != 1 {
		t.Fatal("an emptied page must not auto-advance")
	}

	// An older document appearing below the watermark is not merged into page 1.
	commit(t, store, post("old", -30))
	if len(f.Items()) != 0 || f.Pending() != 0 {
		t.Fatalf("older document merged: %v pending=%d", ids(f.Items()), f.Pending())
	}
}

func TestAwayFromPageOne(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemory()
	seed(t, store, 6)
	f := newFeed(t, store, PolicyPrepend)
	defer f.Stop()

	if _, err := f.Start(ctx, feedQuery, 3); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	commit(t, store, post("a1", 20))
	if _, err := f.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	commit(t, store, post("a2", 21))
	commit(t, store, document.Update("posts", "p04", map[string]any{"title": "while away"}))
	if got := ids(f.Items()); !reflect.DeepEqual(got, []string{"p02", "p01", "p00"}) {
		t.Fatalf("static page changed: %v", got)
	}
	if f.Pending() != 0 {
		t.Fatalf("prepend feed counted a banner item: %v", f.PendingIDs())
	}

	if _, err := f.Previous(ctx); err != nil {
		t.Fatalf("Previous() error = %v", err)
	}
	items := f.Items()
	if got := ids(items); !reflect.DeepEqual(got, []string{"a2", "a1", "p05", "p04", "p03"}) {
		t.Fatalf("page 1 after return %v", got)
	}
	if items[3].Value != "while away" {
		t.Fatalf("page 1 not re-rendered from the source: %+v", items[3])
	}
	if f.Pending() != 0 {
		t.Fatalf("pending = %d after return", f.Pending())
	}
}

func TestDeferredBanner_AwayFromPageOneCounts(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemory()
	seed(t, store, 6)
	f := newFeed(t, store, PolicyDeferredBanner)
	defer f.Stop()

	if _, err := f.Start(ctx, feedQuery, 3); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.Next(ctx); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	commit(t, store, post("new", 50))
	if _, err := f.Previous(ctx); err != nil {
		t.Fatalf("Previous() error = %v", err)
	}
	if got := ids(f.Items()); !reflect.DeepEqual(got, []string{"p05", "p04", "p03"}) {
		t.Fatalf("banner feed rendered an insertion: %v", got)
	}
	if !reflect.DeepEqual(f.PendingIDs(), []string{"new"}) {
		t.Fatalf("pending = %v, want [new]", f.PendingIDs())
	}
}

func TestStopAndRestart(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemory()
	seed(t, store, 3)
	f := newFeed(t, store, PolicyPrepend)

	if _, err := f.Start(ctx, feedQuery, 3); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := f.Start(ctx, feedQuery, 3); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if store.Subscriptions() != 1 {
		t.Fatalf("expected 1 open subscription, got %d", store.Subscriptions())
	}

	f.Stop()
	if f.Live() || store.Subscriptions() != 0 {
		t.Fatal("Stop must close the subscription")
	}
	commit(t, store, post("late", 30))
	if got := ids(f.Items()); !reflect.DeepEqual(got, []string{"p02", "p01", "p00"}) {
		t.Fatalf("state mutated after Stop: %v", got)
	}
}

func TestSubscriptionDropped(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemory()
	seed(t, store, 2)
	f := newFeed(t, store, PolicyPrepend)
	notified := 0
	f.OnChange(func() { notified++ })

	if _, err := f.Start(ctx, feedQuery, 3); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	store.FailSubscriptions(errors.New("transport reset"))

	if !errors.Is(f.Err(), ErrSubscriptionDropped) || f.Live() || notified != 1 {
		t.Fatalf("Err() = %v live=%v notified=%d", f.Err(), f.Live(), notified)
	}
	if _, err := f.Start(ctx, feedQuery, 3); err != nil || f.Err() != nil || !f.Live() {
		t.Fatalf("restart after drop: %v %v", err, f.Err())
	}
	f.Stop()
}

func TestStart_RejectsAndEmpty(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemory()
	f := newFeed(t, store, PolicyPrepend)

	if _, err := f.Start(ctx, document.Query{Collection: "posts", OrderBy: "createdAt"}, 3); !errors.Is(err, ErrUnsupportedOrder) {
		t.Fatalf("expected ErrUnsupportedOrder, got %v", err)
	}
	if _, err := f.ShowPending(ctx); !errors.Is(err, pagination.ErrNoPageLoaded) {
		t.Fatalf("expected ErrNoPageLoaded, got %v", err)
	}

	page, err := f.Start(ctx, feedQuery, 3)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(page.Items) != 0 || f.Live() || store.Subscriptions() != 0 {
		t.Fatal("an empty first page has no watermark and no subscription")
	}
	if _, ok := f.Watermark(); ok {
		t.Fatal("unexpected watermark")
	}
}

// racingSource commits documents around the first-page read.
type racingSource struct {
	store  *document.Memory
	before []document.Write
	after  []document.Write
	t      testing.TB
	reads  int
}

func (r *racingSource) Find(ctx context.Context, q document.Query) ([]document.Document, error) {
	r.reads++
	if r.reads == 1 && len(r.before) > 0 {
		commit(r.t, r.store, r.before...)
	}
	docs, err := r.store.Find(ctx, q)
	if r.reads == 1 && len(r.after) > 0 {
		commit(r.t, r.store, r.after...)
	}
	return docs, err
}

func TestStart_ReplaysEventsSeenDuringLoad(t *testing.T) {
	ctx := context.Background()
	store := document.NewMemory()
	seed(t, store, 3)
	src := &racingSource{
		store:  store,
		before: []document.Write{post("during", 10)},
		after:  []document.Write{post("after", 11)},
		t:      t,
	}
	f, err := New[string](src, store, decodeTitle, Config{Policy: PolicyPrepend}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer f.Stop()

	page, err := f.Start(ctx, feedQuery, 10)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if page.IDs()[0] != "during" {
		t.Fatalf("snapshot %v", page.IDs())
	}
	if got := ids(f.Items()); !reflect.DeepEqual(got, []string{"after", "during", "p02", "p01", "p00"}) {
		t.Fatalf("rendered %v", got)
	}
}

// Property 4: a document newer than the watermark is never rendered twice, whatever the
// interleaving of insertions, edits and page-1 reloads, under either policy.
func TestProperty_LiveTailNonDuplication(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("rendered ids are unique", prop.ForAll(
		func(prepend bool, ops []int) bool {
			policy := PolicyDeferredBanner
			if prepend {
				policy = PolicyPrepend
			}
			ctx := context.Background()
			store := document.NewMemory()
			seed(t, store, 3)
			f := newFeed(t, store, policy)
			defer f.Stop()
			if _, err := f.Start(ctx, feedQuery, 4); err != nil {
				return false
			}

			inserted := 0
			for _, op := range ops {
				switch op {
				case 0, 1:
					commit(t, store, post(fmt.Sprintf("n%02d", inserted), 100+inserted))
					inserted++
				case 2:
					if inserted > 0 {
						commit(t, store, document.Update("posts", fmt.Sprintf("n%02d", inserted-1), map[string]any{"title": "edit"}))
					}
				case 3:
					if _, err := f.ShowPending(ctx); err != nil {
						return false
					}
				}
				seen := map[string]bool{}
				for _, it := range f.Items() {
					if seen[it.ID] {
						return false
					}
					seen[it.ID] = true
				}
				for _, id := range f.PendingIDs() {
					if seen[id] {
						return false
					}
				}
			}
			return true
		},
		gen.Bool(),
		gen.SliceOf(gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}
