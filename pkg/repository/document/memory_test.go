package document

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func seed(t testing.TB, m *Memory, collection string, values []int) {
	t.Helper()
	writes := make([]Write, 0, len(values))
	for i, v := range values {
		writes = append(writes, Set(collection, fmt.Sprintf("d%03d", i), map[string]any{"rank": v, "kind": i % 2}))
	}
	if err := m.Commit(context.Background(), writes); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestMemory_FindOrdersWithIDTieBreak(t *testing.T) {
	m := NewMemory()
	seed(t, m, "items", []int{2, 1, 2, 3})

	asc, err := m.Find(context.Background(), Query{Collection: "items", OrderBy: "rank", Order: SortAsc})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got, want := fmt.Sprint(ids(asc)), "[d001 d000 d002 d003]"; got != want {
		t.Fatalf("asc order = %s, want %s", got, want)
	}

	desc, err := m.Find(context.Background(), Query{Collection: "items", OrderBy: "rank", Order: SortDesc, Limit: 3})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if got, want := fmt.Sprint(ids(desc)), "[d003 d002 d000]"; got != want {
		t.Fatalf("desc order = %s, want %s", got, want)
	}
}

func TestMemory_FindStartAfterAndAt(t *testing.T) {
	m := NewMemory()
	seed(t, m, "items", []int{5, 4, 3, 2, 1})
	q := Query{Collection: "items", OrderBy: "rank", Order: SortDesc, Limit: 2}

	first, _ := m.Find(context.Background(), q)
	last := first[len(first)-1].Cursor("rank")

	q.Start = &Start{Cursor: last}
	after, _ := m.Find(context.Background(), q)
	if got, want := fmt.Sprint(ids(after)), "[d002 d003]"; got != want {
		t.Fatalf("start after = %s, want %s", got, want)
	}

	q.Start = &Start{Cursor: last, Inclusive: true}
	at, _ := m.Find(context.Background(), q)
	if got, want := fmt.Sprint(ids(at)), "[d001 d002]"; got != want {
		t.Fatalf("start at = %s, want %s", got, want)
	}
}

func TestMemory_FindFiltersAndMissingSortField(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	err := m.Commit(ctx, []Write{
		Set("posts", "a", map[string]any{"authorId": "u1", "createdAt": 1}),
		Set("posts", "b", map[string]any{"authorId": "u2", "createdAt": 2}),
		Set("posts", "c", map[string]any{"authorId": "u1"}),
		Set("posts", "d", map[string]any{"authorId": "u1", "createdAt": 3, "stats": map[string]any{"likes": 4}}),
	})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	docs, _ := m.Find(ctx, Query{Collection: "posts", Filters: []Condition{Where("authorId", OpEqual, "u1")}, OrderBy: "createdAt"})
	if got, want := fmt.Sprint(ids(docs)), "[a d]"; got != want {
		t.Fatalf("filtered = %s, want %s", got, want)
	}

	byID, _ := m.Find(ctx, Query{Collection: "posts", Filters: []Condition{Where("authorId", OpEqual, "u1")}})
	if got, want := fmt.Sprint(ids(byID)), "[a c d]"; got != want {
		t.Fatalf("ordered by id = %s, want %s", got, want)
	}

	nested, _ := m.Find(ctx, Query{Collection: "posts", Filters: []Condition{Where("stats.likes", OpGreaterEqual, 4)}})
	if got, want := fmt.Sprint(ids(nested)), "[d]"; got != want {
		t.Fatalf("nested filter = %s, want %s", got, want)
	}
}

func TestMemory_FindValidatesQuery(t *testing.T) {
	m := NewMemory()
	if _, err := m.Find(context.Background(), Query{}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	q := Query{Collection: "x", Filters: []Condition{{Field: "a", Op: "~"}}}
	if _, err := m.Find(context.Background(), q); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery for unknown op, got %v", err)
	}
}

func TestMemory_CommitIsAtomic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seed(t, m, "items", []int{1, 2})

	err := m.Commit(ctx, []Write{
		Delete("items", "d000"),
		Update("items", "missing", map[string]any{"rank": 9}),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n := m.Len("items"); n != 2 {
		t.Fatalf("expected no partial apply, have %d documents", n)
	}
}

func TestMemory_UpdateTransforms(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.Commit(ctx, []Write{Set("posts", "p", map[string]any{"likedBy": []any{"a"}})}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	err := m.Commit(ctx, []Write{Update("posts", "p", map[string]any{
		"stats.likesCount": Increment(1),
		"likedBy":          ArrayUnion("b", "a"),
	})})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	err = m.Commit(ctx, []Write{Update("posts", "p", map[string]any{
		"stats.likesCount": Increment(2.5),
		"likedBy":          ArrayRemove("a"),
	})})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	doc, err := m.Get(ctx, "posts", "p")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	likes, _ := doc.Value("stats.likesCount")
	if CompareValues(likes, 3.5) != 0 {
		t.Fatalf("likesCount = %v, want 3.5", likes)
	}
	likedBy, _ := doc.Value("likedBy")
	if fmt.Sprint(likedBy) != "[b]" {
		t.Fatalf("likedBy = %v, want [b]", likedBy)
	}
}

func TestMemory_GetMissing(t *testing.T) {
	if _, err := NewMemory().Get(context.Background(), "posts", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_SubscriptionClassifiesChanges(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	q := Query{Collection: "posts", Filters: []Condition{Where("createdAt", OpGreater, 10)}}

	var got []string
	sub, err := m.Subscribe(ctx, q, func(c Change) {
		got = append(got, string(c.Kind)+":"+c.Document.ID)
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	steps := [][]Write{
		{Set("posts", "old", map[string]any{"createdAt": 5})},
		{Set("posts", "new", map[string]any{"createdAt": 11})},
		{Update("posts", "new", map[string]any{"title": "x"})},
		{Update("posts", "old", map[string]any{"createdAt": 12})},
		{Update("posts", "new", map[string]any{"createdAt": 1})},
		{Delete("posts", "old")},
		{Set("other", "z", map[string]any{"createdAt": 50})},
	}
	for _, w := range steps {
		if err := m.Commit(ctx, w); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}
	want := "[added:new modified:new added:old removed:new removed:old]"
	if fmt.Sprint(got) != want {
		t.Fatalf("changes = %v, want %s", got, want)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	_ = m.Commit(ctx, []Write{Set("posts", "late", map[string]any{"createdAt": 99})})
	if fmt.Sprint(got) != want {
		t.Fatalf("callback after Close: %v", got)
	}
	if m.Subscriptions() != 0 {
		t.Fatalf("expected subscription to be released, have %d", m.Subscriptions())
	}
}

func TestMemory_FailSubscriptions(t *testing.T) {
	m := NewMemory()
	var failed error
	changes := 0
	_, err := m.Subscribe(context.Background(), Query{Collection: "posts"},
		func(Change) { changes++ },
		func(err error) { failed = err })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	boom := errors.New("transport lost")
	m.FailSubscriptions(boom)
	if !errors.Is(failed, boom) {
		t.Fatalf("expected onError with transport error, got %v", failed)
	}
	_ = m.Commit(context.Background(), []Write{Set("posts", "a", map[string]any{})})
	if changes != 0 {
		t.Fatalf("expected no delivery after failure, got %d", changes)
	}
}

// Property 1: walking a collection page by page with start-after cursors visits
// every document exactly once, in the same order as a single unpaged query.
func TestProperty_KeysetWalkMatchesFullOrder(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("paged walk equals full ordering", prop.ForAll(
		func(values []int, pageSize int, desc bool) bool {
			m := NewMemory()
			seed(t, m, "items", values)
			order := SortAsc
			if desc {
				order = SortDesc
			}
			base := Query{Collection: "items", OrderBy: "rank", Order: order}
			full, err := m.Find(context.Background(), base)
			if err != nil {
				return false
			}

			var walked []string
			q := base
			q.Limit = pageSize
			for {
				page, err := m.Find(context.Background(), q)
				if err != nil {
					return false
				}
				if len(page) == 0 {
					break
				}
				walked = append(walked, ids(page)...)
				q.Start = &Start{Cursor: page[len(page)-1].Cursor("rank")}
			}
			return fmt.Sprint(walked) == fmt.Sprint(ids(full)) && len(full) == len(values)
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.IntRange(1, 7),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
