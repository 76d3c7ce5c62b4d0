package document

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// NewID returns a random document id.
func NewID() string {
	return uuid.NewString()
}

// Memory is an in-process Store. It is used by tests and by the "memory" database driver.
// Subscription callbacks run synchronously on the committing goroutine, after the
// batch is visible to readers.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]Document
	subs   map[uint64]*memorySubscription
	nextID uint64
	closed bool
}

type memorySubscription struct {
	mu       sync.Mutex
	query    Query
	onChange func(Change)
	onError  func(error)
	closed   bool
	owner    *Memory
	id       uint64
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]Document),
		subs: make(map[uint64]*memorySubscription),
	}
}

// Find implements Source.
func (m *Memory) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	candidates := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		if d.Collection == q.Collection {
			candidates = append(candidates, copyDocument(d))
		}
	}
	return Evaluate(q, candidates), nil
}

// Get implements Getter.
func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Document{}, ErrClosed
	}
	d, ok := m.docs[collection+"/"+id]
	if !ok {
		return Document{}, documentError(ErrNotFound, collection+"/"+id)
	}
	return copyDocument(d), nil
}

// Len returns the number of documents in a collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, d := range m.docs {
		if d.Collection == collection {
			n++
		}
	}
	return n
}

type pathChange struct {
	before *Document
	after  *Document
}

// Commit implements Batcher. Either every write is applied or none is.
func (m *Memory) Commit(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateWrites(writes); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	staged := make(map[string]*Document)
	changes := make(map[string]*pathChange)
	order := make([]string, 0, len(writes))
	current := func(path string) *Document {
		if d, ok := staged[path]; ok {
			return d
		}
		if d, ok := m.docs[path]; ok {
			cp := copyDocument(d)
			return &cp
		}
		return nil
	}

	for _, w := range writes {
		path := w.Path()
		prev := current(path)
		if _, seen := changes[path]; !seen {
			changes[path] = &pathChange{before: prev}
			order = append(order, path)
		}
		switch w.Kind {
		case WriteDelete:
			staged[path] = nil
		case WriteSet:
			data, err := ApplyFields(nil, w.Data)
			if err != nil {
				m.mu.Unlock()
				return err
			}
			staged[path] = &Document{Collection: w.Collection, ID: w.ID, Data: data}
		case WriteUpdate:
			if prev == nil {
				m.mu.Unlock()
				return documentError(ErrNotFound, path)
			}
			data, err := ApplyFields(prev.Data, w.Data)
			if err != nil {
				m.mu.Unlock()
				return err
			}
			staged[path] = &Document{Collection: w.Collection, ID: w.ID, Data: data}
		}
	}

	for path, d := range staged {
		if d == nil {
			delete(m.docs, path)
			continue
		}
		m.docs[path] = *d
	}
	for _, path := range order {
		changes[path].after = staged[path]
	}
	subs := make([]*memorySubscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, path := range order {
		pc := changes[path]
		for _, s := range subs {
			if ch, ok := Classify(s.query, pc.before, pc.after); ok {
				ch.Document = copyDocument(ch.Document)
				s.deliver(ch)
			}
		}
	}
	return nil
}

// Subscribe implements Subscriber.
func (m *Memory) Subscribe(ctx context.Context, q Query, onChange func(Change), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if onChange == nil {
		return nil, documentError(ErrInvalidQuery, "change handler is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	m.nextID++
	s := &memorySubscription{
		query:    q,
		onChange: onChange,
		onError:  onError,
		owner:    m,
		id:       m.nextID,
	}
	m.subs[s.id] = s
	return s, nil
}

// FailSubscriptions simulates a transport failure on every open subscription.
func (m *Memory) FailSubscriptions(err error) {
	m.mu.Lock()
	subs := make([]*memorySubscription, 0, len(m.subs))
	for id, s := range m.subs {
		subs = append(subs, s)
		delete(m.subs, id)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

// Subscriptions returns the number of open subscriptions.
func (m *Memory) Subscriptions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Close drops every subscription and rejects further calls.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[uint64]*memorySubscription)
	m.mu.Unlock()
	for _, s := range subs {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	}
	return nil
}

func (s *memorySubscription) deliver(ch Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.onChange(ch)
}

func (s *memorySubscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.onError != nil {
		s.onError(err)
	}
}

// Close implements Subscription.
func (s *memorySubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.owner.mu.Lock()
	delete(s.owner.subs, s.id)
	s.owner.mu.Unlock()
	return nil
}

func copyDocument(d Document) Document {
	return Document{Collection: d.Collection, ID: d.ID, Data: cloneMap(d.Data)}
}
