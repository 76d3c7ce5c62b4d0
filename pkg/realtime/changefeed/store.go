package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/repository/document"
)

// ErrPublishFailed is passed to the OnPublishError hook for a committed batch whose change
// events did not reach the bus.
var ErrPublishFailed = errors.New("changefeed publish failed")

// Backend is what Store needs from the wrapped document store.
type Backend interface {
	document.Source
	document.Getter
	document.Batcher
}

// Store decorates a Backend with a bus-driven Subscriber.
//
// Cosa fa: dopo ogni Commit riuscito pubblica un Event per documento toccato, con le
// immagini lette prima e dopo il batch.
// Cosa NON fa: non legge le immagini dentro la transazione del backend (uno scrittore
// concorrente può produrre un evento con uno stato vicino) e non pubblica nulla per chi
// scrive aggirando lo Store.
type Store struct {
	backend Backend
	bus     Bus
	logger  logger.Logger
	now     func() time.Time

	mu        sync.Mutex
	onPublish func(error)
}

var _ document.Store = (*Store)(nil)

// NewStore wires backend and bus.
func NewStore(backend Backend, bus Bus, log logger.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("changefeed backend is required")
	}
	if bus == nil {
		return nil, errors.New("changefeed bus is required")
	}
	return &Store{backend: backend, bus: bus, logger: logger.OrNop(log), now: time.Now}, nil
}

// Find implements document.Source.
func (s *Store) Find(ctx context.Context, q document.Query) ([]document.Document, error) {
	return s.backend.Find(ctx, q)
}

// Get implements document.Getter.
func (s *Store) Get(ctx context.Context, collection, id string) (document.Document, error) {
	return s.backend.Get(ctx, collection, id)
}

// OnPublishError registers fn to receive ErrPublishFailed when a committed batch could
// not be fully published. Commit itself still succeeds.
func (s *Store) OnPublishError(fn func(error)) {
	s.mu.Lock()
	s.onPublish = fn
	s.mu.Unlock()
}

// Commit implements document.Batcher and publishes the resulting changes. Once the backend
// commit lands the result is nil; lost events are logged, counted and handed to the
// OnPublishError hook.
func (s *Store) Commit(ctx context.Context, writes []document.Write) error {
	type touched struct {
		collection, id string
		before         *document.Document
	}
	var order []*touched
	seen := make(map[string]*touched, len(writes))
	for _, w := range writes {
		if _, ok := seen[w.Path()]; ok {
			continue
		}
		t := &touched{collection: w.Collection, id: w.ID}
		seen[w.Path()] = t
		order = append(order, t)
	}
	for _, t := range order {
		before, err := s.lookup(ctx, t.collection, t.id)
		if err != nil {
			return err
		}
		t.before = before
	}

	if err := s.backend.Commit(ctx, writes); err != nil {
		return err
	}

	pubCtx := context.WithoutCancel(ctx)
	var errs []error
	for _, t := range order {
		after, err := s.lookup(pubCtx, t.collection, t.id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if t.before == nil && after == nil {
			continue
		}
		ev := Event{Collection: t.collection, ID: t.id, Before: t.before, After: after, Timestamp: s.now().UTC()}
		if err := s.bus.Publish(pubCtx, ev); err != nil {
			errs = append(errs, fmt.Errorf("publish %s/%s: %w", t.collection, t.id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.WithContext(ctx).Warn("batch committed but change events were lost", "writes", len(writes), "error", err)
		recordPublishFailure(order[0].collection, len(errs))
		s.mu.Lock()
		hook := s.onPublish
		s.mu.Unlock()
		if hook != nil {
			hook(fmt.Errorf("%w: %w", ErrPublishFailed, err))
		}
	}
	return nil
}

func (s *Store) lookup(ctx context.Context, collection, id string) (*document.Document, error) {
	d, err := s.backend.Get(ctx, collection, id)
	if errors.Is(err, document.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Subscribe implements document.Subscriber on top of the bus.
func (s *Store) Subscribe(ctx context.Context, q document.Query, onChange func(document.Change), onError func(error)) (document.Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if onChange == nil {
		return nil, fmt.Errorf("%w: change handler is required", document.ErrInvalidQuery)
	}
	sub := &storeSubscription{}
	handler := func(ev Event) {
		if ev.Collection != q.Collection {
			return
		}
		ch, ok := document.Classify(q, ev.Before, ev.After)
		if !ok {
			return
		}
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.closed {
			return
		}
		recordEventDelivered(q.Collection, string(ch.Kind))
		onChange(ch)
	}
	failed := func(err error) {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		if onError != nil {
			onError(err)
		}
	}
	inner, err := s.bus.Subscribe(ctx, Channel(q.Collection), handler, failed)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", q.Collection, err)
	}
	sub.inner = inner
	return sub, nil
}

type storeSubscription struct {
	mu     sync.Mutex
	closed bool
	inner  Subscription
}

func (s *storeSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.inner.Close()
}
