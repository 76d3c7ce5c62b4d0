package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/signalmax/signalmax/pkg/observability/logger"
	redisstore "github.com/signalmax/signalmax/pkg/store/redis"
)

// ErrBusClosed is reported to subscribers when the bus shuts down under them.
var ErrBusClosed = errors.New("changefeed bus closed")

// Bus transports change events between writers and subscribers, possibly across
// instances.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe delivers events of channel to handler until the returned subscription is
	// closed. onError runs at most once, when the transport fails.
	Subscribe(ctx context.Context, channel string, handler func(Event), onError func(error)) (Subscription, error)
	Close() error
}

// Subscription is a cancelable bus subscription. Close is synchronous.
type Subscription interface {
	Close() error
}

// InMemoryBus is a process-local bus. Handlers run on the publishing goroutine.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]*inMemoryBusSubscription
	nextID   uint64
	closed   bool
}

// NewInMemoryBus creates a local in-memory bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{handlers: make(map[string]map[uint64]*inMemoryBusSubscription)}
}

// Publish delivers event to the handlers subscribed to its collection channel.
func (b *InMemoryBus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	subs := make([]*inMemoryBusSubscription, 0, len(b.handlers[Channel(event.Collection)]))
	for _, s := range b.handlers[Channel(event.Collection)] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.deliver(event)
	}
	recordEventPublished(event.Collection, "memory")
	return nil
}

// Subscribe registers a channel handler.
func (b *InMemoryBus) Subscribe(_ context.Context, channel string, handler func(Event), onError func(error)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	if b.handlers[channel] == nil {
		b.handlers[channel] = make(map[uint64]*inMemoryBusSubscription)
	}
	s := &inMemoryBusSubscription{bus: b, channel: channel, id: b.nextID, handler: handler, onError: onError}
	b.handlers[channel][s.id] = s
	return s, nil
}

// Close drops every subscription, reporting ErrBusClosed to each.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	all := b.handlers
	b.handlers = make(map[string]map[uint64]*inMemoryBusSubscription)
	b.mu.Unlock()

	for _, subs := range all {
		for _, s := range subs {
			s.fail(ErrBusClosed)
		}
	}
	return nil
}

type inMemoryBusSubscription struct {
	bus     *InMemoryBus
	channel string
	id      uint64
	handler func(Event)
	onError func(error)

	mu     sync.Mutex
	closed bool
}

func (s *inMemoryBusSubscription) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.handler(event)
	}
}

func (s *inMemoryBusSubscription) fail(err error) {
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

func (s *inMemoryBusSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.handlers[s.channel], s.id)
	if len(s.bus.handlers[s.channel]) == 0 {
		delete(s.bus.handlers, s.channel)
	}
	return nil
}

// RedisBus fans events out through Redis pub/sub so every instance sees every commit.
type RedisBus struct {
	adapter *redisstore.Adapter
	logger  logger.Logger
}

// NewRedisBus creates a bus on an already connected adapter. Closing the bus does not
// close the adapter.
func NewRedisBus(adapter *redisstore.Adapter, log logger.Logger) (*RedisBus, error) {
	if adapter == nil {
		return nil, errors.New("redis adapter is required")
	}
	return &RedisBus{adapter: adapter, logger: logger.OrNop(log)}, nil
}

// Publish encodes event as JSON and publishes it.
func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := b.adapter.Publish(ctx, b.adapter.Key(Channel(event.Collection)), raw); err != nil {
		return err
	}
	recordEventPublished(event.Collection, "redis")
	return nil
}

// Subscribe consumes the Redis channel and forwards decoded events. Undecodable payloads
// are logged and skipped.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler func(Event), onError func(error)) (Subscription, error) {
	pubsub, err := b.adapter.Subscribe(ctx, b.adapter.Key(channel))
	if err != nil {
		return nil, err
	}

	sub := &redisBusSubscription{pubsub: pubsub, stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		msgCh := pubsub.Channel()
		for {
			select {
			case <-sub.stop:
				return
			case msg, ok := <-msgCh:
				if !ok {
					select {
					case <-sub.stop:
					default:
						if onError != nil {
							onError(ErrBusClosed)
						}
					}
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					recordDecodeFailure(channel)
					b.logger.Warn("skipping undecodable change event", "channel", channel, "error", err)
					continue
				}
				select {
				case <-sub.stop:
					return
				default:
				}
				handler(evt)
			}
		}
	}()
	return sub, nil
}

// Close is a no-op; the adapter owns the connection pool.
func (b *RedisBus) Close() error {
	return nil
}

type redisBusSubscription struct {
	once   sync.Once
	pubsub *redis.PubSub
	stop   chan struct{}
	done   chan struct{}
	err    error
}

// Close stops the reader goroutine and waits for it, so no handler runs afterwards.
func (s *redisBusSubscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}
