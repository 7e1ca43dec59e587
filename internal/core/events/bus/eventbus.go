package bus

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// simpleEvent is a basic implementation of Event.
// It can be used by callers who don't have their own Event types.
type simpleEvent struct {
	typeStr string
	source  string
	ts      time.Time
	data    any
}

func (e simpleEvent) Type() string         { return e.typeStr }
func (e simpleEvent) Source() string       { return e.source }
func (e simpleEvent) Timestamp() time.Time { return e.ts }
func (e simpleEvent) Data() any            { return e.data }

// NewEvent creates a simple Event implementation.
func NewEvent(channel, src string, data any) Event {
	return simpleEvent{typeStr: channel, source: src, ts: time.Now(), data: data}
}

// subscription implements Subscription interface.
//
// gate is held for reading around every handler call and for writing while the
// subscription is deactivated, which is what makes Cancel wait for in-flight
// deliveries.
type subscription struct {
	id        string
	eventType string
	handler   EventHandler
	active    atomic.Bool
	gate      sync.RWMutex
	detach    func()
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) IsActive() bool    { return s.active.Load() }

func (s *subscription) Cancel() error {
	if s.detach != nil {
		s.detach()
	}
	s.deactivate()
	return nil
}

func (s *subscription) deactivate() {
	s.gate.Lock()
	s.active.Store(false)
	s.gate.Unlock()
}

// call runs the handler unless the subscription has been cancelled.
func (s *subscription) call(event Event) (bool, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if !s.active.Load() {
		return false, nil
	}
	return true, s.handler(event)
}

// inMemoryBus is a thread-safe implementation of EventBus.
type inMemoryBus struct {
	mu sync.RWMutex
	// handlers: channel -> subID -> subscription
	handlers map[string]map[string]*subscription
	closed   bool

	published  atomic.Uint64
	delivered  atomic.Uint64
	errorCount atomic.Uint64
	unrouted   atomic.Uint64
}

// New creates a new EventBus instance.
func New() EventBus {
	return &inMemoryBus{
		handlers: make(map[string]map[string]*subscription),
	}
}

func (b *inMemoryBus) Publish(event Event) error {
	return b.deliver(event)
}

func (b *inMemoryBus) PublishAsync(event Event) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- b.Publish(event)
		close(ch)
	}()
	return ch
}

func (b *inMemoryBus) Subscribe(channel string, handler EventHandler) (Subscription, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	if handler == nil {
		return nil, errors.New("event handler is nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if b.handlers[channel] == nil {
		b.handlers[channel] = make(map[string]*subscription)
	}
	id := uuid.NewString()
	s := &subscription{id: id, eventType: channel, handler: handler}
	s.active.Store(true)
	s.detach = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if mm, ok := b.handlers[channel]; ok {
			delete(mm, id)
			if len(mm) == 0 {
				delete(b.handlers, channel)
			}
		}
	}
	b.handlers[channel][id] = s
	return s, nil
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

func (b *inMemoryBus) GetMetrics() EventBusMetrics {
	b.mu.RLock()
	var subs uint64
	for _, m := range b.handlers {
		subs += uint64(len(m))
	}
	b.mu.RUnlock()

	return EventBusMetrics{
		Published:         b.published.Load(),
		DeliveredHandlers: b.delivered.Load(),
		Errors:            b.errorCount.Load(),
		Unrouted:          b.unrouted.Load(),
		SubscribersActive: subs,
	}
}

func (b *inMemoryBus) GetChannels() []ChannelInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ChannelInfo, 0, len(b.handlers))
	for name, m := range b.handlers {
		out = append(out, ChannelInfo{Name: name, Subs: len(m)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (b *inMemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*subscription
	for _, m := range b.handlers {
		for _, s := range m {
			subs = append(subs, s)
		}
	}
	b.handlers = make(map[string]map[string]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.deactivate()
	}
	return nil
}

func (b *inMemoryBus) deliver(event Event) error {
	if event == nil {
		return errors.New("event is nil")
	}
	channel := event.Type()
	if channel == "" {
		return ErrEmptyChannel
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	var subs []*subscription
	if m := b.handlers[channel]; m != nil {
		subs = make([]*subscription, 0, len(m))
		for _, s := range m {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)
	if len(subs) == 0 {
		b.unrouted.Add(1)
		return nil
	}

	var all error
	for _, s := range subs {
		called, err := s.call(event)
		if called {
			b.delivered.Add(1)
		}
		if err != nil {
			all = errors.Join(all, err)
		}
	}
	if all != nil {
		b.errorCount.Add(1)
	}
	return all
}
