// Package events fans pipeline progress and error events out to
// subscribers such as the websocket endpoint, the CLI progress bar and the
// alerter.
package events

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Cloner is implemented by values that carry mutable state. The hub hands
// each subscriber its own copy of such values.
type Cloner[T any] interface {
	Clone() T
}

type subscriber[T any] struct {
	fn    func(T)
	async bool
}

// Hub delivers published values to every subscriber. Synchronous
// subscribers run in subscription order on the publisher's goroutine;
// asynchronous ones each get their own goroutine per delivery. A panicking
// subscriber is logged and skipped. Values implementing Cloner are copied
// per delivery.
type Hub[T any] struct {
	name string

	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber[T]
	closed bool

	inflight sync.WaitGroup
}

// NewHub creates a hub. name is used in log output only.
func NewHub[T any](name string) *Hub[T] {
	return &Hub[T]{name: name, subs: make(map[int]subscriber[T])}
}

// Subscribe registers fn to run synchronously on each Publish.
func (h *Hub[T]) Subscribe(fn func(T)) int {
	return h.add(fn, false)
}

// SubscribeAsync registers fn to run on its own goroutine for each Publish.
func (h *Hub[T]) SubscribeAsync(fn func(T)) int {
	return h.add(fn, true)
}

func (h *Hub[T]) add(fn func(T), async bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.subs[h.nextID] = subscriber[T]{fn: fn, async: async}
	return h.nextID
}

// Unsubscribe removes a subscriber. It reports whether id was registered.
func (h *Hub[T]) Unsubscribe(id int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return false
	}
	delete(h.subs, id)
	return true
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers v to every subscriber. Publishing to a closed hub is a
// no-op.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	ids := make([]int, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]subscriber[T], len(ids))
	for i, id := range ids {
		subs[i] = h.subs[id]
	}
	for _, s := range subs {
		if s.async {
			h.inflight.Add(1)
		}
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if s.async {
			go func(fn func(T), v T) {
				defer h.inflight.Done()
				h.deliver(fn, v)
			}(s.fn, private(v))
			continue
		}
		h.deliver(s.fn, private(v))
	}
}

func private[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}

func (h *Hub[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("events: subscriber panicked",
				zap.String("hub", h.name),
				zap.Any("panic", r),
			)
		}
	}()
	fn(v)
}

// Close stops further publishing and waits for in-flight async deliveries.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	h.closed = true
	h.subs = make(map[int]subscriber[T])
	h.mu.Unlock()
	h.inflight.Wait()
}
