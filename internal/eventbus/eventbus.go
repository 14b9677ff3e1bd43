// Package eventbus fans snapshots out from samplers and checkers to the
// consumers that care about them (live API, persistence hooks).
package eventbus

import (
	"sync"

	"hostwatch/internal/models"
)

// Topic is a typed publish/subscribe channel. Publish delivers synchronously
// to every subscriber in registration order. A new subscriber is handed the
// last published value, if there is one, before Subscribe returns.
type Topic[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	subs    []subscriber[T]
	last    T
	hasLast bool
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

func (t *Topic[T]) Subscribe(fn func(T)) *Subscription {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})
	last, hasLast := t.last, t.hasLast
	t.mu.Unlock()

	if hasLast {
		fn(last)
	}
	return &Subscription{cancel: func() { t.remove(id) }}
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Publish records v as the last value and calls each subscriber. Handlers
// run without the topic lock held, so they may subscribe or unsubscribe.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	t.last, t.hasLast = v, true
	subs := make([]subscriber[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Last returns the most recently published value.
func (t *Topic[T]) Last() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.hasLast
}

func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Bus groups the topics produced by the collectors.
type Bus struct {
	Metrics    Topic[models.MetricsSnapshot]
	Containers Topic[[]models.ContainerSnapshot]
	Services   Topic[[]models.ServiceSnapshot]
	Public     Topic[[]models.ServiceSnapshot]
}

func New() *Bus { return &Bus{} }
