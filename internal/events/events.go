// Package events fans out actor status changes to subscribers.
package events

import (
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/cuongbtq/jobengine/internal/actor"
)

// Event describes one status change
type Event struct {
	Identity actor.Identity `json:"identity"`
	From     actor.Status   `json:"from"`
	To       actor.Status   `json:"to"`
	Action   actor.Action   `json:"action"`
	Time     time.Time      `json:"time"`
}

// Handler receives events. Handlers run on the publisher's goroutine and must not block.
type Handler func(Event)

type subscription struct {
	status  *actor.Status
	handler Handler
}

// Bus is a synchronous publish/subscribe hub
type Bus struct {
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	subs map[int]subscription
	next int
}

// NewBus creates an event bus
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]subscription),
	}
}

// Subscribe registers fn for every event. The returned func removes it.
func (b *Bus) Subscribe(fn Handler) func() {
	return b.add(subscription{handler: fn})
}

// SubscribeStatus registers fn for events entering status
func (b *Bus) SubscribeStatus(status actor.Status, fn Handler) func() {
	return b.add(subscription{status: &status, handler: fn})
}

func (b *Bus) add(s subscription) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = s

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers e to matching subscribers in subscription order
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	subs := make(map[int]subscription, len(b.subs))
	for id, s := range b.subs {
		subs[id] = s
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		s := subs[id]
		if s.status != nil && *s.status != e.To {
			continue
		}
		b.deliver(s.handler, e)
	}
}

// Notify implements actor.Notifier
func (b *Bus) Notify(id actor.Identity, from, to actor.Status, action actor.Action) {
	b.Publish(Event{Identity: id, From: from, To: to, Action: action})
}

// Subscribers returns the number of active subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) deliver(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event subscriber panicked",
				slog.String("actor", e.Identity.FullName),
				slog.String("to", e.To.String()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn(e)
}
