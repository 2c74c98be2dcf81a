package actor

import "sync"

// mailbox is an ordered, single-consumer message queue.
//
// Kill controls travel on an urgent lane that is always drained first.
// The normal lane is unbounded for controls; content and requests count
// against capacity when one is set.
type mailbox struct {
	mu       sync.Mutex
	urgent   []Envelope
	items    []Envelope
	capacity int
	content  int
	closed   bool
	signal   chan struct{} // buffered, size 1
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{
		items:    make([]Envelope, 0, 16),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
}

// post appends env to its lane. Thread-safe.
func (m *mailbox) post(env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrMailboxClosed
	}

	if c, ok := env.(Control); ok && c.Action == Kill {
		m.urgent = append(m.urgent, env)
	} else {
		if isWork(env) {
			if m.capacity > 0 && m.content >= m.capacity {
				return ErrMailboxFull
			}
			m.content++
		}
		m.items = append(m.items, env)
	}

	m.notify()
	return nil
}

// requeue puts envs back at the head of the normal lane, preserving their order.
// Capacity is not enforced: these were already admitted once.
func (m *mailbox) requeue(envs []Envelope) {
	if len(envs) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	for _, env := range envs {
		if isWork(env) {
			m.content++
		}
	}
	items := make([]Envelope, 0, len(envs)+len(m.items))
	items = append(items, envs...)
	m.items = append(items, m.items...)

	m.notify()
}

// tryReceive pops the next envelope without blocking.
func (m *mailbox) tryReceive() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.urgent) > 0 {
		env := m.urgent[0]
		m.urgent[0] = nil
		m.urgent = m.urgent[1:]
		return env, true
	}

	if len(m.items) == 0 {
		return nil, false
	}

	env := m.items[0]
	m.items[0] = nil
	if len(m.items) == 1 {
		m.items = m.items[:0]
	} else {
		m.items = m.items[1:]
	}
	if isWork(env) {
		m.content--
	}
	return env, true
}

// wait returns a channel that signals when envelopes may be available.
func (m *mailbox) wait() <-chan struct{} {
	return m.signal
}

func (m *mailbox) hasUrgent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.urgent) > 0
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.urgent) + len(m.items)
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// close refuses further posts and wakes the consumer.
// Envelopes already queued can still be received.
func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.signal)
}

// notify must be called with mu held.
func (m *mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func isWork(env Envelope) bool {
	_, ok := env.(Control)
	return !ok
}
