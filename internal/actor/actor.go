// Package actor provides the concurrency unit of the engine: an identity, a
// lifecycle status and a mailbox drained by exactly one dispatch loop.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/jobengine/internal/scheduler"
)

// DefaultDeferLimit bounds how many content messages are held while an actor cannot work
const DefaultDeferLimit = 1024

// Behavior supplies the lifecycle hooks of a concrete actor.
// Hooks run on the dispatch path and must not wait for replies from their own actor.
type Behavior[T any] interface {
	// OnControl runs when an accepted control changes the computed status,
	// or always for Check and Process. to is the status computed by Transition.
	OnControl(ctx context.Context, c Control, from, to Status)
	// OnContent runs for content while the actor is workable
	OnContent(ctx context.Context, c Content[T])
	// OnRequest runs for requests while the actor is workable
	OnRequest(ctx context.Context, r Request)
	// Release hands back content that will never be processed
	Release(ctx context.Context, env Envelope)
}

// Gate lets a behavior hold a transition before it is committed.
// Admit returns the status to commit instead of to.
type Gate interface {
	Admit(c Control, from, to Status) Status
}

// Notifier receives status changes
type Notifier interface {
	Notify(id Identity, from, to Status, action Action)
}

// Config holds actor configuration
type Config struct {
	Logger     *slog.Logger
	Notifier   Notifier
	Scheduler  scheduler.Scheduler
	Capacity   int // content capacity of the mailbox, 0 for unbounded
	DeferLimit int // content held while not workable, DefaultDeferLimit when 0
	Now        func() time.Time
}

// Actor owns a status and a mailbox. Status is written only on the dispatch path.
type Actor[T any] struct {
	id        Identity
	behavior  Behavior[T]
	box       *mailbox
	logger    *slog.Logger
	scheduler scheduler.Scheduler
	now       func() time.Time

	status atomic.Int32

	// mu serializes the dispatch path between Run, Issue and Pull
	mu         sync.Mutex
	deferred   []Envelope
	deferLimit int
	overflow   atomic.Int64

	obsMu     sync.Mutex
	observers []Notifier
	changed   chan struct{}

	running atomic.Bool
	done    chan struct{}
}

// New creates an actor in status InActive. Call Run to start its dispatch loop.
func New[T any](id Identity, behavior Behavior[T], cfg Config) *Actor[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.NewTimer(cfg.Logger)
	}
	if cfg.DeferLimit <= 0 {
		cfg.DeferLimit = DefaultDeferLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	a := &Actor[T]{
		id:         id,
		behavior:   behavior,
		box:        newMailbox(cfg.Capacity),
		logger:     cfg.Logger.With(slog.String("actor", id.FullName)),
		scheduler:  cfg.Scheduler,
		now:        cfg.Now,
		deferLimit: cfg.DeferLimit,
		changed:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	a.status.Store(int32(InActive))
	if cfg.Notifier != nil {
		a.observers = append(a.observers, cfg.Notifier)
	}
	return a
}

// Identity returns the actor's identity
func (a *Actor[T]) Identity() Identity { return a.id }

// Status returns the current status. Safe from any goroutine.
func (a *Actor[T]) Status() Status { return Status(a.status.Load()) }

// Logger returns the actor's logger
func (a *Actor[T]) Logger() *slog.Logger { return a.logger }

// Scheduler returns the scheduler used for delayed re-activation
func (a *Actor[T]) Scheduler() scheduler.Scheduler { return a.scheduler }

// Now returns the actor's clock reading
func (a *Actor[T]) Now() time.Time { return a.now() }

// Overflow returns how many content messages were released because the defer buffer was full
func (a *Actor[T]) Overflow() int64 { return a.overflow.Load() }

// Backlog returns the number of envelopes waiting in the mailbox
func (a *Actor[T]) Backlog() int { return a.box.len() }

// Urgent reports whether a priority message is waiting, so long work can yield.
func (a *Actor[T]) Urgent() bool { return a.box.hasUrgent() }

// Observe registers n to receive status changes
func (a *Actor[T]) Observe(n Notifier) {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	a.observers = append(a.observers, n)
}

// Run drains the mailbox until ctx is canceled or Close is called.
func (a *Actor[T]) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(a.done)

	a.logger.Debug("Actor loop started")

	for {
		env, ok := a.box.tryReceive()
		if !ok {
			if a.box.isClosed() {
				a.logger.Debug("Actor loop stopped - mailbox closed")
				return nil
			}
			select {
			case <-ctx.Done():
				a.box.close()
				a.drain(context.WithoutCancel(ctx))
				a.logger.Debug("Actor loop stopped - context canceled")
				return nil
			case <-a.box.wait():
			}
			continue
		}

		a.mu.Lock()
		a.dispatch(ctx, env)
		a.mu.Unlock()
	}
}

// Close stops accepting messages. The loop exits once queued messages are handled.
func (a *Actor[T]) Close() {
	a.box.close()
}

// Done is closed when Run returns
func (a *Actor[T]) Done() <-chan struct{} { return a.done }

// Issue dispatches env on the caller's goroutine through the same single-writer path.
func (a *Actor[T]) Issue(ctx context.Context, env Envelope) Feedback {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := env.(Control); ok {
		c.reply = nil
		fb := a.control(ctx, c)
		a.flush()
		return fb
	}
	a.dispatch(ctx, env)
	return Feedback{Accepted: true, Status: a.Status()}
}

// Pull dispatches up to limit queued envelopes on the caller's goroutine.
// It returns how many were handled. Not for use while Run is active.
func (a *Actor[T]) Pull(ctx context.Context, limit int) int {
	n := 0
	for n < limit {
		env, ok := a.box.tryReceive()
		if !ok {
			break
		}
		a.mu.Lock()
		a.dispatch(ctx, env)
		a.mu.Unlock()
		n++
	}
	return n
}

// Tell posts a control without waiting for its feedback
func (a *Actor[T]) Tell(c Control) error {
	c.reply = nil
	return a.box.post(c)
}

// Ask posts a control and waits for its feedback
func (a *Actor[T]) Ask(ctx context.Context, c Control) (Feedback, error) {
	c.reply = make(chan Feedback, 1)
	if err := a.box.post(c); err != nil {
		return Feedback{Action: c.Action, Status: a.Status()}, fmt.Errorf("failed to post %s: %w", c.Action, err)
	}

	select {
	case fb := <-c.reply:
		return fb, nil
	case <-a.done:
		select {
		case fb := <-c.reply:
			return fb, nil
		default:
		}
		return Feedback{Action: c.Action, Status: a.Status()}, ErrMailboxClosed
	case <-ctx.Done():
		return Feedback{Action: c.Action, Status: a.Status()}, ctx.Err()
	}
}

func (a *Actor[T]) Start(ctx context.Context) (Feedback, error) {
	return a.Ask(ctx, NewControl(Start))
}

func (a *Actor[T]) Pause(ctx context.Context) (Feedback, error) {
	return a.Ask(ctx, NewControl(Pause))
}

// PauseFor pauses and schedules a Resume after seconds
func (a *Actor[T]) PauseFor(ctx context.Context, seconds int) (Feedback, error) {
	return a.Ask(ctx, NewControl(Pause).WithSeconds(seconds))
}

func (a *Actor[T]) Resume(ctx context.Context) (Feedback, error) {
	return a.Ask(ctx, NewControl(Resume))
}

// Delay deactivates the actor and schedules a Start after seconds
func (a *Actor[T]) Delay(ctx context.Context, seconds int) (Feedback, error) {
	return a.Ask(ctx, NewControl(Delay).WithSeconds(seconds))
}

func (a *Actor[T]) Stop(ctx context.Context) (Feedback, error) {
	return a.Ask(ctx, NewControl(Stop))
}

func (a *Actor[T]) Kill(ctx context.Context) (Feedback, error) {
	return a.Ask(ctx, NewControl(Kill))
}

func (a *Actor[T]) Check(ctx context.Context) (Feedback, error) {
	return a.Ask(ctx, NewControl(Check))
}

func (a *Actor[T]) Process(ctx context.Context) (Feedback, error) {
	return a.Ask(ctx, NewControl(Process))
}

// Send posts data as content
func (a *Actor[T]) Send(data T) error {
	return a.box.post(NewContent(data))
}

// Load posts a request asking the actor to pull its own payload
func (a *Actor[T]) Load(ref string) error {
	return a.box.post(NewRequest(ref))
}

// Post posts any envelope
func (a *Actor[T]) Post(env Envelope) error {
	return a.box.post(env)
}

// Move commits an outcome-driven status change. Call only from a hook.
// Absorbing statuses are never left.
func (a *Actor[T]) Move(ctx context.Context, to Status, action Action) {
	from := a.Status()
	if from.Absorbing() || from == to {
		return
	}
	a.commit(ctx, from, to, action)
}

// Await blocks until the status is one of statuses, or ctx ends.
func (a *Actor[T]) Await(ctx context.Context, statuses ...Status) (Status, error) {
	for {
		a.obsMu.Lock()
		changed := a.changed
		a.obsMu.Unlock()

		current := a.Status()
		for _, s := range statuses {
			if current == s {
				return current, nil
			}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return a.Status(), ctx.Err()
		}
	}
}

// dispatch must be called with mu held.
func (a *Actor[T]) dispatch(ctx context.Context, env Envelope) {
	switch e := env.(type) {
	case Control:
		fb := a.control(ctx, e)
		if e.reply != nil {
			e.reply <- fb
		}
	case Content[T]:
		if a.admitWork(ctx, e) {
			a.behavior.OnContent(ctx, e)
		}
	case Request:
		if a.admitWork(ctx, e) {
			a.behavior.OnRequest(ctx, e)
		}
	default:
		a.logger.Error("Unexpected envelope", slog.String("type", fmt.Sprintf("%T", env)))
	}

	a.flush()
}

// flush puts deferred content back in the mailbox once the actor can work again.
func (a *Actor[T]) flush() {
	if len(a.deferred) > 0 && a.Status().Workable() {
		a.box.requeue(a.deferred)
		a.deferred = nil
	}
}

func (a *Actor[T]) control(ctx context.Context, c Control) Feedback {
	from := a.Status()
	fb := Feedback{Action: c.Action, Status: from}

	if from.Absorbing() && !c.Action.PassThrough() {
		a.logger.Warn("Control rejected",
			slog.String("action", c.Action.String()),
			slog.String("status", from.String()),
		)
		return fb
	}
	fb.Accepted = true

	to := Transition(from, c.Action)
	if to == from && !c.Action.PassThrough() {
		// a timed Delay on an inactive actor still arms its Start
		if c.Action == Delay {
			a.schedule(c)
		}
		return fb
	}

	commit := to
	if g, ok := a.behavior.(Gate); ok {
		commit = g.Admit(c, from, to)
	}
	if commit != from {
		a.commit(ctx, from, commit, c.Action)
	}

	a.schedule(c)
	a.behavior.OnControl(ctx, c, from, to)

	fb.Status = a.Status()
	fb.Changed = fb.Status != from
	return fb
}

// admitWork decides whether content can be worked now, deferred or released.
func (a *Actor[T]) admitWork(ctx context.Context, env Envelope) bool {
	status := a.Status()
	switch {
	case status.Workable():
		return true
	case status == Stopped || status.Absorbing():
		a.behavior.Release(ctx, env)
		return false
	case len(a.deferred) >= a.deferLimit:
		a.overflow.Add(1)
		a.logger.Error("Defer buffer full, releasing content",
			slog.String("ref", env.Reference()),
			slog.Int("limit", a.deferLimit),
		)
		a.behavior.Release(ctx, env)
		return false
	default:
		a.deferred = append(a.deferred, env)
		return false
	}
}

func (a *Actor[T]) commit(ctx context.Context, from, to Status, action Action) {
	a.status.Store(int32(to))

	a.logger.Debug("Status changed",
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("action", action.String()),
	)

	if to == Stopped || to.Absorbing() {
		deferred := a.deferred
		a.deferred = nil
		for _, env := range deferred {
			a.behavior.Release(ctx, env)
		}
	}

	a.obsMu.Lock()
	observers := append([]Notifier(nil), a.observers...)
	close(a.changed)
	a.changed = make(chan struct{})
	a.obsMu.Unlock()

	for _, n := range observers {
		n.Notify(a.id, from, to, action)
	}
}

// schedule arms the re-activation implied by a timed control.
func (a *Actor[T]) schedule(c Control) {
	if c.Seconds <= 0 {
		return
	}

	var next Action
	switch c.Action {
	case Delay:
		next = Start
	case Pause:
		next = Resume
	default:
		return
	}

	at := a.now().Add(time.Duration(c.Seconds) * time.Second)
	ref := c.ID
	a.scheduler.Schedule(at, func(context.Context) {
		if err := a.Tell(NewControl(next).WithRef(ref)); err != nil {
			a.logger.Warn("Failed to deliver scheduled control",
				slog.String("action", next.String()),
				slog.Any("error", err),
			)
		}
	})

	a.logger.Info("Re-activation scheduled",
		slog.String("action", next.String()),
		slog.Time("at", at),
	)
}

// drain answers controls still queued after the loop ends and releases content.
func (a *Actor[T]) drain(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		env, ok := a.box.tryReceive()
		if !ok {
			break
		}
		switch e := env.(type) {
		case Control:
			if e.reply != nil {
				e.reply <- Feedback{Action: e.Action, Status: a.Status()}
			}
		default:
			a.behavior.Release(ctx, env)
		}
	}

	deferred := a.deferred
	a.deferred = nil
	for _, env := range deferred {
		a.behavior.Release(ctx, env)
	}
}
