// Package worker runs a user function against tasks, one at a time, on top of
// an actor. A worker either pulls from its own queue, is fed by a job, or runs
// its function once when it has neither.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/backoff"
	"github.com/cuongbtq/jobengine/internal/metrics"
	"github.com/cuongbtq/jobengine/internal/policy"
	"github.com/cuongbtq/jobengine/internal/queue"
	"github.com/cuongbtq/jobengine/internal/scheduler"
)

// Result tells the worker what to do with the task after one call
type Result int

const (
	// Done settles the task as succeeded
	Done Result = iota
	// More keeps the task and calls the function again
	More
	// Fail settles the task as failed
	Fail
)

func (r Result) String() string {
	switch r {
	case Done:
		return "done"
	case More:
		return "more"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Func is the work a worker performs. task is nil for one-time workers.
type Func[T any] func(ctx context.Context, task *queue.Task[T]) (Result, error)

// ErrFailed is used when work reports Fail without an error
var ErrFailed = errors.New("work failed")

// DefaultMaxMore caps how many More results are handled in one dispatch turn
const DefaultMaxMore = 10

// Config holds worker configuration
type Config[T any] struct {
	Queue     queue.Queue[T]
	Policies  []policy.Policy[*queue.Task[T], Result]
	Counters  *metrics.Counters
	Sink      metrics.Sink
	Poll      backoff.Strategy
	MaxMore   int
	Logger    *slog.Logger
	Notifier  actor.Notifier
	Scheduler scheduler.Scheduler
	Capacity  int
	Now       func() time.Time
}

// Worker is an actor whose content is leased tasks
type Worker[T any] struct {
	*actor.Actor[*queue.Task[T]]

	queue    queue.Queue[T]
	run      policy.Operation[*queue.Task[T], Result]
	counters *metrics.Counters
	poll     backoff.Strategy
	maxMore  int
	logger   *slog.Logger

	fed     atomic.Bool
	pending atomic.Int64

	// dispatch path only
	polls     int
	pollArmed bool

	errMu   sync.Mutex
	lastErr error
}

// New creates a worker in status InActive
func New[T any](id actor.Identity, work Func[T], cfg Config[T]) *Worker[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Counters == nil {
		cfg.Counters = metrics.NewCounters()
	}
	if cfg.Sink == nil {
		cfg.Sink = metrics.Nop{}
	}
	if cfg.Poll == nil {
		cfg.Poll = backoff.Poll()
	}
	if cfg.MaxMore <= 0 {
		cfg.MaxMore = DefaultMaxMore
	}

	w := &Worker[T]{
		queue:    cfg.Queue,
		counters: cfg.Counters,
		poll:     cfg.Poll,
		maxMore:  cfg.MaxMore,
		logger:   cfg.Logger.With(slog.String("worker", id.FullName)),
	}

	policies := make([]policy.Policy[*queue.Task[T], Result], 0, len(cfg.Policies)+2)
	policies = append(policies,
		policy.Recover[*queue.Task[T], Result](w.logger),
		policy.Measure[*queue.Task[T], Result](cfg.Sink, "jobengine.worker.outcomes", map[string]string{"worker": id.Name}),
	)
	policies = append(policies, cfg.Policies...)
	w.run = policy.Chain(policies, operation(work))

	w.Actor = actor.New[*queue.Task[T]](id, hooks[T]{w}, actor.Config{
		Logger:    cfg.Logger,
		Notifier:  cfg.Notifier,
		Scheduler: cfg.Scheduler,
		Capacity:  cfg.Capacity,
		Now:       cfg.Now,
	})
	return w
}

// operation adapts work to the policy chain. Fail becomes an Errored outcome
// so retry policies see it.
func operation[T any](work Func[T]) policy.Operation[*queue.Task[T], Result] {
	return func(ctx context.Context, task *queue.Task[T]) policy.Outcome[Result] {
		result, err := work(ctx, task)
		if result == Fail || err != nil {
			if err == nil {
				err = ErrFailed
			}
			return policy.Failure[Result](err)
		}
		return policy.Success(result)
	}
}

// Adopt marks the worker as fed by a job. It stops pulling from its own queue.
func (w *Worker[T]) Adopt() { w.fed.Store(true) }

// Fed reports whether the worker is fed by a job
func (w *Worker[T]) Fed() bool { return w.fed.Load() }

// Feed hands a leased task to the worker
func (w *Worker[T]) Feed(task *queue.Task[T]) error {
	w.pending.Add(1)
	if err := w.Post(actor.NewContent(task)); err != nil {
		w.pending.Add(-1)
		return err
	}
	return nil
}

// Pending returns the number of fed tasks not yet settled
func (w *Worker[T]) Pending() int64 { return w.pending.Load() }

// Counters returns the outcome counters of the worker
func (w *Worker[T]) Counters() *metrics.Counters { return w.counters }

// Err returns the last queue error, or nil once the queue answers again
func (w *Worker[T]) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.lastErr
}

func (w *Worker[T]) setErr(err error) {
	w.errMu.Lock()
	w.lastErr = err
	w.errMu.Unlock()
}

// Snapshot is a point-in-time view of a worker
type Snapshot struct {
	Identity actor.Identity   `json:"identity"`
	Status   actor.Status     `json:"status"`
	Counters metrics.Snapshot `json:"counters"`
	Pending  int64            `json:"pending"`
	Backlog  int              `json:"backlog"`
	Overflow int64            `json:"overflow"`
	Error    string           `json:"error,omitempty"`
}

// Snapshot returns the worker's current state
func (w *Worker[T]) Snapshot() Snapshot {
	s := Snapshot{
		Identity: w.Identity(),
		Status:   w.Status(),
		Counters: w.counters.Snapshot(),
		Pending:  w.Pending(),
		Backlog:  w.Backlog(),
		Overflow: w.Overflow(),
	}
	if err := w.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// hooks keeps the actor callbacks off the worker's public API
type hooks[T any] struct{ w *Worker[T] }

func (h hooks[T]) OnControl(ctx context.Context, c actor.Control, from, to actor.Status) {
	w := h.w
	switch c.Action {
	case actor.Start, actor.Resume:
		if to == actor.Running {
			w.begin(ctx, c.Action)
		}
	case actor.Process:
		if c.Ref == pollRef {
			w.pollArmed = false
		}
		if w.Status().Workable() && w.queue != nil && !w.Fed() {
			w.pull(ctx)
		}
	}
}

func (h hooks[T]) OnContent(ctx context.Context, c actor.Content[*queue.Task[T]]) {
	h.w.execute(ctx, c.Data)
}

func (h hooks[T]) OnRequest(ctx context.Context, _ actor.Request) {
	w := h.w
	if w.queue != nil && !w.Fed() {
		w.pull(ctx)
	}
}

func (h hooks[T]) Release(ctx context.Context, env actor.Envelope) {
	c, ok := env.(actor.Content[*queue.Task[T]])
	if !ok {
		return
	}
	h.w.release(ctx, c.Data)
}

// begin starts work in the mode the worker was built for
func (w *Worker[T]) begin(ctx context.Context, action actor.Action) {
	switch {
	case w.Fed():
		w.Move(ctx, actor.Waiting, action)
	case w.queue != nil:
		w.polls = 0
		if err := w.Tell(actor.NewControl(actor.Process)); err != nil {
			w.logger.Warn("Failed to trigger queue pull", slog.Any("error", err))
		}
	default:
		w.execute(ctx, nil)
	}
}
