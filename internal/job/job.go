// Package job coordinates a set of workers fed from prioritized queues.
//
// A Job is itself an actor. Controls sent to it are forwarded to every
// worker, and worker status changes come back to it as Check controls, so
// all coordination happens on the job's own dispatch path.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/backoff"
	"github.com/cuongbtq/jobengine/internal/metrics"
	"github.com/cuongbtq/jobengine/internal/queue"
	"github.com/cuongbtq/jobengine/internal/scheduler"
	"github.com/cuongbtq/jobengine/internal/worker"
)

var (
	// ErrUnknownWorker is returned when a worker name does not belong to the job
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrUnknownQueue is returned when a queue name does not belong to the job
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrNoWorkers is reported when a job is started without workers
	ErrNoWorkers = errors.New("job has no workers")
)

// Source is a queue polled by the job. Lower priorities are polled first.
type Source[T any] struct {
	Queue    queue.Queue[T]
	Priority queue.Priority
}

// Config holds job configuration
type Config[T any] struct {
	Queues     []Source[T]
	CommandLog CommandLog
	Poll       backoff.Strategy
	Limiter    *rate.Limiter // caps tasks handed to workers, nil for no cap
	Logger     *slog.Logger
	Notifier   actor.Notifier // also attached to every worker
	Scheduler  scheduler.Scheduler
	Sink       metrics.Sink
	Now        func() time.Time
}

// Job is an actor whose content is new task values for its first queue
type Job[T any] struct {
	*actor.Actor[T]

	workers  []*worker.Worker[T]
	byName   map[string]*worker.Worker[T]
	sources  []Source[T]
	commands CommandLog
	poll     backoff.Strategy
	limiter  *rate.Limiter
	sink     metrics.Sink
	logger   *slog.Logger

	// dispatch path only
	stopping  bool
	polls     int
	pollArmed bool

	errMu    sync.Mutex
	queueErr error
}

// New creates a job over workers. When the job has queues every worker is
// adopted: it stops pulling its own queue and is fed by the job instead.
// Without queues the workers keep their own mode, so queue-less workers run
// their work function once and the job completes with them.
func New[T any](id actor.Identity, workers []*worker.Worker[T], cfg Config[T]) *Job[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CommandLog == nil {
		cfg.CommandLog = NewMemoryLog()
	}
	if cfg.Poll == nil {
		cfg.Poll = backoff.Poll()
	}
	if cfg.Sink == nil {
		cfg.Sink = metrics.Nop{}
	}

	sources := slices.Clone(cfg.Queues)
	slices.SortStableFunc(sources, func(a, b Source[T]) int {
		return int(a.Priority) - int(b.Priority)
	})

	j := &Job[T]{
		workers:  workers,
		byName:   make(map[string]*worker.Worker[T], len(workers)*2),
		sources:  sources,
		commands: cfg.CommandLog,
		poll:     cfg.Poll,
		limiter:  cfg.Limiter,
		sink:     cfg.Sink,
		logger:   cfg.Logger.With(slog.String("job", id.FullName)),
	}
	j.Actor = actor.New[T](id, hooks[T]{j}, actor.Config{
		Logger:    cfg.Logger,
		Notifier:  cfg.Notifier,
		Scheduler: cfg.Scheduler,
		Now:       cfg.Now,
	})

	for _, w := range workers {
		if len(sources) > 0 {
			w.Adopt()
		}
		w.Observe(watch[T]{j})
		if cfg.Notifier != nil {
			w.Observe(cfg.Notifier)
		}
		j.byName[w.Identity().Name] = w
		j.byName[w.Identity().FullName] = w
	}
	return j
}

// Run drives the job and all of its workers until ctx is canceled
func (j *Job[T]) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range j.workers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	g.Go(func() error {
		return j.Actor.Run(gctx)
	})

	j.logger.Info("Job running",
		slog.Int("workers", len(j.workers)),
		slog.Int("queues", len(j.sources)),
	)
	err := g.Wait()
	j.logger.Info("Job loop stopped")
	return err
}

// Workers returns the job's workers
func (j *Job[T]) Workers() []*worker.Worker[T] { return j.workers }

// Worker finds a worker by name or full name
func (j *Job[T]) Worker(name string) (*worker.Worker[T], error) {
	w, ok := j.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}
	return w, nil
}

// Control sends action to the job, waits for its feedback and records the command
func (j *Job[T]) Control(ctx context.Context, action actor.Action, seconds int) (actor.Feedback, error) {
	c := actor.NewControl(action).WithSeconds(seconds)
	fb, err := j.Ask(ctx, c)
	j.record(ctx, j.Identity().FullName, c, fb, err)
	return fb, err
}

// ControlWorker sends action to one worker and records the command
func (j *Job[T]) ControlWorker(ctx context.Context, name string, action actor.Action, seconds int) (actor.Feedback, error) {
	w, err := j.Worker(name)
	if err != nil {
		return actor.Feedback{Action: action}, err
	}
	c := actor.NewControl(action).WithSeconds(seconds)
	fb, err := w.Ask(ctx, c)
	j.record(ctx, w.Identity().FullName, c, fb, err)
	return fb, err
}

// StopAndWait stops the job and blocks until every worker has halted
func (j *Job[T]) StopAndWait(ctx context.Context) (actor.Status, error) {
	if _, err := j.Control(ctx, actor.Stop, 0); err != nil {
		return j.Status(), err
	}
	return j.Await(ctx, actor.Stopped, actor.Completed, actor.Failed, actor.Killed)
}

// Commands returns up to limit of the most recent commands
func (j *Job[T]) Commands(ctx context.Context, limit int) ([]Command, error) {
	return j.commands.List(ctx, limit)
}

// Enqueue sends value to the named queue and nudges the dispatch round
func (j *Job[T]) Enqueue(ctx context.Context, queueName string, value T, attrs map[string]string) (string, error) {
	for _, s := range j.sources {
		if s.Queue.Name() != queueName {
			continue
		}
		id, err := s.Queue.Send(ctx, value, attrs)
		if err != nil {
			return "", err
		}
		j.nudge()
		return id, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownQueue, queueName)
}

func (j *Job[T]) record(ctx context.Context, target string, c actor.Control, fb actor.Feedback, err error) {
	cmd := Command{
		ID:       c.ID,
		Job:      j.Identity().FullName,
		Target:   target,
		Action:   c.Action,
		Seconds:  c.Seconds,
		Accepted: fb.Accepted,
		Status:   fb.Status,
		At:       j.Now(),
	}
	if err != nil {
		cmd.Error = err.Error()
	}
	if appendErr := j.commands.Append(context.WithoutCancel(ctx), cmd); appendErr != nil {
		j.logger.Warn("Failed to record command",
			slog.String("action", c.Action.String()),
			slog.Any("error", appendErr),
		)
	}
}

func (j *Job[T]) nudge() {
	if err := j.Tell(actor.NewControl(actor.Process)); err != nil {
		j.logger.Debug("Dispatch nudge dropped", slog.Any("error", err))
	}
}

// forward sends action to every worker without waiting and records each send.
// The recorded status is the worker's status when the control was sent.
func (j *Job[T]) forward(ctx context.Context, action actor.Action) {
	for _, w := range j.workers {
		c := actor.NewControl(action).WithRef(j.Identity().FullName)
		err := w.Tell(c)
		if err != nil {
			j.logger.Warn("Failed to forward control",
				slog.String("worker", w.Identity().FullName),
				slog.String("action", action.String()),
				slog.Any("error", err),
			)
		}
		j.record(ctx, w.Identity().FullName, c, actor.Feedback{
			Accepted: err == nil,
			Action:   action,
			Status:   w.Status(),
		}, err)
	}
}

func (j *Job[T]) setErr(err error) {
	j.errMu.Lock()
	j.queueErr = err
	j.errMu.Unlock()
}

// Err returns the last queue error seen by the dispatch round
func (j *Job[T]) Err() error {
	j.errMu.Lock()
	defer j.errMu.Unlock()
	return j.queueErr
}

func (j *Job[T]) allHalted() bool {
	for _, w := range j.workers {
		if !w.Status().Halted() {
			return false
		}
	}
	return true
}

func (j *Job[T]) all(status actor.Status) bool {
	if len(j.workers) == 0 {
		return false
	}
	for _, w := range j.workers {
		if w.Status() != status {
			return false
		}
	}
	return true
}

func (j *Job[T]) has(status actor.Status) bool {
	for _, w := range j.workers {
		if w.Status() == status {
			return true
		}
	}
	return false
}

// watch turns worker status changes into Check controls on the job
type watch[T any] struct{ j *Job[T] }

func (w watch[T]) Notify(id actor.Identity, _, _ actor.Status, _ actor.Action) {
	if err := w.j.Tell(actor.NewControl(actor.Check).WithRef(id.FullName)); err != nil {
		w.j.logger.Debug("Worker check dropped", slog.Any("error", err))
	}
}

// hooks keeps the actor callbacks off the job's public API
type hooks[T any] struct{ j *Job[T] }

// Admit holds Stop until every worker has halted
func (h hooks[T]) Admit(_ actor.Control, from, to actor.Status) actor.Status {
	if to == actor.Stopped && !h.j.allHalted() {
		return from
	}
	return to
}

func (h hooks[T]) OnControl(ctx context.Context, c actor.Control, from, to actor.Status) {
	j := h.j
	switch c.Action {
	case actor.Start, actor.Resume:
		if to != actor.Running {
			return
		}
		j.stopping = false
		if len(j.workers) == 0 {
			j.logger.Error("Job cannot start", slog.Any("error", ErrNoWorkers))
			j.Move(ctx, actor.Failed, c.Action)
			return
		}
		j.polls = 0
		j.forward(ctx, c.Action)
		j.nudge()

	case actor.Pause, actor.Delay, actor.Kill:
		if to != from {
			j.forward(ctx, c.Action)
		}

	case actor.Stop:
		if j.Status() != actor.Stopped && !j.stopping {
			j.stopping = true
			j.logger.Info("Job stopping, waiting for workers", slog.Int("workers", len(j.workers)))
			j.forward(ctx, actor.Stop)
		}

	case actor.Check:
		j.check(ctx)

	case actor.Process:
		if c.Ref == pollRef {
			j.pollArmed = false
		}
		j.dispatch(ctx)
	}
}

// OnContent sends a new value to the highest priority queue
func (h hooks[T]) OnContent(ctx context.Context, c actor.Content[T]) {
	h.j.store(ctx, c.Data)
	h.j.dispatch(ctx)
}

func (h hooks[T]) OnRequest(ctx context.Context, _ actor.Request) {
	h.j.dispatch(ctx)
}

// Release keeps values sent while the job is stopped by queueing them anyway
func (h hooks[T]) Release(ctx context.Context, env actor.Envelope) {
	if c, ok := env.(actor.Content[T]); ok {
		h.j.store(ctx, c.Data)
	}
}

func (j *Job[T]) store(ctx context.Context, value T) {
	if len(j.sources) == 0 {
		j.logger.Warn("Job has no queue, value dropped")
		return
	}
	q := j.sources[0].Queue
	if _, err := q.Send(ctx, value, nil); err != nil {
		j.setErr(err)
		j.logger.Error("Failed to enqueue value",
			slog.String("queue", q.Name()),
			slog.Any("error", err),
		)
	}
}

// check reacts to a worker status change
func (j *Job[T]) check(ctx context.Context) {
	if j.Status().Absorbing() {
		return
	}

	switch {
	case j.stopping && j.allHalted():
		j.stopping = false
		j.Move(ctx, actor.Stopped, actor.Stop)
		j.logger.Info("Job stopped")
	case j.all(actor.Completed):
		j.Move(ctx, actor.Completed, actor.Check)
		j.logger.Info("Job completed")
	case !j.stopping && len(j.workers) > 0 && j.allHalted() && j.Status().Workable():
		if j.has(actor.Failed) {
			j.Move(ctx, actor.Failed, actor.Check)
			j.logger.Error("All workers halted, some failed")
			return
		}
		j.Move(ctx, actor.Stopped, actor.Check)
		j.logger.Info("All workers halted")
	default:
		j.dispatch(ctx)
	}
}
