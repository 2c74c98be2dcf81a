package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/metrics"
	"github.com/cuongbtq/jobengine/internal/policy"
	"github.com/cuongbtq/jobengine/internal/queue"
)

// execute runs the policy chain against task until it settles. More results
// are looped on the dispatch path up to maxMore, then the task is re-posted
// so queued controls get a turn.
func (w *Worker[T]) execute(ctx context.Context, task *queue.Task[T]) {
	if w.Status() == actor.Waiting {
		w.Move(ctx, actor.Running, actor.Process)
	}

	for turn := 1; ; turn++ {
		out := w.run(ctx, task)
		if out.Ok() && out.Value == More {
			if turn < w.maxMore && !w.Urgent() {
				continue
			}
			w.yield(ctx, task)
			return
		}
		w.settle(ctx, task, out)
		return
	}
}

func (w *Worker[T]) yield(ctx context.Context, task *queue.Task[T]) {
	if err := w.Post(actor.NewContent(task)); err != nil {
		w.logger.Warn("Failed to re-post task", slog.Any("error", err))
		w.release(ctx, task)
	}
}

func (w *Worker[T]) settle(ctx context.Context, task *queue.Task[T], out policy.Outcome[Result]) {
	if task != nil && w.Fed() {
		w.pending.Add(-1)
	}

	switch out.Code {
	case policy.Succeeded:
		w.ack(ctx, task)
		w.counters.Inc(metrics.Processed)
		w.counters.Inc(metrics.Succeeded)
		w.finish(ctx)

	case policy.Limited:
		w.abandon(ctx, task)
		w.counters.Inc(metrics.Denied)
		w.logger.Info("Work limit reached", slog.Any("reason", out.Err))
		w.Move(ctx, actor.Completed, actor.Process)

	case policy.Ignored, policy.Denied:
		w.abandon(ctx, task)
		w.counters.Inc(out.Code.Counter())
		w.Move(ctx, actor.Waiting, actor.Process)
		w.next()

	default:
		w.abandon(ctx, task)
		w.counters.Inc(metrics.Processed)
		w.counters.Inc(out.Code.Counter())
		attrs := []any{slog.String("code", out.Code.String()), slog.Any("error", out.Err)}
		if task != nil {
			attrs = append(attrs, slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
		}
		w.logger.Error("Work failed", attrs...)
		w.Move(ctx, actor.Failed, actor.Process)
	}
}

// finish moves the worker on after a task succeeded
func (w *Worker[T]) finish(ctx context.Context) {
	if w.queue == nil && !w.Fed() {
		w.Move(ctx, actor.Completed, actor.Process)
		return
	}
	w.Move(ctx, actor.Waiting, actor.Process)
	w.next()
}

// next asks for another task from the worker's own queue
func (w *Worker[T]) next() {
	if w.queue == nil || w.Fed() {
		return
	}
	if err := w.Tell(actor.NewControl(actor.Process)); err != nil {
		w.logger.Debug("Next pull dropped", slog.Any("error", err))
	}
}

// release hands back a task that will not be worked
func (w *Worker[T]) release(ctx context.Context, task *queue.Task[T]) {
	if task == nil {
		return
	}
	if w.Fed() {
		w.pending.Add(-1)
	}
	w.abandon(ctx, task)
	w.logger.Info("Task released", slog.String("task_id", task.ID))
}

func (w *Worker[T]) ack(ctx context.Context, task *queue.Task[T]) {
	if task == nil {
		return
	}
	w.settleErr(task, "ack", task.Done(ctx))
}

func (w *Worker[T]) abandon(ctx context.Context, task *queue.Task[T]) {
	if task == nil {
		return
	}
	w.settleErr(task, "abandon", task.Abandon(ctx))
}

// settleErr records a queue failure. An invalid receipt means the worker
// settled a task it does not hold, which is a programming error.
func (w *Worker[T]) settleErr(task *queue.Task[T], op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, queue.ErrInvalidReceipt) {
		panic(fmt.Errorf("worker %s: %s task %s: %w", w.Identity().FullName, op, task.ID, err))
	}
	w.setErr(err)
	w.logger.Error("Failed to settle task",
		slog.String("op", op),
		slog.String("task_id", task.ID),
		slog.Any("error", err),
	)
}
