package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/jobengine/internal/actor"
)

// pollRef marks the Process control sent by the re-poll timer
const pollRef = "poll"

// pull leases the next task from the worker's own queue and runs it.
// An empty or failing queue parks the worker in Waiting and arms a re-poll.
func (w *Worker[T]) pull(ctx context.Context) {
	task, err := w.queue.Next(ctx)
	if err != nil {
		w.setErr(err)
		w.logger.Error("Failed to lease task",
			slog.String("queue", w.queue.Name()),
			slog.Any("error", err),
		)
		w.Move(ctx, actor.Waiting, actor.Process)
		w.armPoll()
		return
	}
	w.setErr(nil)

	if task == nil {
		w.Move(ctx, actor.Waiting, actor.Process)
		w.armPoll()
		return
	}

	w.polls = 0
	w.execute(ctx, task)
}

// armPoll schedules one Process with exponential backoff. Only one re-poll is
// outstanding at a time.
func (w *Worker[T]) armPoll() {
	if w.pollArmed {
		return
	}
	w.pollArmed = true
	w.polls++

	delay := w.poll.Delay(w.polls)
	at := w.Now().Add(delay)
	w.Scheduler().Schedule(at, func(context.Context) {
		if err := w.Tell(actor.NewControl(actor.Process).WithRef(pollRef)); err != nil {
			w.logger.Debug("Re-poll dropped", slog.Any("error", err))
		}
	})

	w.logger.Debug("Queue empty, re-poll scheduled",
		slog.String("queue", w.queue.Name()),
		slog.Int("polls", w.polls),
		slog.Duration("delay", delay),
	)
}
