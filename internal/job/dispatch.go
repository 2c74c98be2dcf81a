package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/metrics"
	"github.com/cuongbtq/jobengine/internal/queue"
	"github.com/cuongbtq/jobengine/internal/worker"
)

// pollRef marks the Process control sent by the re-poll timer
const pollRef = "poll"

// dispatch hands one task to every idle worker. Sources are polled in
// priority order, so a lower priority queue is only read once every higher
// priority queue is empty. A job without queues has nothing to hand out: its
// workers run on their own and check completes the job.
func (j *Job[T]) dispatch(ctx context.Context) {
	if !j.Status().Workable() || j.stopping || len(j.sources) == 0 {
		return
	}

	idle := j.idle()
	fed, exhausted := 0, false

	for _, w := range idle {
		if j.limiter != nil {
			now := j.Now()
			r := j.limiter.ReserveN(now, 1)
			if !r.OK() {
				j.logger.Error("Dispatch rate cannot admit a single task")
				break
			}
			if d := r.DelayFrom(now); d > 0 {
				r.CancelAt(now)
				j.armPoll(d)
				break
			}
		}

		task := j.lease(ctx)
		if task == nil {
			exhausted = true
			break
		}
		if err := w.Feed(task); err != nil {
			j.logger.Warn("Failed to feed worker",
				slog.String("worker", w.Identity().FullName),
				slog.String("task", task.ID),
				slog.Any("error", err),
			)
			j.abandon(ctx, task)
			continue
		}
		fed++
	}

	switch {
	case fed > 0:
		j.polls = 0
		j.Move(ctx, actor.Running, actor.Process)
	case !j.busy():
		j.Move(ctx, actor.Waiting, actor.Process)
	}

	if exhausted {
		j.armPoll(0)
	}
}

// lease takes the next task from the first source that has one
func (j *Job[T]) lease(ctx context.Context) *queue.Task[T] {
	var failed error
	for _, s := range j.sources {
		task, err := s.Queue.Next(ctx)
		if err != nil {
			failed = err
			j.logger.Error("Failed to lease task",
				slog.String("queue", s.Queue.Name()),
				slog.String("priority", s.Priority.String()),
				slog.Any("error", err),
			)
			continue
		}
		if task != nil {
			j.setErr(nil)
			return task
		}
	}
	j.setErr(failed)
	return nil
}

func (j *Job[T]) abandon(ctx context.Context, task *queue.Task[T]) {
	if err := task.Abandon(ctx); err != nil {
		j.setErr(err)
		j.logger.Error("Failed to abandon task",
			slog.String("task", task.ID),
			slog.Any("error", err),
		)
	}
}

// idle returns workers waiting for a task with nothing queued for them
func (j *Job[T]) idle() []*worker.Worker[T] {
	var idle []*worker.Worker[T]
	for _, w := range j.workers {
		if w.Status() == actor.Waiting && w.Pending() == 0 {
			idle = append(idle, w)
		}
	}
	return idle
}

func (j *Job[T]) busy() bool {
	for _, w := range j.workers {
		if w.Status() == actor.Running || w.Pending() > 0 {
			return true
		}
	}
	return false
}

// armPoll schedules one dispatch round after delay, or after the poll backoff
// when delay is zero. Only one is outstanding at a time.
func (j *Job[T]) armPoll(delay time.Duration) {
	if j.pollArmed {
		return
	}
	j.pollArmed = true
	j.polls++
	if delay <= 0 {
		delay = j.poll.Delay(j.polls)
	}

	j.Scheduler().Schedule(j.Now().Add(delay), func(context.Context) {
		if err := j.Tell(actor.NewControl(actor.Process).WithRef(pollRef)); err != nil {
			j.logger.Debug("Re-poll dropped", slog.Any("error", err))
		}
	})

	j.logger.Debug("Re-poll scheduled",
		slog.Int("polls", j.polls),
		slog.Duration("delay", delay),
	)
}

// Snapshot is a point-in-time view of a job and its workers
type Snapshot struct {
	Identity actor.Identity    `json:"identity"`
	Status   actor.Status      `json:"status"`
	Workers  []worker.Snapshot `json:"workers"`
	Totals   metrics.Snapshot  `json:"totals"`
	Error    string            `json:"error,omitempty"`
}

// Snapshot returns the job's status with per-worker counters and their totals
func (j *Job[T]) Snapshot() Snapshot {
	s := Snapshot{
		Identity: j.Identity(),
		Status:   j.Status(),
		Workers:  make([]worker.Snapshot, 0, len(j.workers)),
	}
	for _, w := range j.workers {
		ws := w.Snapshot()
		s.Workers = append(s.Workers, ws)
		s.Totals = s.Totals.Add(ws.Counters)
	}
	if err := j.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// QueueInfo describes one of the job's queues
type QueueInfo struct {
	Name     string         `json:"name"`
	Priority queue.Priority `json:"priority"`
	Depth    int            `json:"depth"`
	Error    string         `json:"error,omitempty"`
}

// Queues reports the depth of every queue in polling order
func (j *Job[T]) Queues(ctx context.Context) []QueueInfo {
	infos := make([]QueueInfo, 0, len(j.sources))
	for _, s := range j.sources {
		info := QueueInfo{Name: s.Queue.Name(), Priority: s.Priority}
		n, err := s.Queue.Count(ctx)
		if err != nil {
			info.Error = err.Error()
		} else {
			info.Depth = n
			j.sink.Gauge(ctx, "jobengine.queue.depth", float64(n), map[string]string{
				"queue":    info.Name,
				"priority": s.Priority.String(),
			})
		}
		infos = append(infos, info)
	}
	return infos
}
