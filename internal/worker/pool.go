package worker

import (
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobengine/internal/actor"
)

// NewPool builds n workers named <parent>-w<i> that share work and cfg.
// Policies in cfg are shared by every worker. Each worker keeps its own counters.
func NewPool[T any](parent actor.Identity, n int, work Func[T], cfg Config[T]) []*Worker[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := make([]*Worker[T], 0, n)
	for i := 1; i <= n; i++ {
		c := cfg
		c.Counters = nil
		workers = append(workers, New(parent.Child(fmt.Sprintf("w%d", i)), work, c))
	}

	logger.Info("Worker pool created",
		slog.String("parent", parent.FullName),
		slog.Int("worker_count", n),
	)
	return workers
}
