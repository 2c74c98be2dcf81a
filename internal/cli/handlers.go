package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cuongbtq/jobengine/internal/queue"
	"github.com/cuongbtq/jobengine/internal/worker"
)

// Handler names accepted by engine.handler
const (
	HandlerEcho  = "echo"
	HandlerPaged = "paged"
)

const pageAttr = "page"

func newHandler(name string, pages int, logger *slog.Logger) (worker.Func[string], error) {
	switch name {
	case HandlerEcho, "":
		return echo(logger), nil
	case HandlerPaged:
		if pages <= 0 {
			pages = 1
		}
		return paged(pages, logger), nil
	default:
		return nil, fmt.Errorf("unknown handler %q", name)
	}
}

func echo(logger *slog.Logger) worker.Func[string] {
	return func(_ context.Context, task *queue.Task[string]) (worker.Result, error) {
		logger.Info("Task processed",
			slog.String("task_id", task.ID),
			slog.String("queue", task.Queue),
			slog.String("payload", task.Data),
		)
		return worker.Done, nil
	}
}

// paged processes a task one page per call and asks for more until every page is done
func paged(pages int, logger *slog.Logger) worker.Func[string] {
	return func(_ context.Context, task *queue.Task[string]) (worker.Result, error) {
		page, _ := strconv.Atoi(task.Attr(pageAttr))
		page++
		if task.Attrs == nil {
			task.Attrs = make(map[string]string, 1)
		}
		task.Attrs[pageAttr] = strconv.Itoa(page)

		logger.Debug("Page processed",
			slog.String("task_id", task.ID),
			slog.Int("page", page),
			slog.Int("pages", pages),
		)
		if page < pages {
			return worker.More, nil
		}
		return worker.Done, nil
	}
}
