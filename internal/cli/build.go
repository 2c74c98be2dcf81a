package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/backoff"
	"github.com/cuongbtq/jobengine/internal/config"
	"github.com/cuongbtq/jobengine/internal/events"
	"github.com/cuongbtq/jobengine/internal/job"
	"github.com/cuongbtq/jobengine/internal/metrics"
	"github.com/cuongbtq/jobengine/internal/queue"
	"github.com/cuongbtq/jobengine/internal/queue/amqpq"
	"github.com/cuongbtq/jobengine/internal/queue/pgq"
	"github.com/cuongbtq/jobengine/internal/queue/redisq"
	"github.com/cuongbtq/jobengine/internal/scheduler"
	"github.com/cuongbtq/jobengine/internal/store/sqlite"
	"github.com/cuongbtq/jobengine/internal/worker"
	"github.com/cuongbtq/jobengine/shared/postgresql"
	"github.com/cuongbtq/jobengine/shared/rabbitmq"
)

// queueRetries is how many times a queue call is attempted before the error reaches the job
const queueRetries = 3

// leaseTTL is how long a postgres lease may stay unsettled before it is released
const leaseTTL = 5 * time.Minute

// engine is a job with everything it was built from
type engine struct {
	job    *job.Job[string]
	bus    *events.Bus
	timer  *scheduler.Timer
	logger *slog.Logger

	// sweep runs periodically while serving, nil when the backend has nothing to sweep
	sweep   func(ctx context.Context)
	closers []func() error
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *engine, err error) {
	e := &engine{
		bus:    events.NewBus(logger),
		timer:  scheduler.NewTimer(logger),
		logger: logger,
	}
	e.closers = append(e.closers, func() error { e.timer.Close(); return nil })
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	work, err := newHandler(cfg.Engine.Handler, cfg.Engine.Pages, logger)
	if err != nil {
		return nil, err
	}

	sources, err := e.buildQueues(ctx, cfg)
	if err != nil {
		return nil, err
	}

	commands, err := e.buildCommandLog(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	var sink metrics.Sink = metrics.Nop{}
	if cfg.Metrics.Enabled {
		sink = metrics.NewOTel()
	}

	var limiter *rate.Limiter
	if cfg.Engine.DispatchRate > 0 {
		burst := cfg.Engine.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Engine.DispatchRate), burst)
	}

	poll := backoff.Poll()
	if cfg.Engine.PollInitial > 0 && cfg.Engine.PollMax > 0 {
		poll = backoff.NewExponential(cfg.Engine.PollInitial, cfg.Engine.PollMax)
	}

	e.bus.Subscribe(func(ev events.Event) {
		logger.Debug("Status changed",
			slog.String("actor", ev.Identity.FullName),
			slog.String("from", ev.From.String()),
			slog.String("to", ev.To.String()),
			slog.String("action", ev.Action.String()),
		)
		sink.Count(context.Background(), "jobengine.status.changes", 1, map[string]string{"to": ev.To.String()})
	})

	id := actor.NewIdentity("jobengine", cfg.Engine.Name)
	if cfg.Engine.Instance != "" {
		id = actor.NewIdentityWithInstance("jobengine", cfg.Engine.Name, cfg.Engine.Instance)
	}
	workers := worker.NewPool(id, cfg.Engine.Workers, work, worker.Config[string]{
		Sink:      sink,
		MaxMore:   cfg.Engine.MaxMore,
		Logger:    logger,
		Scheduler: e.timer,
	})

	e.job = job.New(id, workers, job.Config[string]{
		Queues:     sources,
		CommandLog: commands,
		Poll:       poll,
		Limiter:    limiter,
		Logger:     logger,
		Notifier:   e.bus,
		Scheduler:  e.timer,
		Sink:       sink,
	})
	return e, nil
}

func (e *engine) buildQueues(ctx context.Context, cfg *config.Config) ([]job.Source[string], error) {
	open, err := e.backend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sources := make([]job.Source[string], 0, len(cfg.Queues))
	for _, qc := range cfg.Queues {
		priority, err := qc.ParsePriority()
		if err != nil {
			return nil, err
		}
		q, err := open(qc.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to open queue %s: %w", qc.Name, err)
		}
		sources = append(sources, job.Source[string]{
			Queue:    queue.WithRetry(q, queueRetries, backoff.Default(), e.logger),
			Priority: priority,
		})
	}
	return sources, nil
}

// backend connects to the configured queue backend and returns an opener for its queues
func (e *engine) backend(ctx context.Context, cfg *config.Config) (func(name string) (queue.Queue[string], error), error) {
	switch cfg.Engine.Backend {
	case config.BackendMemory, "":
		return func(name string) (queue.Queue[string], error) {
			return queue.NewMemory[string](name), nil
		}, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.closers = append(e.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		prefix := cfg.Redis.Prefix + ":"
		return func(name string) (queue.Queue[string], error) {
			q := redisq.New[string](rdb, prefix, name)
			n, err := q.Recover(ctx)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				e.logger.Info("Recovered leased tasks", slog.String("queue", name), slog.Int("count", n))
			}
			return q, nil
		}, nil

	case config.BackendRabbitMQ:
		client, err := rabbitmq.NewClient(&cfg.RabbitMQ, e.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		e.closers = append(e.closers, client.Close)
		return func(name string) (queue.Queue[string], error) {
			return amqpq.New[string](client, name)
		}, nil

	case config.BackendPostgres:
		client, err := postgresql.NewClient(ctx, &cfg.Database, e.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		e.closers = append(e.closers, client.Close)
		if err := pgq.EnsureSchema(ctx, client.GetDB()); err != nil {
			return nil, err
		}
		var queues []*pgq.Queue[string]
		e.sweep = func(ctx context.Context) {
			for _, q := range queues {
				n, err := q.ReleaseExpired(ctx, leaseTTL)
				if err != nil {
					e.logger.Warn("Failed to release expired leases", slog.String("queue", q.Name()), slog.Any("error", err))
					continue
				}
				if n > 0 {
					e.logger.Info("Released expired leases", slog.String("queue", q.Name()), slog.Int("count", n))
				}
			}
		}
		return func(name string) (queue.Queue[string], error) {
			q := pgq.New[string](client.GetDB(), name)
			queues = append(queues, q)
			return q, nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Engine.Backend)
	}
}

func (e *engine) buildCommandLog(ctx context.Context, cfg config.StoreConfig) (job.CommandLog, error) {
	if cfg.Path == "" {
		return job.NewMemoryLog(), nil
	}
	store, err := sqlite.Open(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, store.Close)
	e.logger.Info("Command log opened", slog.String("path", cfg.Path))
	return store, nil
}

// Close releases backend connections in reverse order of opening
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("Failed to close resource", slog.Any("error", err))
		}
	}
	e.closers = nil
}
