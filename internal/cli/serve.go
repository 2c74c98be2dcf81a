package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/api/handler"
	"github.com/cuongbtq/jobengine/internal/api/router"
	"github.com/cuongbtq/jobengine/internal/config"
	"github.com/cuongbtq/jobengine/shared/logger"
)

// sweepInterval is how often backend housekeeping runs while serving
const sweepInterval = time.Minute

// NewServeCommand creates the serve command
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var (
		port      int
		autoStart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job and its HTTP control surface",
		Long: `Run the job with its worker pool and queues, and serve the HTTP control API.

The job starts InActive unless --start or engine.auto_start is set. On SIGINT
or SIGTERM the HTTP server shuts down and the job is stopped; workers finish
their current task before the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.Config)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if autoStart {
				cfg.Engine.AutoStart = true
			}
			if err := cfg.Validate(); err != nil {
				return WrapExitError(ExitCommandError, "invalid config", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port, overrides server.port")
	cmd.Flags().BoolVar(&autoStart, "start", false, "start the job as soon as it runs")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	appLogger, err := logger.New(&cfg.Logging)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize logger", err)
	}
	defer appLogger.Close()
	log := appLogger.Logger

	log.Info("Starting jobengine",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("backend", cfg.Engine.Backend),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, log)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build engine", err)
	}
	defer eng.Close()

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: router.SetupRouter(&handler.Dependencies{
			Logger:  appLogger.Component("api"),
			Service: cfg.App.Name,
			Engine:  eng.job,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// the job outlives the signal so it can be stopped cleanly
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	g, gctx := errgroup.WithContext(ctx)
	jobDone := make(chan error, 1)
	go func() {
		jobDone <- eng.job.Run(runCtx)
	}()

	g.Go(func() error {
		log.Info("Starting HTTP server",
			slog.String("address", srv.Addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", slog.Any("error", err))
			return err
		}
		return nil
	})

	if eng.sweep != nil {
		g.Go(func() error {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					eng.sweep(gctx)
				}
			}
		})
	}

	if cfg.Engine.AutoStart {
		fb, err := eng.job.Control(ctx, actor.Start, 0)
		if err != nil || !fb.Accepted {
			log.Error("Failed to start job", slog.String("status", fb.Status.String()), slog.Any("error", err))
		}
	}

	serveErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	status, err := eng.job.StopAndWait(stopCtx)
	if err != nil {
		log.Warn("Job did not stop in time", slog.String("status", status.String()), slog.Any("error", err))
	} else {
		log.Info("Job stopped", slog.String("status", status.String()))
	}

	cancelRun()
	if err := <-jobDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Job loop failed", slog.Any("error", err))
	}

	if serveErr != nil {
		return WrapExitError(ExitFailure, "server failed", serveErr)
	}
	log.Info("jobengine shutdown complete")
	return nil
}
