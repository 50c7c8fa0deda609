package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/contentflow/wfm/internal/api"
	"github.com/contentflow/wfm/internal/artifact"
	"github.com/contentflow/wfm/internal/joblog"
	"github.com/contentflow/wfm/internal/log"
	"github.com/contentflow/wfm/internal/model"
	"github.com/contentflow/wfm/internal/service"
)

const shutdownTimeout = 10 * time.Second

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("wfm",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	workspace, store, err := openStores(config)
	if err != nil {
		return err
	}
	defer func() {
		_ = workspace.Close()
	}()

	logs, err := joblog.New(config.Service.LogDirPath())
	if err != nil {
		return err
	}
	supervisor, err := service.NewSupervisor(config, workspace)
	if err != nil {
		return err
	}
	if store != artifact.Store(workspace) {
		supervisor.WithMirror(store)
	}
	controller := service.NewController(ctx, config.Service.MaxConcurrent, supervisor, logs).
		OnTerminal(func(v model.JobView) {
			fields := []any{"job_id", v.ID, "job_type", v.Kind, "status", v.Status}
			if v.StartedAt != nil && v.FinishedAt != nil {
				fields = append(fields, "run_time", v.FinishedAt.Sub(*v.StartedAt).String())
			}
			slog.InfoContext(ctx, "job terminal", fields...)
		})
	publisher := service.NewPublisher(controller, config.Tail)

	srv := &http.Server{
		Addr:              config.Service.Listen,
		Handler:           api.New(controller, publisher, store, version()).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "listening",
			"addr", srv.Addr,
			"max_concurrent", controller.MaxConcurrent(),
			"data_dir", config.Service.DataDir,
			"storage", config.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if model.Get(config.Janitor.Enabled) {
		janitor, err := service.NewJanitor(ctx, config.Janitor, logs.Path(), controller)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return janitor.Run(gctx)
		})
	}

	err = g.Wait()
	if n := controller.ActiveCount(); n > 0 {
		// workers are not cancelled, they finish on their own
		slog.WarnContext(ctx, "exiting with running jobs", "running", n, "queued", controller.QueuedCount())
	}
	return err
}

// openStores returns the data dir the workers use and the store serving the
// API. They are the same unless a remote backend is configured.
func openStores(cfg model.Config) (*artifact.LocalStore, artifact.Store, error) {
	workspace, err := artifact.NewLocalStore(cfg.Service.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing local storage: %w", err)
	}
	switch cfg.Storage.Backend {
	case model.StorageLocal, "":
		return workspace, workspace, nil
	case model.StorageSupabase:
		s := cfg.Storage.Supabase
		remote, err := artifact.NewSupabaseStore(s.URL, s.Key, s.Bucket)
		if err != nil {
			_ = workspace.Close()
			return nil, nil, fmt.Errorf("initializing supabase storage: %w", err)
		}
		return workspace, remote, nil
	default:
		_ = workspace.Close()
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}
