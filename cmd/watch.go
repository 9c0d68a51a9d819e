package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/serialwatch/internal/api"
	"github.com/JakeFAU/serialwatch/internal/app"
)

const shutdownTimeout = 15 * time.Second

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Runs sessions on a schedule and serves status over HTTP",
		Long: `Runs an incremental session on the configured cron schedule (watch.schedule)
and exposes health, metrics, crawl state, and session status on server.port.
A session still running when the next tick fires is skipped, not queued.
SIGINT or SIGTERM interrupts the running session, which persists its progress
before the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return watch(cmd.Context(), a)
		},
	}
}

// sessionRunner starts at most one session at a time, from cron or from the API.
type sessionRunner struct {
	ctx     context.Context
	app     *app.App
	running atomic.Bool
	wg      sync.WaitGroup
}

func (r *sessionRunner) run() {
	if !r.running.CompareAndSwap(false, true) {
		r.app.Logger.Info("session already running, skipping tick")
		return
	}
	r.session()
}

// trigger starts a session in the background; false means one is already running.
func (r *sessionRunner) trigger() bool {
	if !r.running.CompareAndSwap(false, true) {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.session()
	}()
	return true
}

func (r *sessionRunner) session() {
	defer r.running.Store(false)
	if _, err := r.app.Controller.RunSession(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.app.Logger.Error("session failed", zap.Error(err))
	}
}

func watch(parent context.Context, a *app.App) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	logger := a.Logger.Named("watch")
	runner := &sessionRunner{ctx: ctx, app: a}

	scheduler := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(logger))),
	)
	if _, err := scheduler.AddFunc(a.Config.Watch.Schedule, runner.run); err != nil {
		return fmt.Errorf("parse watch.schedule %q: %w", a.Config.Watch.Schedule, err)
	}

	server, err := api.NewServer(api.Options{
		Store:   a.Store,
		Status:  a.Controller,
		Recent:  a.Recent,
		Trigger: runner.trigger,
		Clock:   a.Clock,
		Logger:  a.Logger,
	})
	if err != nil {
		return fmt.Errorf("init status server: %w", err)
	}
	addr := net.JoinHostPort("", strconv.Itoa(a.Config.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("status server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	scheduler.Start()
	logger.Info("watching registry",
		zap.String("schedule", a.Config.Watch.Schedule),
		zap.Bool("run_on_start", a.Config.Watch.RunOnStart),
	)
	if a.Config.Watch.RunOnStart {
		runner.trigger()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("status server: %w", err)
		}
	}
	cancel()

	<-scheduler.Stop().Done()
	runner.wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status server shutdown failed", zap.Error(err))
	}
	logger.Info("watch stopped")
	return runErr
}
