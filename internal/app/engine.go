// Package app assembles a running compositor: the impl thread, the vsync
// source and frame rate controller, the simulated compositor, its scheduler
// and the optional trace recorder, metrics and debug server around them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/me/ccsched/internal/config"
	"github.com/me/ccsched/internal/framerate"
	"github.com/me/ccsched/internal/logging"
	"github.com/me/ccsched/internal/metrics"
	"github.com/me/ccsched/internal/scheduler"
	"github.com/me/ccsched/internal/server"
	"github.com/me/ccsched/internal/sim"
	"github.com/me/ccsched/internal/store"
	"github.com/me/ccsched/internal/thread"
	"github.com/me/ccsched/pkg/model"
)

// Engine owns every component of one compositor run. Build it with New, then
// call Run once.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	runner   *thread.Runner
	frc      *framerate.Controller
	comp     *sim.Compositor
	sched    *scheduler.Scheduler
	metrics  *metrics.Collector
	store    store.Store     // nil when tracing is disabled
	session  *model.Session  // nil when tracing is disabled
	recorder *store.Recorder // nil when tracing is disabled
	server   *server.Server
}

// New validates cfg and wires the components. When tracing is enabled it
// opens the trace database and starts a session, so Close must be called even
// if Run never is.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrDiscard(logger)

	e := &Engine{
		cfg:    cfg,
		logger: logger.With("component", "engine"),
		runner: thread.New(logger),
	}

	source := framerate.NewDelayBasedTimeSource(cfg.FrameRate.Interval, e.runner)
	e.frc = framerate.NewController(source, logger)
	e.frc.SetMaxFramesPending(cfg.FrameRate.MaxFramesPending)
	e.metrics = metrics.NewCollector(e.frc.Stats)

	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithSettings(cfg.Settings()),
		scheduler.WithObserver(e.metrics),
	}

	if cfg.Trace.DBPath != "" {
		st, err := store.NewSQLiteStore(cfg.Trace.DBPath, logger)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate trace db: %w", err)
		}
		sess, err := store.StartSession(ctx, st, cfg.Trace.Label)
		if err != nil {
			st.Close()
			return nil, err
		}
		e.store = st
		e.session = sess
		e.recorder = store.NewRecorder(st, sess.ID, cfg.Trace.BufferSize, cfg.Trace.FlushInterval, logger)
		opts = append(opts, scheduler.WithObserver(e.recorder))
		e.logger.Info("tracing actions", "db", cfg.Trace.DBPath, "session", sess.ID)
	}

	e.comp = sim.New(cfg.Simulation, e.runner, logger)
	e.sched = scheduler.New(e.comp, e.frc, opts...)
	e.comp.Attach(e.sched)

	srvOpts := []server.Option{server.WithMetrics(e.metrics.Handler())}
	if e.store != nil {
		srvOpts = append(srvOpts, server.WithStore(e.store))
	}
	e.server = server.New(e, logger, srvOpts...)
	return e, nil
}

// Session returns the recorded session, or nil when tracing is disabled.
func (e *Engine) Session() *model.Session { return e.session }

// Metrics returns the engine's metrics collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Handler returns the debug API.
func (e *Engine) Handler() http.Handler { return e.server.Handler() }

// Status implements server.Controls.
func (e *Engine) Status(ctx context.Context) (*server.Status, error) {
	st := &server.Status{}
	if e.session != nil {
		st.SessionID = e.session.ID
	}
	err := e.runner.Invoke(ctx, func() {
		st.Scheduler = e.sched.Snapshot()
		st.Compositor = e.comp.Stats()
	})
	if err != nil {
		return nil, err
	}
	st.FrameRate = e.frc.Stats()
	return st, nil
}

// Command implements server.Controls.
func (e *Engine) Command(ctx context.Context, name string) error {
	var cmdErr error
	if err := e.runner.Invoke(ctx, func() { cmdErr = e.comp.Command(name) }); err != nil {
		return err
	}
	return cmdErr
}

// Run starts the compositor and blocks until ctx is done or a component
// fails. Cancellation is a clean stop and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// The recorder outlives the impl thread so the last records are flushed.
	recCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRecorder()

	if err := e.runner.Post(e.comp.Start); err != nil {
		return err
	}

	g.Go(func() error {
		defer stopRecorder()
		err := e.runner.Start(gctx)
		// The impl thread is gone, so the scheduler can be shut down here.
		e.comp.Close()
		e.sched.Close()
		return err
	})
	if e.recorder != nil {
		g.Go(func() error {
			err := e.recorder.Run(recCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if e.cfg.Debug.Addr != "" {
		g.Go(func() error {
			return e.server.ListenAndServe(gctx, e.cfg.Debug.Addr)
		})
	}

	e.logger.Info("compositor running",
		"interval", e.cfg.FrameRate.Interval,
		"max_frames_pending", e.cfg.FrameRate.MaxFramesPending,
		"debug_addr", e.cfg.Debug.Addr)

	err := g.Wait()
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = nil
	}
	e.logger.Info("compositor stopped", "frame_rate", e.frc.Stats())
	return err
}

// Final returns the state left behind by Run. It reads the components
// directly and is only safe once Run has returned.
func (e *Engine) Final() *server.Status {
	st := &server.Status{
		Scheduler:  e.sched.Snapshot(),
		Compositor: e.comp.Stats(),
		FrameRate:  e.frc.Stats(),
	}
	if e.session != nil {
		st.SessionID = e.session.ID
	}
	return st
}

// Close releases the trace database.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}
