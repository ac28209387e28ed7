// Package script runs JavaScript scenarios against a scheduler. The scheduler
// is driven by a manual time source and a client whose behaviour the script
// controls, so every run is deterministic.
//
// Globals available to a scenario:
//
//	scheduler.setVisible(bool), setCanBeginFrame(bool), setNeedsCommit(),
//	  setNeedsForcedCommit(), setNeedsRedraw(), setNeedsForcedRedraw(),
//	  setMainThreadNeedsLayerTextures(), beginFrameComplete(),
//	  beginFrameAborted(), didLoseContext(), didRecreateContext(),
//	  didSwapBuffersComplete(), setMaxFramesPending(n)
//	client.setCanDraw(bool), failDraws(n), setResourceRounds(n),
//	  autoSwap(bool), on(action, fn)
//	vsync([n])      advance n vsync intervals, returns ticks the scheduler saw
//	actions()       names of every action dispatched so far
//	clearActions()  forget the dispatched actions
//	state()         state machine snapshot
//	log(...)        record a line in the result
//	assert(cond, msg)
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/me/ccsched/internal/framerate"
	"github.com/me/ccsched/internal/logging"
	"github.com/me/ccsched/internal/scheduler"
	"github.com/me/ccsched/internal/statemachine"
	"github.com/me/ccsched/pkg/model"
)

// Epoch is the manual clock's start time. Action timestamps are relative to it.
var Epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Result is the outcome of a scenario.
type Result struct {
	Name    string               `json:"name"`
	Actions []model.ActionRecord `json:"actions"`
	Logs    []string             `json:"logs,omitempty"`
	Final   model.StateSnapshot  `json:"final"`
	Value   any                  `json:"value,omitempty"`
	Ticks   int                  `json:"ticks"`
}

// ActionNames returns the dispatched actions in order.
func (r *Result) ActionNames() []string {
	names := make([]string, len(r.Actions))
	for i, rec := range r.Actions {
		names[i] = string(rec.Action)
	}
	return names
}

// Option configures a Runner.
type Option func(*Runner)

// WithSettings sets the state machine settings for every run.
func WithSettings(settings statemachine.Settings) Option {
	return func(r *Runner) { r.settings = settings }
}

// WithLogger sets the logger used for the runner and its scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithInterval sets the vsync interval of the manual time source.
func WithInterval(interval time.Duration) Option {
	return func(r *Runner) { r.interval = interval }
}

// Runner executes scenarios. Each run gets a fresh VM and scheduler.
type Runner struct {
	settings statemachine.Settings
	logger   *slog.Logger
	interval time.Duration
}

// New creates a runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		settings: statemachine.DefaultSettings(),
		interval: time.Second / 60,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	return r
}

// RunFile runs the scenario stored at path.
func (r *Runner) RunFile(ctx context.Context, path string) (*Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return r.Run(ctx, path, string(src))
}

// Run executes src. A contract violation raised by the scheduler is returned
// as an error wrapping *model.ContractViolation.
func (r *Runner) Run(ctx context.Context, name, src string) (res *Result, err error) {
	logger := r.logger.With("component", "script", "scenario", name)
	env := newEnv(r, logger)
	res = &Result{Name: name}

	defer func() {
		if rec := recover(); rec != nil {
			cv, ok := rec.(*model.ContractViolation)
			if !ok {
				panic(rec)
			}
			err = fmt.Errorf("scenario %s: %w", name, cv)
		}
		res.Actions = env.records
		res.Logs = env.logs
		res.Ticks = env.ticks
		res.Final = env.sched.Snapshot()
	}()

	stop := context.AfterFunc(ctx, func() { env.vm.Interrupt(ctx.Err()) })
	defer stop()

	if err := env.install(); err != nil {
		return res, err
	}
	val, err := env.vm.RunString(src)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return res, fmt.Errorf("scenario %s interrupted: %w", name, ctx.Err())
		}
		return res, fmt.Errorf("scenario %s: %w", name, err)
	}
	if val != nil && !goja.IsUndefined(val) && !goja.IsNull(val) {
		res.Value = val.Export()
	}
	logger.Debug("scenario finished", "actions", len(env.records), "ticks", env.ticks)
	return res, nil
}

// env is the per-run world a scenario sees.
type env struct {
	vm     *goja.Runtime
	logger *slog.Logger

	source *framerate.ManualTimeSource
	frc    *framerate.Controller
	sched  *scheduler.Scheduler
	client *client

	records []model.ActionRecord
	logs    []string
	ticks   int
}

func newEnv(r *Runner, logger *slog.Logger) *env {
	e := &env{vm: goja.New(), logger: logger}
	e.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	e.source = framerate.NewManualTimeSource(Epoch, r.interval)
	e.frc = framerate.NewController(e.source, logger)
	e.client = newClient(e)
	e.sched = scheduler.New(e.client, e.frc,
		scheduler.WithLogger(logger),
		scheduler.WithSettings(r.settings),
		scheduler.WithObserver(e),
		scheduler.WithClock(e.source.Now),
	)
	return e
}

func (e *env) ObserveAction(rec model.ActionRecord) { e.records = append(e.records, rec) }

func (e *env) ObserveVSync(int64) {}

func (e *env) install() error {
	s := e.sched
	sched := map[string]any{
		"setVisible":                      s.SetVisible,
		"setCanBeginFrame":                s.SetCanBeginFrame,
		"setNeedsCommit":                  s.SetNeedsCommit,
		"setNeedsForcedCommit":            s.SetNeedsForcedCommit,
		"setNeedsRedraw":                  s.SetNeedsRedraw,
		"setNeedsForcedRedraw":            s.SetNeedsForcedRedraw,
		"setMainThreadNeedsLayerTextures": s.SetMainThreadNeedsLayerTextures,
		"beginFrameComplete":              s.BeginFrameComplete,
		"beginFrameAborted":               s.BeginFrameAborted,
		"didLoseContext":                  s.DidLoseContext,
		"didRecreateContext":              s.DidRecreateContext,
		"didSwapBuffersComplete":          s.DidSwapBuffersComplete,
		"setMaxFramesPending": func(n int) {
			if n < 0 {
				panic(e.vm.NewTypeError("setMaxFramesPending: negative value %d", n))
			}
			s.SetMaxFramesPending(n)
		},
	}
	globals := map[string]any{
		"scheduler":    sched,
		"client":       e.client.bindings(),
		"vsync":        e.vsync,
		"actions":      e.actionNames,
		"clearActions": func() { e.records = nil },
		"state":        e.state,
		"log":          e.log,
		"assert":       e.assert,
	}
	for name, v := range globals {
		if err := e.vm.Set(name, v); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func (e *env) vsync(call goja.FunctionCall) goja.Value {
	n := int64(1)
	if len(call.Arguments) > 0 {
		n = call.Argument(0).ToInteger()
	}
	// Ticks the controller drops while throttled are not counted.
	before := e.frc.Stats().Ticks
	for i := int64(0); i < n; i++ {
		e.client.completeSwaps()
		e.source.Advance()
	}
	delivered := int(e.frc.Stats().Ticks - before)
	e.ticks += delivered
	return e.vm.ToValue(delivered)
}

func (e *env) actionNames() *goja.Object {
	names := make([]any, len(e.records))
	for i, rec := range e.records {
		names[i] = string(rec.Action)
	}
	return e.vm.NewArray(names...)
}

// state exposes the snapshot through its JSON form so scenarios see plain
// strings and booleans.
func (e *env) state() map[string]any {
	data, err := json.Marshal(e.sched.Snapshot())
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(e.vm.NewGoError(err))
	}
	return out
}

func (e *env) log(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = arg.String()
	}
	line := strings.Join(parts, " ")
	e.logs = append(e.logs, line)
	e.logger.Info(line)
	return goja.Undefined()
}

func (e *env) assert(cond bool, msg string) {
	if !cond {
		panic(e.vm.NewGoError(fmt.Errorf("assertion failed: %s", msg)))
	}
}
