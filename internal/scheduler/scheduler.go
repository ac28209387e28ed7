// Package scheduler drives compositor actions chosen by the state machine
// against a live client and frame-rate controller. A Scheduler is confined to
// one goroutine (the impl thread); it performs no locking of its own.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/me/ccsched/internal/framerate"
	"github.com/me/ccsched/internal/logging"
	"github.com/me/ccsched/internal/statemachine"
	"github.com/me/ccsched/pkg/model"
)

// Client performs the actions the scheduler decides on. Every method runs
// synchronously on the impl thread and may call back into the Scheduler.
type Client interface {
	CanDraw() bool
	HasMoreResourceUpdates() bool
	ScheduledActionBeginFrame()
	ScheduledActionUpdateMoreResources(deadline time.Time)
	ScheduledActionCommit()
	ScheduledActionDrawAndSwapIfPossible() model.DrawResult
	ScheduledActionDrawAndSwapForced() model.DrawResult
	ScheduledActionBeginContextRecreation()
	ScheduledActionAcquireLayerTexturesForMainThread()
}

// FrameRateController delivers vsync ticks and tracks frames in flight.
type FrameRateController interface {
	SetClient(client framerate.TickReceiver)
	SetActive(active bool)
	SetMaxFramesPending(n int)
	SetTimebaseAndInterval(timebase time.Time, interval time.Duration)
	DidBeginFrame()
	DidFinishFrame()
	DidAbortAllPendingFrames()
	NextTickTimeIfActivated() time.Time
}

// Observer is notified of every dispatched action and every vsync pass.
// Calls happen on the impl thread and must not block.
type Observer interface {
	ObserveAction(rec model.ActionRecord)
	ObserveVSync(frame int64)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithSettings overrides statemachine.DefaultSettings.
func WithSettings(settings statemachine.Settings) Option {
	return func(s *Scheduler) { s.settings = settings }
}

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

// WithClock sets the clock used to timestamp action records.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler owns a StateMachine and its FrameRateController. The client is
// borrowed and must outlive the scheduler.
type Scheduler struct {
	client    Client
	frc       FrameRateController
	sm        *statemachine.StateMachine
	settings  statemachine.Settings
	logger    *slog.Logger
	observers []Observer
	now       func() time.Time

	draining bool
	closed   bool
	seq      uint64
}

// New creates a scheduler, registers it as the controller's tick receiver and
// arms the controller if the initial state needs vsync. A nil client or
// controller is a contract violation.
func New(client Client, frc FrameRateController, opts ...Option) *Scheduler {
	if client == nil {
		model.Violation("scheduler.New", "", "nil client")
	}
	if frc == nil {
		model.Violation("scheduler.New", "", "nil frame rate controller")
	}
	s := &Scheduler{
		client:   client,
		frc:      frc,
		settings: statemachine.DefaultSettings(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger).With("component", "scheduler")
	s.sm = statemachine.New(s.settings)

	frc.SetClient(s)
	frc.SetActive(s.sm.VSyncCallbackNeeded())
	return s
}

// Close deactivates the controller. Ticks delivered afterwards are ignored.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.frc.SetActive(false)
	s.logger.Info("scheduler closed", "frame", s.sm.FrameNumber())
}

// --- State setters: forward, then drain. ---

func (s *Scheduler) SetCanBeginFrame(can bool) {
	s.sm.SetCanBeginFrame(can)
	s.processScheduledActions()
}

func (s *Scheduler) SetVisible(visible bool) {
	s.sm.SetVisible(visible)
	s.processScheduledActions()
}

func (s *Scheduler) SetNeedsCommit() {
	s.sm.SetNeedsCommit()
	s.processScheduledActions()
}

func (s *Scheduler) SetNeedsForcedCommit() {
	s.sm.SetNeedsForcedCommit()
	s.processScheduledActions()
}

func (s *Scheduler) SetNeedsRedraw() {
	s.sm.SetNeedsRedraw()
	s.processScheduledActions()
}

func (s *Scheduler) SetNeedsForcedRedraw() {
	s.sm.SetNeedsForcedRedraw()
	s.processScheduledActions()
}

func (s *Scheduler) SetMainThreadNeedsLayerTextures() {
	s.sm.SetMainThreadNeedsLayerTextures()
	s.processScheduledActions()
}

// BeginFrameComplete reports that the main thread finished the begun frame.
func (s *Scheduler) BeginFrameComplete() {
	s.sm.BeginFrameComplete()
	s.processScheduledActions()
}

// BeginFrameAborted rolls back a begun frame without losing its commit request.
func (s *Scheduler) BeginFrameAborted() {
	s.sm.BeginFrameAborted()
	s.processScheduledActions()
}

// DidLoseContext drops frames in flight and enters context recovery.
func (s *Scheduler) DidLoseContext() {
	s.logger.Warn("graphics context lost", "frame", s.sm.FrameNumber())
	s.frc.DidAbortAllPendingFrames()
	s.sm.DidLoseContext()
	s.processScheduledActions()
}

func (s *Scheduler) DidRecreateContext() {
	s.logger.Info("graphics context recreated", "frame", s.sm.FrameNumber())
	s.sm.DidRecreateContext()
	s.processScheduledActions()
}

// --- Controller pass-through. ---

func (s *Scheduler) SetMaxFramesPending(n int) { s.frc.SetMaxFramesPending(n) }

func (s *Scheduler) SetTimebaseAndInterval(timebase time.Time, interval time.Duration) {
	s.frc.SetTimebaseAndInterval(timebase, interval)
}

// DidSwapBuffersComplete frees one slot in the swap pipeline.
func (s *Scheduler) DidSwapBuffersComplete() { s.frc.DidFinishFrame() }

// VSyncTick is the controller's tick callback. It resolves a resource-update
// round left pending by the previous pass, then drains inside a vsync bracket.
func (s *Scheduler) VSyncTick() {
	if s.closed {
		return
	}
	if s.sm.UpdateMoreResourcesPending() {
		s.sm.BeginUpdateMoreResourcesComplete(s.client.HasMoreResourceUpdates())
	}
	s.sm.DidEnterVSync()
	frame := s.sm.FrameNumber()
	for _, o := range s.observers {
		o.ObserveVSync(frame)
	}
	s.processScheduledActions()
	s.sm.DidLeaveVSync()
}

// Snapshot returns the state machine's current state.
func (s *Scheduler) Snapshot() model.StateSnapshot {
	s.sm.SetCanDraw(s.client.CanDraw())
	return s.sm.Snapshot()
}

func (s *Scheduler) nextAction() model.Action {
	s.sm.SetCanDraw(s.client.CanDraw())
	return s.sm.NextAction()
}

// processScheduledActions dispatches actions until the state machine has
// nothing left. Calls made by the client during dispatch only mutate state;
// the running loop picks their effects up on its next decision.
func (s *Scheduler) processScheduledActions() {
	if s.closed || s.draining {
		return
	}
	if s.nextAction() == model.ActionNone {
		s.frc.SetActive(s.sm.VSyncCallbackNeeded())
		return
	}

	s.draining = true
	defer func() { s.draining = false }()

	for {
		action := s.nextAction()
		s.sm.UpdateState(action)
		if action == model.ActionNone {
			break
		}
		s.dispatch(action)
		if s.closed {
			return
		}
	}
	s.frc.SetActive(s.sm.VSyncCallbackNeeded())
}

func (s *Scheduler) dispatch(action model.Action) {
	s.seq++
	rec := model.ActionRecord{
		Seq:         s.seq,
		Frame:       s.sm.FrameNumber(),
		Action:      action,
		InsideVSync: s.sm.InsideVSync(),
		At:          s.now(),
	}
	s.logger.Debug("dispatch", "action", action, "frame", rec.Frame, "vsync", rec.InsideVSync)
	for _, o := range s.observers {
		o.ObserveAction(rec)
	}

	switch action {
	case model.ActionBeginFrame:
		s.client.ScheduledActionBeginFrame()

	case model.ActionBeginUpdateMoreResources:
		if s.client.HasMoreResourceUpdates() {
			s.client.ScheduledActionUpdateMoreResources(s.frc.NextTickTimeIfActivated())
		} else {
			s.sm.BeginUpdateMoreResourcesComplete(false)
		}

	case model.ActionCommit:
		s.client.ScheduledActionCommit()

	case model.ActionDrawIfPossible:
		result := s.client.ScheduledActionDrawAndSwapIfPossible()
		s.sm.DidDrawIfPossibleCompleted(result.DidDraw)
		if result.DidSwap {
			s.frc.DidBeginFrame()
		}

	case model.ActionDrawForced:
		if result := s.client.ScheduledActionDrawAndSwapForced(); result.DidSwap {
			s.frc.DidBeginFrame()
		}

	case model.ActionBeginContextRecreation:
		s.client.ScheduledActionBeginContextRecreation()

	case model.ActionAcquireLayerTexturesForMainThread:
		s.client.ScheduledActionAcquireLayerTexturesForMainThread()
	}
}
