// Package sim provides a simulated compositor: a scheduler.Client that models
// the timing and outcomes of compositor work without rendering anything.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/me/ccsched/internal/config"
	"github.com/me/ccsched/internal/framerate"
	"github.com/me/ccsched/internal/logging"
	"github.com/me/ccsched/pkg/model"
)

var (
	// ErrUnknownCommand is returned by Command for names it does not handle.
	ErrUnknownCommand = errors.New("sim: unknown command")
	// ErrRejected is returned by Command when the scheduler state forbids it.
	ErrRejected = errors.New("sim: command rejected")
)

// Scheduler is the part of scheduler.Scheduler the compositor calls back into.
type Scheduler interface {
	SetVisible(visible bool)
	SetCanBeginFrame(can bool)
	SetNeedsCommit()
	SetNeedsForcedCommit()
	SetNeedsRedraw()
	SetNeedsForcedRedraw()
	SetMainThreadNeedsLayerTextures()
	BeginFrameComplete()
	BeginFrameAborted()
	DidLoseContext()
	DidRecreateContext()
	DidSwapBuffersComplete()
}

// Stats counts what the compositor has been asked to do.
type Stats struct {
	BeginFrames         int `json:"begin_frames"`
	BeginFramesAborted  int `json:"begin_frames_aborted"`
	ResourceRounds      int `json:"resource_rounds"`
	Commits             int `json:"commits"`
	DrawAttempts        int `json:"draw_attempts"`
	Draws               int `json:"draws"`
	FailedDraws         int `json:"failed_draws"`
	ForcedDraws         int `json:"forced_draws"`
	SwapsCompleted      int `json:"swaps_completed"`
	ContextLosses       int `json:"context_losses"`
	RecreateAttempts    int `json:"recreate_attempts"`
	Recreations         int `json:"recreations"`
	TextureAcquisitions int `json:"texture_acquisitions"`
	ResourceRoundsLeft  int `json:"resource_rounds_left"`
}

// Compositor implements scheduler.Client. All methods, including the delayed
// work it posts, must run on the impl thread.
type Compositor struct {
	cfg    config.SimulationConfig
	poster framerate.Poster
	sched  Scheduler
	logger *slog.Logger

	drawable      bool
	contextLost   bool
	contextGen    uint64
	roundsLeft    int
	recreateFails int
	recreateDelay *backoff.ExponentialBackOff
	texturesHeld  bool
	closed        bool
	stats         Stats
}

// New creates a compositor that posts delayed work through poster. Attach a
// scheduler before calling Start.
func New(cfg config.SimulationConfig, poster framerate.Poster, logger *slog.Logger) *Compositor {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RecreateMinBackoff
	bo.MaxInterval = cfg.RecreateMaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Compositor{
		cfg:           cfg,
		poster:        poster,
		logger:        logging.OrDiscard(logger).With("component", "compositor"),
		drawable:      true,
		recreateDelay: bo,
	}
}

// Attach sets the scheduler the compositor reports to.
func (c *Compositor) Attach(s Scheduler) { c.sched = s }

// Start makes the output visible, lets the main thread begin frames, requests
// the first commit and arms context loss injection.
func (c *Compositor) Start() {
	c.logger.Info("compositor started",
		"begin_frame_latency", c.cfg.BeginFrameLatency,
		"swap_latency", c.cfg.SwapLatency,
		"resource_rounds", c.cfg.ResourceRounds)
	c.sched.SetVisible(true)
	c.sched.SetCanBeginFrame(true)
	c.sched.SetNeedsCommit()
	if c.cfg.ContextLossEvery > 0 {
		c.poster.PostDelayed(c.cfg.ContextLossEvery, c.injectContextLoss)
	}
}

// Close stops all delayed work from reaching the scheduler.
func (c *Compositor) Close() { c.closed = true }

// Stats returns a copy of the counters.
func (c *Compositor) Stats() Stats {
	s := c.stats
	s.ResourceRoundsLeft = c.roundsLeft
	return s
}

// LoseContext simulates a lost graphics context. Losing an already lost
// context does nothing.
func (c *Compositor) LoseContext() {
	if c.contextLost {
		return
	}
	c.contextLost = true
	c.contextGen++
	c.roundsLeft = 0
	c.recreateFails = c.cfg.RecreateFailures
	c.recreateDelay.Reset()
	c.stats.ContextLosses++
	c.logger.Warn("injecting context loss", "generation", c.contextGen)
	c.sched.DidLoseContext()
}

func (c *Compositor) injectContextLoss() {
	if c.closed {
		return
	}
	c.LoseContext()
	c.poster.PostDelayed(c.cfg.ContextLossEvery, c.injectContextLoss)
}

// --- scheduler.Client ---

func (c *Compositor) CanDraw() bool { return c.drawable && !c.contextLost }

func (c *Compositor) HasMoreResourceUpdates() bool { return c.roundsLeft > 0 }

func (c *Compositor) ScheduledActionBeginFrame() {
	c.stats.BeginFrames++
	gen := c.contextGen
	c.poster.PostDelayed(c.cfg.BeginFrameLatency, func() {
		if c.closed {
			return
		}
		// The main thread cannot finish a frame for a context that went away.
		if gen != c.contextGen {
			c.stats.BeginFramesAborted++
			c.logger.Debug("begin frame aborted", "generation", gen)
			c.sched.BeginFrameAborted()
			return
		}
		c.roundsLeft = c.cfg.ResourceRounds
		c.sched.BeginFrameComplete()
	})
}

func (c *Compositor) ScheduledActionUpdateMoreResources(deadline time.Time) {
	c.stats.ResourceRounds++
	if c.roundsLeft > 0 {
		c.roundsLeft--
	}
	c.logger.Debug("resource round", "left", c.roundsLeft, "deadline", deadline)
}

func (c *Compositor) ScheduledActionCommit() {
	c.stats.Commits++
	c.roundsLeft = 0
	c.texturesHeld = false
}

func (c *Compositor) ScheduledActionDrawAndSwapIfPossible() model.DrawResult {
	return c.draw(false)
}

func (c *Compositor) ScheduledActionDrawAndSwapForced() model.DrawResult {
	c.stats.ForcedDraws++
	return c.draw(true)
}

func (c *Compositor) ScheduledActionBeginContextRecreation() {
	c.attemptRecreation()
}

func (c *Compositor) ScheduledActionAcquireLayerTexturesForMainThread() {
	c.stats.TextureAcquisitions++
	c.texturesHeld = true
}

func (c *Compositor) draw(forced bool) model.DrawResult {
	c.stats.DrawAttempts++
	if !forced && c.cfg.DrawFailureEvery > 0 && c.stats.DrawAttempts%c.cfg.DrawFailureEvery == 0 {
		c.stats.FailedDraws++
		c.logger.Debug("draw failed", "attempt", c.stats.DrawAttempts)
		return model.DrawResult{}
	}
	c.stats.Draws++

	gen := c.contextGen
	c.poster.PostDelayed(c.cfg.SwapLatency, func() {
		if c.closed || gen != c.contextGen {
			return
		}
		c.stats.SwapsCompleted++
		c.sched.DidSwapBuffersComplete()
	})

	if c.cfg.Animate {
		c.sched.SetNeedsRedraw()
	}
	if c.cfg.CommitEvery > 0 && c.stats.Draws%c.cfg.CommitEvery == 0 {
		c.sched.SetNeedsCommit()
	}
	return model.DrawResult{DidDraw: true, DidSwap: true}
}

func (c *Compositor) attemptRecreation() {
	delay := c.recreateDelay.NextBackOff()
	if delay == backoff.Stop {
		delay = c.cfg.RecreateMaxBackoff
	}
	c.poster.PostDelayed(delay, func() {
		if c.closed {
			return
		}
		c.stats.RecreateAttempts++
		if c.recreateFails > 0 {
			c.recreateFails--
			c.logger.Warn("context recreation failed, retrying", "attempt", c.stats.RecreateAttempts)
			c.attemptRecreation()
			return
		}
		c.contextLost = false
		c.stats.Recreations++
		c.logger.Info("context recreated", "attempts", c.stats.RecreateAttempts)
		c.sched.DidRecreateContext()
	})
}

// --- Debug commands ---

var commands = map[string]func(c *Compositor) error{
	"redraw":        func(c *Compositor) error { c.sched.SetNeedsRedraw(); return nil },
	"forced-redraw": func(c *Compositor) error { c.sched.SetNeedsForcedRedraw(); return nil },
	"commit":        func(c *Compositor) error { c.sched.SetNeedsCommit(); return nil },
	"forced-commit": func(c *Compositor) error { c.sched.SetNeedsForcedCommit(); return nil },
	"show":          func(c *Compositor) error { c.sched.SetVisible(true); return nil },
	"hide":          func(c *Compositor) error { c.sched.SetVisible(false); return nil },
	"pause":         func(c *Compositor) error { c.sched.SetCanBeginFrame(false); return nil },
	"resume":        func(c *Compositor) error { c.sched.SetCanBeginFrame(true); return nil },
	"lose-context":  func(c *Compositor) error { c.LoseContext(); return nil },
	"block-draw": func(c *Compositor) error {
		c.drawable = false
		return nil
	},
	"unblock-draw": func(c *Compositor) error {
		c.drawable = true
		// Drawability is only sampled on a decision; give the scheduler one.
		c.sched.SetNeedsRedraw()
		return nil
	},
	"textures": func(c *Compositor) error {
		if c.texturesHeld {
			return fmt.Errorf("%w: main thread already holds the layer textures", ErrRejected)
		}
		c.sched.SetMainThreadNeedsLayerTextures()
		return nil
	},
}

// Commands lists the names Command accepts.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Command runs a named debug command against the scheduler.
func (c *Compositor) Command(name string) error {
	fn, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	c.logger.Info("command", "name", name)
	return fn(c)
}
