package framerate

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/me/ccsched/internal/logging"
)

// Stats is a snapshot of controller counters.
type Stats struct {
	Ticks            uint64 `json:"ticks"`
	ThrottledTicks   uint64 `json:"throttled_ticks"`
	FramesBegun      uint64 `json:"frames_begun"`
	FramesPending    int64  `json:"frames_pending"`
	MaxFramesPending int64  `json:"max_frames_pending"`
	Active           bool   `json:"active"`
}

// Controller forwards ticks from a TimeSource to its client, dropping ticks
// while the swap pipeline is full. Methods other than Stats must be called
// from the goroutine that runs the ticks.
type Controller struct {
	source TimeSource
	client TickReceiver
	logger *slog.Logger

	// Written on the tick goroutine, read by Stats from anywhere.
	active           atomic.Bool
	framesPending    atomic.Int64
	maxFramesPending atomic.Int64
	ticks            atomic.Uint64
	throttled        atomic.Uint64
	framesBegun      atomic.Uint64
}

// NewController wraps source. A nil logger discards output.
func NewController(source TimeSource, logger *slog.Logger) *Controller {
	c := &Controller{
		source: source,
		logger: logging.OrDiscard(logger).With("component", "framerate"),
	}
	source.SetTickFunc(c.onTick)
	return c
}

// SetClient sets the receiver of delivered ticks.
func (c *Controller) SetClient(client TickReceiver) { c.client = client }

// SetActive starts or stops the underlying time source.
func (c *Controller) SetActive(active bool) {
	if c.active.Swap(active) != active {
		c.logger.Debug("time source toggled", "active", active)
	}
	c.source.SetActive(active)
}

// SetMaxFramesPending limits frames begun but not yet finished. Zero means
// unlimited.
func (c *Controller) SetMaxFramesPending(n int) {
	if n < 0 {
		panic(fmt.Sprintf("framerate: negative max frames pending %d", n))
	}
	c.maxFramesPending.Store(int64(n))
}

func (c *Controller) SetTimebaseAndInterval(timebase time.Time, interval time.Duration) {
	c.source.SetTimebaseAndInterval(timebase, interval)
}

// DidBeginFrame records a swapped frame entering the pipeline.
func (c *Controller) DidBeginFrame() {
	c.framesPending.Add(1)
	c.framesBegun.Add(1)
}

// DidFinishFrame records a frame leaving the pipeline.
func (c *Controller) DidFinishFrame() {
	if c.framesPending.Add(-1) < 0 {
		c.framesPending.Store(0)
	}
}

// DidAbortAllPendingFrames empties the pipeline, e.g. after context loss.
func (c *Controller) DidAbortAllPendingFrames() { c.framesPending.Store(0) }

// NextTickTimeIfActivated returns when the next tick would arrive.
func (c *Controller) NextTickTimeIfActivated() time.Time { return c.source.NextTickTime() }

// Stats returns the current counters. Safe for concurrent use.
func (c *Controller) Stats() Stats {
	return Stats{
		Ticks:            c.ticks.Load(),
		ThrottledTicks:   c.throttled.Load(),
		FramesBegun:      c.framesBegun.Load(),
		FramesPending:    c.framesPending.Load(),
		MaxFramesPending: c.maxFramesPending.Load(),
		Active:           c.active.Load(),
	}
}

func (c *Controller) throttledNow() bool {
	limit := c.maxFramesPending.Load()
	return limit > 0 && c.framesPending.Load() >= limit
}

func (c *Controller) onTick() {
	if c.client == nil {
		return
	}
	if c.throttledNow() {
		c.throttled.Add(1)
		c.logger.Debug("tick throttled", "frames_pending", c.framesPending.Load())
		return
	}
	c.ticks.Add(1)
	c.client.VSyncTick()
}
