// Package framerate paces vsync ticks for the frame scheduler. A TimeSource
// produces ticks; the Controller throttles them against the number of frames
// in flight and forwards the rest to a TickReceiver.
package framerate

import (
	"time"
)

// TickReceiver is notified once per delivered vsync tick.
type TickReceiver interface {
	VSyncTick()
}

// Poster runs fn on the goroutine that owns the tick receiver after delay.
type Poster interface {
	PostDelayed(delay time.Duration, fn func())
}

// TimeSource produces periodic ticks while active.
type TimeSource interface {
	SetTickFunc(fn func())
	SetActive(active bool)
	Active() bool
	SetTimebaseAndInterval(timebase time.Time, interval time.Duration)
	// NextTickTime is the time the next tick would fire if the source were active.
	NextTickTime() time.Time
}

// nextTickTarget returns the first time strictly after now that lies on the
// grid timebase + n*interval.
func nextTickTarget(now, timebase time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return now
	}
	if timebase.IsZero() {
		return now.Add(interval)
	}
	phase := now.Sub(timebase) % interval
	if phase < 0 {
		phase += interval
	}
	return now.Add(interval - phase)
}

// DelayBasedTimeSource posts a delayed task for every tick. All methods and
// the tick itself run on the Poster's goroutine; timers that outlive an
// activation are discarded by generation.
type DelayBasedTimeSource struct {
	poster Poster
	now    func() time.Time

	tick       func()
	active     bool
	timebase   time.Time
	interval   time.Duration
	generation uint64
	nextTick   time.Time
}

// NewDelayBasedTimeSource returns an inactive source ticking every interval.
func NewDelayBasedTimeSource(interval time.Duration, poster Poster) *DelayBasedTimeSource {
	return &DelayBasedTimeSource{
		poster:   poster,
		now:      time.Now,
		interval: interval,
	}
}

func (s *DelayBasedTimeSource) SetTickFunc(fn func()) { s.tick = fn }

func (s *DelayBasedTimeSource) Active() bool { return s.active }

// SetActive starts or stops ticking. Activating an active source is a no-op,
// so repeated arming does not shift the tick phase.
func (s *DelayBasedTimeSource) SetActive(active bool) {
	if active == s.active {
		return
	}
	s.active = active
	s.generation++
	if active {
		s.postNextTick()
	}
}

// SetTimebaseAndInterval realigns the tick grid. It takes effect from the
// next scheduled tick. A non-positive interval is ignored.
func (s *DelayBasedTimeSource) SetTimebaseAndInterval(timebase time.Time, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.timebase = timebase
	s.interval = interval
}

func (s *DelayBasedTimeSource) NextTickTime() time.Time {
	if s.active {
		return s.nextTick
	}
	return nextTickTarget(s.now(), s.timebase, s.interval)
}

func (s *DelayBasedTimeSource) postNextTick() {
	now := s.now()
	s.nextTick = nextTickTarget(now, s.timebase, s.interval)
	gen := s.generation
	s.poster.PostDelayed(s.nextTick.Sub(now), func() { s.onTimer(gen) })
}

func (s *DelayBasedTimeSource) onTimer(gen uint64) {
	if gen != s.generation || !s.active {
		return
	}
	// Schedule first so a tick that deactivates the source cancels it.
	s.postNextTick()
	if s.tick != nil {
		s.tick()
	}
}

// ManualTimeSource ticks only when Advance is called. Scripts and tests use it
// to drive a scheduler deterministically.
type ManualTimeSource struct {
	tick     func()
	active   bool
	now      time.Time
	interval time.Duration
}

// NewManualTimeSource returns an inactive source whose clock starts at start.
func NewManualTimeSource(start time.Time, interval time.Duration) *ManualTimeSource {
	return &ManualTimeSource{now: start, interval: interval}
}

func (s *ManualTimeSource) SetTickFunc(fn func()) { s.tick = fn }

func (s *ManualTimeSource) SetActive(active bool) { s.active = active }

func (s *ManualTimeSource) Active() bool { return s.active }

func (s *ManualTimeSource) SetTimebaseAndInterval(_ time.Time, interval time.Duration) {
	if interval > 0 {
		s.interval = interval
	}
}

func (s *ManualTimeSource) NextTickTime() time.Time { return s.now.Add(s.interval) }

// Now returns the source's clock.
func (s *ManualTimeSource) Now() time.Time { return s.now }

// Advance moves the clock forward one interval and ticks if the source is
// active. It reports whether a tick was delivered.
func (s *ManualTimeSource) Advance() bool {
	s.now = s.now.Add(s.interval)
	if !s.active || s.tick == nil {
		return false
	}
	s.tick()
	return true
}
