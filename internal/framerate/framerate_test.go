package framerate

import (
	"testing"
	"time"
)

type postedTask struct {
	delay time.Duration
	fn    func()
}

// fakePoster queues delayed tasks until the test runs them.
type fakePoster struct {
	tasks []postedTask
}

func (p *fakePoster) PostDelayed(delay time.Duration, fn func()) {
	p.tasks = append(p.tasks, postedTask{delay: delay, fn: fn})
}

func (p *fakePoster) runNext(t *testing.T) postedTask {
	t.Helper()
	if len(p.tasks) == 0 {
		t.Fatal("no posted task to run")
	}
	task := p.tasks[0]
	p.tasks = p.tasks[1:]
	task.fn()
	return task
}

type countingReceiver struct{ ticks int }

func (r *countingReceiver) VSyncTick() { r.ticks++ }

func TestNextTickTarget(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	iv := 16 * time.Millisecond
	tests := []struct {
		name     string
		now      time.Time
		timebase time.Time
		interval time.Duration
		want     time.Time
	}{
		{"on grid", base.Add(2 * iv), base, iv, base.Add(3 * iv)},
		{"between ticks", base.Add(2*iv + 5*time.Millisecond), base, iv, base.Add(3 * iv)},
		{"timebase in future", base, base.Add(2*iv + 4*time.Millisecond), iv, base.Add(4 * time.Millisecond)},
		{"zero timebase", base, time.Time{}, iv, base.Add(iv)},
		{"zero interval", base, base, 0, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextTickTarget(tt.now, tt.timebase, tt.interval)
			if !got.Equal(tt.want) {
				t.Errorf("nextTickTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayBasedTimeSource_TicksWhileActive(t *testing.T) {
	poster := &fakePoster{}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := NewDelayBasedTimeSource(10*time.Millisecond, poster)
	src.now = func() time.Time { return clock }
	src.SetTimebaseAndInterval(clock, 10*time.Millisecond)

	ticks := 0
	src.SetTickFunc(func() { ticks++ })
	src.SetActive(true)
	if len(poster.tasks) != 1 {
		t.Fatalf("posted %d tasks on activation, want 1", len(poster.tasks))
	}
	if poster.tasks[0].delay != 10*time.Millisecond {
		t.Errorf("first delay = %v, want 10ms", poster.tasks[0].delay)
	}
	if want := clock.Add(10 * time.Millisecond); !src.NextTickTime().Equal(want) {
		t.Errorf("NextTickTime() = %v, want %v", src.NextTickTime(), want)
	}

	clock = clock.Add(10 * time.Millisecond)
	poster.runNext(t)
	if ticks != 1 {
		t.Fatalf("ticks = %d, want 1", ticks)
	}
	if len(poster.tasks) != 1 {
		t.Fatalf("tick did not schedule the next one (%d tasks)", len(poster.tasks))
	}

	// Re-arming an active source does not post a second timer.
	src.SetActive(true)
	if len(poster.tasks) != 1 {
		t.Errorf("re-arming posted a duplicate timer (%d tasks)", len(poster.tasks))
	}
}

func TestDelayBasedTimeSource_IgnoresNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -5 * time.Millisecond} {
		t.Run(interval.String(), func(t *testing.T) {
			poster := &fakePoster{}
			clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			src := NewDelayBasedTimeSource(10*time.Millisecond, poster)
			src.now = func() time.Time { return clock }
			src.SetTickFunc(func() {})
			src.SetActive(true)

			src.SetTimebaseAndInterval(clock.Add(3*time.Millisecond), interval)
			poster.runNext(t)
			if len(poster.tasks) != 1 {
				t.Fatalf("posted %d tasks after tick, want 1", len(poster.tasks))
			}
			if poster.tasks[0].delay != 10*time.Millisecond {
				t.Errorf("next delay = %v, want the old 10ms grid", poster.tasks[0].delay)
			}
		})
	}
}

func TestDelayBasedTimeSource_StaleTimerIgnored(t *testing.T) {
	poster := &fakePoster{}
	src := NewDelayBasedTimeSource(10*time.Millisecond, poster)
	ticks := 0
	src.SetTickFunc(func() { ticks++ })

	src.SetActive(true)
	src.SetActive(false)
	src.SetActive(true)
	if len(poster.tasks) != 2 {
		t.Fatalf("posted %d tasks, want 2", len(poster.tasks))
	}

	poster.runNext(t) // stale: belongs to the first activation
	if ticks != 0 {
		t.Fatalf("stale timer ticked (ticks=%d)", ticks)
	}
	poster.runNext(t)
	if ticks != 1 {
		t.Fatalf("ticks = %d, want 1", ticks)
	}

	src.SetActive(false)
	poster.runNext(t)
	if ticks != 1 {
		t.Errorf("inactive source ticked (ticks=%d)", ticks)
	}
}

func TestDelayBasedTimeSource_DeactivateFromTick(t *testing.T) {
	poster := &fakePoster{}
	src := NewDelayBasedTimeSource(10*time.Millisecond, poster)
	ticks := 0
	src.SetTickFunc(func() {
		ticks++
		src.SetActive(false)
	})
	src.SetActive(true)
	poster.runNext(t)
	poster.runNext(t)
	if ticks != 1 {
		t.Errorf("ticks = %d, want 1 after deactivating inside the tick", ticks)
	}
	if src.Active() {
		t.Error("source still active")
	}
}

func TestManualTimeSource_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := NewManualTimeSource(start, 16*time.Millisecond)
	ticks := 0
	src.SetTickFunc(func() { ticks++ })

	if src.Advance() {
		t.Fatal("inactive source delivered a tick")
	}
	src.SetActive(true)
	if !src.Advance() {
		t.Fatal("active source did not tick")
	}
	if ticks != 1 {
		t.Errorf("ticks = %d, want 1", ticks)
	}
	if want := start.Add(32 * time.Millisecond); !src.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", src.Now(), want)
	}
	if want := start.Add(48 * time.Millisecond); !src.NextTickTime().Equal(want) {
		t.Errorf("NextTickTime() = %v, want %v", src.NextTickTime(), want)
	}
}

func TestController_ForwardsTicks(t *testing.T) {
	src := NewManualTimeSource(time.Unix(0, 0), time.Millisecond)
	c := NewController(src, nil)
	recv := &countingReceiver{}

	c.SetActive(true)
	src.Advance()
	if recv.ticks != 0 {
		t.Fatal("tick delivered without a client")
	}

	c.SetClient(recv)
	src.Advance()
	src.Advance()
	if recv.ticks != 2 {
		t.Errorf("ticks = %d, want 2", recv.ticks)
	}

	c.SetActive(false)
	if src.Active() {
		t.Error("SetActive(false) not forwarded to the time source")
	}
	if st := c.Stats(); st.Ticks != 2 || st.Active {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestController_ThrottlesOnFramesPending(t *testing.T) {
	src := NewManualTimeSource(time.Unix(0, 0), time.Millisecond)
	c := NewController(src, nil)
	recv := &countingReceiver{}
	c.SetClient(recv)
	c.SetActive(true)
	c.SetMaxFramesPending(2)

	c.DidBeginFrame()
	c.DidBeginFrame()
	src.Advance()
	src.Advance()
	if recv.ticks != 0 {
		t.Fatalf("ticks = %d while pipeline full, want 0", recv.ticks)
	}

	c.DidFinishFrame()
	src.Advance()
	if recv.ticks != 1 {
		t.Fatalf("ticks = %d after a frame finished, want 1", recv.ticks)
	}

	c.DidBeginFrame()
	c.DidAbortAllPendingFrames()
	src.Advance()

	st := c.Stats()
	if st.Ticks != 2 || st.ThrottledTicks != 2 {
		t.Errorf("Stats() = %+v, want 2 ticks and 2 throttled", st)
	}
	if st.FramesBegun != 3 || st.FramesPending != 0 {
		t.Errorf("Stats() = %+v, want 3 begun and 0 pending", st)
	}
}

func TestController_UnlimitedFramesPending(t *testing.T) {
	src := NewManualTimeSource(time.Unix(0, 0), time.Millisecond)
	c := NewController(src, nil)
	recv := &countingReceiver{}
	c.SetClient(recv)
	c.SetActive(true)

	for i := 0; i < 5; i++ {
		c.DidBeginFrame()
		src.Advance()
	}
	if recv.ticks != 5 {
		t.Errorf("ticks = %d with unlimited pipeline, want 5", recv.ticks)
	}

	c.DidFinishFrame()
	c.DidAbortAllPendingFrames()
	c.DidFinishFrame()
	if got := c.Stats().FramesPending; got != 0 {
		t.Errorf("FramesPending = %d, must not go negative", got)
	}
}

func TestController_NegativeMaxFramesPendingPanics(t *testing.T) {
	c := NewController(NewManualTimeSource(time.Unix(0, 0), time.Millisecond), nil)
	defer func() {
		if recover() == nil {
			t.Error("expected panic for negative max frames pending")
		}
	}()
	c.SetMaxFramesPending(-1)
}
