package thread

import (
	"context"
	"errors"
	"testing"
	"time"
)

func startRunner(t *testing.T) *Runner {
	t.Helper()
	r := New(nil)
	go r.Start(context.Background())
	t.Cleanup(r.Stop)
	return r
}

func TestRunner_FIFO(t *testing.T) {
	r := startRunner(t)

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		if err := r.Post(func() { got = append(got, i) }); err != nil {
			t.Fatalf("Post: %v", err)
		}
	}
	if err := r.Invoke(context.Background(), func() {}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestRunner_InvokeWaits(t *testing.T) {
	r := startRunner(t)
	ran := false
	if err := r.Invoke(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !ran {
		t.Error("Invoke returned before the task ran")
	}
}

func TestRunner_InvokeContextCancelled(t *testing.T) {
	r := startRunner(t)
	release := make(chan struct{})
	defer close(release)
	if err := r.Post(func() { <-release }); err != nil {
		t.Fatalf("Post: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Invoke(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Invoke error = %v, want deadline exceeded", err)
	}
}

func TestRunner_PostDelayed(t *testing.T) {
	r := startRunner(t)
	done := make(chan time.Time, 1)
	start := time.Now()
	r.PostDelayed(10*time.Millisecond, func() { done <- time.Now() })

	select {
	case at := <-done:
		if at.Sub(start) < 10*time.Millisecond {
			t.Errorf("delayed task ran after %v, want >= 10ms", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestRunner_PostAfterStop(t *testing.T) {
	r := New(nil)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(context.Background()) }()
	if err := r.Invoke(context.Background(), func() {}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	r.Stop()
	if err := <-errCh; err != nil {
		t.Errorf("Start returned %v after Stop, want nil", err)
	}
	if err := r.Post(func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Post after stop = %v, want ErrStopped", err)
	}
	if err := r.Invoke(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Invoke after stop = %v, want ErrStopped", err)
	}
}

func TestRunner_ContextCancelStops(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	r.Stop()
}

func TestRunner_StopWithoutStart(t *testing.T) {
	r := New(nil)
	r.Stop()
	if err := r.Post(func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Post = %v, want ErrStopped", err)
	}
}

func TestRunner_StartTwice(t *testing.T) {
	r := startRunner(t)
	if err := r.Invoke(context.Background(), func() {}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}
