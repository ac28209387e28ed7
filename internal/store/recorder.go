package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/me/ccsched/internal/logging"
	"github.com/me/ccsched/pkg/model"
)

// StartSession creates and stores a new open session.
func StartSession(ctx context.Context, st Store, label string) (*model.Session, error) {
	host, _ := os.Hostname()
	sess := &model.Session{
		ID:        "run_" + uuid.New().String(),
		Label:     label,
		Host:      host,
		StartedAt: time.Now().UTC(),
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Recorder is a scheduler observer that buffers action records on the impl
// thread and writes them to the store from its own goroutine. When the buffer
// is full, records are dropped rather than blocking the scheduler.
type Recorder struct {
	store      Store
	sessionID  string
	limit      int
	flushEvery time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	buf     []model.ActionRecord
	wake    chan struct{}
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewRecorder records into sessionID, holding at most bufferSize unwritten
// records and flushing every flushEvery.
func NewRecorder(st Store, sessionID string, bufferSize int, flushEvery time.Duration, logger *slog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Recorder{
		store:      st,
		sessionID:  sessionID,
		limit:      bufferSize,
		flushEvery: flushEvery,
		logger:     logging.OrDiscard(logger).With("component", "recorder", "session_id", sessionID),
		wake:       make(chan struct{}, 1),
	}
}

// ObserveAction buffers rec under the recorder's session.
func (r *Recorder) ObserveAction(rec model.ActionRecord) {
	rec.SessionID = r.sessionID
	rec.At = rec.At.UTC()

	r.mu.Lock()
	if len(r.buf) >= r.limit {
		r.mu.Unlock()
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("trace buffer full, dropping records", "buffer_size", r.limit)
		}
		return
	}
	r.buf = append(r.buf, rec)
	half := len(r.buf) >= r.limit/2
	r.mu.Unlock()

	if half {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// ObserveVSync is a no-op; only actions are traced.
func (r *Recorder) ObserveVSync(int64) {}

// Dropped returns the number of records lost to a full buffer, including
// records squeezed out when a failed batch is retried.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of records persisted.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Flush writes every buffered record. A batch the store rejects goes back in
// front of the buffer for the next flush; records that no longer fit are
// dropped.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.store.InsertActions(ctx, batch); err != nil {
		r.requeue(batch)
		return fmt.Errorf("flush %d records: %w", len(batch), err)
	}
	r.written.Add(uint64(len(batch)))
	return nil
}

func (r *Recorder) requeue(batch []model.ActionRecord) {
	r.mu.Lock()
	merged := append(batch, r.buf...)
	overflow := 0
	if len(merged) > r.limit {
		overflow = len(merged) - r.limit
		merged = merged[:r.limit]
	}
	r.buf = merged
	r.mu.Unlock()

	if overflow > 0 {
		r.dropped.Add(uint64(overflow))
		r.logger.Warn("trace buffer full after failed flush, dropping records",
			"dropped", overflow, "buffer_size", r.limit)
	}
}

// Run flushes periodically until ctx is cancelled, then flushes what is left
// and marks the session ended.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Info("recorder started", "flush_interval", r.flushEvery)
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.finish()
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake:
		}
		// A batch in flight must not be torn by shutdown.
		if err := r.Flush(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("flush trace", "error", err)
		}
	}
}

func (r *Recorder) finish() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Flush(ctx); err != nil {
		r.logger.Error("final flush", "error", err)
	}
	if err := r.store.EndSession(ctx, r.sessionID, time.Now().UTC()); err != nil {
		r.logger.Error("end session", "error", err)
	}
	r.logger.Info("recorder stopped", "written", r.Written(), "dropped", r.Dropped())
}
