package collab

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-dev/docsync/pkg/store"
)

// SchedulerState is the state of a Scheduler.
type SchedulerState int

const (
	// StateIdle means everything notified so far has been saved (or the
	// last save failed and nothing new arrived).
	StateIdle SchedulerState = iota

	// StatePendingFlush means a save is scheduled.
	StatePendingFlush

	// StateFlushing means a save is in flight.
	StateFlushing
)

// String returns the state name.
func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingFlush:
		return "pending"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// SchedulerConfig tunes debounced persistence.
type SchedulerConfig struct {
	// Debounce is how long the document must stay quiet before a save.
	// Default: 2 seconds.
	Debounce time.Duration

	// MaxWait bounds how long a change can stay unsaved while edits keep
	// arriving. Default: 3 × Debounce.
	MaxWait time.Duration

	// SaveTimeout bounds a single SaveSnapshot call.
	// Default: 10 seconds.
	SaveTimeout time.Duration

	// Clock drives timers. Default: SystemClock.
	Clock Clock
}

// DefaultSchedulerConfig returns the default persistence timing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Debounce:    2 * time.Second,
		MaxWait:     6 * time.Second,
		SaveTimeout: 10 * time.Second,
		Clock:       SystemClock,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	d := DefaultSchedulerConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 3 * c.Debounce
	}
	if c.MaxWait < c.Debounce {
		c.MaxWait = c.Debounce
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = d.SaveTimeout
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return c
}

// Scheduler saves one document's snapshots with debouncing.
//
// Notify after every change. A save happens once the document has been
// quiet for Debounce, and never later than MaxWait after the first unsaved
// change. Saves of the same document never overlap.
type Scheduler struct {
	documentID string
	store      store.Store
	source     func() store.Snapshot
	config     SchedulerConfig
	logger     *slog.Logger
	metrics    *Metrics

	mu           sync.Mutex
	state        SchedulerState
	pendingSince time.Time
	timer        Timer
	generation   uint64        // invalidates timers that were stopped too late
	dirty        bool          // notified while flushing
	unsaved      bool          // something was notified since the last successful save
	flushDone    chan struct{} // closed when the in-flight flush ends
	stopped      bool
	lastErr      error
	saves        int
}

// NewScheduler creates a scheduler that saves source() into s.
// If logger is nil, slog.Default() is used.
func NewScheduler(documentID string, s store.Store, source func() store.Snapshot, config SchedulerConfig, logger *slog.Logger, metrics *Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		documentID: documentID,
		store:      s,
		source:     source,
		config:     config.withDefaults(),
		logger:     logger.With("component", "persistence_scheduler", "document_id", documentID),
		metrics:    metrics,
	}
}

// Notify records that the document changed.
func (s *Scheduler) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unsaved = true
	if s.stopped {
		return
	}

	switch s.state {
	case StateIdle:
		s.state = StatePendingFlush
		s.pendingSince = s.config.Clock.Now()
		s.armLocked(s.config.Debounce)
	case StatePendingFlush:
		delay := s.config.Debounce
		deadline := s.pendingSince.Add(s.config.MaxWait)
		if remaining := deadline.Sub(s.config.Clock.Now()); remaining < delay {
			delay = remaining
		}
		if delay < 0 {
			delay = 0
		}
		s.armLocked(delay)
	case StateFlushing:
		s.dirty = true
	}
}

func (s *Scheduler) armLocked(d time.Duration) {
	s.stopTimerLocked()
	gen := s.generation
	s.timer = s.config.Clock.AfterFunc(d, func() { s.fire(gen) })
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.state != StatePendingFlush || s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.beginFlushLocked()
	s.mu.Unlock()

	s.runFlush(context.Background())
}

func (s *Scheduler) beginFlushLocked() {
	s.state = StateFlushing
	s.dirty = false
	s.unsaved = false
	s.flushDone = make(chan struct{})
}

// runFlush saves one snapshot. The caller must have called beginFlushLocked.
func (s *Scheduler) runFlush(ctx context.Context) error {
	start := s.config.Clock.Now()
	snap := s.source()

	ctx, span := startSpan(ctx, "collab.flush", s.documentID)
	saveCtx, cancel := context.WithTimeout(ctx, s.config.SaveTimeout)
	err := s.store.SaveSnapshot(saveCtx, s.documentID, snap)
	cancel()
	endSpan(span, err)

	elapsed := s.config.Clock.Now().Sub(start)
	s.metrics.flush(err, elapsed)

	if err != nil {
		err = &PersistenceError{DocumentID: s.documentID, Err: err}
		s.logger.Error("snapshot save failed",
			"error", err,
			"content_length", len(snap.Content))
	} else {
		s.logger.Debug("snapshot saved",
			"state_bytes", len(snap.State),
			"duration", elapsed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
	if err == nil {
		s.saves++
	} else {
		s.unsaved = true
	}
	close(s.flushDone)
	s.flushDone = nil
	s.state = StateIdle

	if s.dirty && !s.stopped {
		s.dirty = false
		s.state = StatePendingFlush
		s.pendingSince = s.config.Clock.Now()
		s.armLocked(s.config.Debounce)
	}
	return err
}

// FlushNow saves immediately if anything is unsaved, bypassing the debounce.
// It waits for an in-flight save first, and returns the save error.
func (s *Scheduler) FlushNow(ctx context.Context) error {
	s.mu.Lock()
	for s.state == StateFlushing {
		done := s.flushDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}

	if !s.unsaved {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	s.beginFlushLocked()
	s.mu.Unlock()

	return s.runFlush(ctx)
}

// Stop cancels any scheduled save. An in-flight save completes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.stopTimerLocked()
	if s.state == StatePendingFlush {
		s.state = StateIdle
	}
}

// State returns the current state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Unsaved reports whether changes are waiting to be saved.
func (s *Scheduler) Unsaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsaved
}

// LastError returns the error of the most recent save, or nil.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Saves returns the number of successful saves.
func (s *Scheduler) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
