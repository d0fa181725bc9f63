package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sourcegraph/conc"

	"github.com/vango-dev/docsync/pkg/store"
)

// HydrationPolicy decides what happens when a document cannot be loaded.
type HydrationPolicy string

const (
	// HydrateStartEmpty opens the document empty and logs a warning. The
	// next save overwrites whatever the store held.
	HydrateStartEmpty HydrationPolicy = "start-empty"

	// HydrateReject refuses the join with a *HydrationError.
	HydrateReject HydrationPolicy = "reject"
)

// ParseHydrationPolicy validates a policy name.
func ParseHydrationPolicy(s string) (HydrationPolicy, error) {
	switch p := HydrationPolicy(s); p {
	case HydrateStartEmpty, HydrateReject:
		return p, nil
	case "":
		return HydrateStartEmpty, nil
	}
	return "", fmt.Errorf("collab: unknown hydration policy %q", s)
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Store loads and saves snapshots. Required.
	Store store.Store

	// Scheduler tunes debounced persistence of every session.
	Scheduler SchedulerConfig

	// HydrationPolicy applies when loading fails.
	// Default: HydrateStartEmpty.
	HydrationPolicy HydrationPolicy

	// HydrationRetries is how many times a failed load is retried.
	// Negative disables retries. Default: 3.
	HydrationRetries int

	// HydrationBackoff is the first retry delay; later delays grow
	// exponentially. Default: 100 milliseconds.
	HydrationBackoff time.Duration

	// LoadTimeout bounds a single LoadSnapshot call.
	// Default: 5 seconds.
	LoadTimeout time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

// entry is a registry slot. ready is closed once hydration settled (session
// or err is set); gone is closed once the slot left the map.
type entry struct {
	ready    chan struct{}
	gone     chan struct{}
	goneOnce sync.Once
	session  *Session
	err      error
}

func (e *entry) markGone() {
	e.goneOnce.Do(func() { close(e.gone) })
}

// Registry maps document ids to live sessions. Each cold document is loaded
// exactly once even when many connections join it at the same time.
type Registry struct {
	config  RegistryConfig
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig) *Registry {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.HydrationPolicy == "" {
		config.HydrationPolicy = HydrateStartEmpty
	}
	if config.HydrationRetries < 0 {
		config.HydrationRetries = 0
	} else if config.HydrationRetries == 0 {
		config.HydrationRetries = 3
	}
	if config.HydrationBackoff <= 0 {
		config.HydrationBackoff = 100 * time.Millisecond
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 5 * time.Second
	}

	return &Registry{
		config:  config,
		logger:  config.Logger.With("component", "session_registry"),
		metrics: config.Metrics,
		entries: make(map[string]*entry),
	}
}

// Acquire joins conn to the session of documentID, creating and hydrating
// the session if needed. A session that is closing is waited out and
// replaced.
func (r *Registry) Acquire(ctx context.Context, documentID string, conn Connection) (*Session, JoinReply, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, JoinReply{}, ErrManagerClosed
		}
		e, ok := r.entries[documentID]
		if !ok {
			e = &entry{ready: make(chan struct{}), gone: make(chan struct{})}
			r.entries[documentID] = e
		}
		r.mu.Unlock()

		if !ok {
			r.create(ctx, documentID, e)
		}

		// Hydration is bounded by LoadTimeout and the retry count, so this
		// wait ends even if ctx never does.
		<-e.ready
		if e.err != nil {
			return nil, JoinReply{}, e.err
		}

		reply, err := e.session.Join(conn)
		if errors.Is(err, ErrSessionClosing) {
			<-e.gone
			continue
		}
		if err != nil {
			return nil, JoinReply{}, err
		}
		return e.session, reply, nil
	}
}

// create hydrates a new session into e. It runs outside the registry lock
// on the goroutine of the first joiner.
func (r *Registry) create(ctx context.Context, documentID string, e *entry) {
	defer close(e.ready)

	s := NewSession(documentID, SessionConfig{
		Store:     r.config.Store,
		Scheduler: r.config.Scheduler,
		Logger:    r.config.Logger,
		Metrics:   r.metrics,
	})

	// Later joiners share this load, so it must not die with the first
	// joiner's request.
	err := r.hydrate(context.WithoutCancel(ctx), s)
	if err != nil && r.config.HydrationPolicy == HydrateReject {
		r.metrics.hydration("rejected")
		r.logger.Error("document load failed, rejecting join",
			"document_id", documentID,
			"error", err)
		e.err = err
		r.remove(documentID, e)
		return
	}
	if err != nil {
		r.metrics.hydration("fallback")
		r.logger.Warn("document load failed, starting empty",
			"document_id", documentID,
			"error", err)
	}

	e.session = s
	r.metrics.sessionOpened()
}

// hydrate loads the stored snapshot into s, retrying load failures.
func (r *Registry) hydrate(ctx context.Context, s *Session) (err error) {
	ctx, span := startSpan(ctx, "collab.hydrate", s.ID())
	defer func() { endSpan(span, err) }()

	var snap *store.Snapshot
	load := func() error {
		loadCtx, cancel := context.WithTimeout(ctx, r.config.LoadTimeout)
		defer cancel()

		loaded, err := r.config.Store.LoadSnapshot(loadCtx, s.ID())
		if err != nil {
			r.logger.Debug("document load attempt failed",
				"document_id", s.ID(),
				"error", err)
			return err
		}
		snap = loaded
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.HydrationBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.config.HydrationRetries)), ctx)

	if err := backoff.Retry(load, policy); err != nil {
		return &HydrationError{DocumentID: s.ID(), Err: err}
	}
	if snap == nil {
		r.metrics.hydration("empty")
		return nil
	}
	if err := s.hydrate(snap); err != nil {
		return &HydrationError{DocumentID: s.ID(), Err: err}
	}

	r.metrics.hydration("loaded")
	r.logger.Debug("document loaded",
		"document_id", s.ID(),
		"state_bytes", len(snap.State),
		"updated_at", snap.UpdatedAt)
	return nil
}

// Release detaches connID from documentID. When it was the last
// connection, the session is flushed, closed and removed; the returned
// error is the final flush error.
func (r *Registry) Release(ctx context.Context, documentID, connID string) error {
	r.mu.Lock()
	e, ok := r.entries[documentID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	<-e.ready
	if e.session == nil {
		return nil
	}
	if !e.session.Leave(connID) {
		return nil
	}

	err := e.session.Close(ctx)
	if r.remove(documentID, e) {
		r.metrics.sessionClosed()
	}
	return err
}

// remove deletes e from the map if it is still the current slot.
func (r *Registry) remove(documentID string, e *entry) bool {
	r.mu.Lock()
	removed := r.entries[documentID] == e
	if removed {
		delete(r.entries, documentID)
	}
	r.mu.Unlock()
	e.markGone()
	return removed
}

// Get returns the live session of documentID, or nil.
func (r *Registry) Get(documentID string) *Session {
	r.mu.Lock()
	e, ok := r.entries[documentID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-e.ready:
		return e.session
	default:
		return nil
	}
}

// Len returns the number of registered documents, including ones still loading.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// DocumentIDs returns the registered document ids in ascending order.
func (r *Registry) DocumentIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Shutdown refuses new joins and flushes every live session concurrently.
// It returns the first flush error.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := make(map[string]*entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.Unlock()

	var (
		wg       conc.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for id, e := range entries {
		wg.Go(func() {
			<-e.ready
			if e.session == nil {
				return
			}
			if err := e.session.Close(ctx); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
			if r.remove(id, e) {
				r.metrics.sessionClosed()
			}
		})
	}
	wg.Wait()

	r.logger.Info("registry shut down", "documents", len(entries))
	return firstErr
}
