package collab

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/docsync/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeConn records everything sent to it.
type fakeConn struct {
	id    string
	actor string

	mu   sync.Mutex
	msgs [][]byte
	err  error
}

func newFakeConn(id, actor string) *fakeConn {
	return &fakeConn{id: id, actor: actor}
}

func (c *fakeConn) ID() string      { return c.id }
func (c *fakeConn) ActorID() string { return c.actor }

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, append([]byte(nil), msg...))
	return c.err
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.msgs...)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, running due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		c.mu.Unlock()

		next.f()
	}
}

// pendingTimers counts armed timers.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// testStore wraps a MemoryStore with counters, failure injection and gates.
type testStore struct {
	*store.MemoryStore

	loads atomic.Int32

	mu        sync.Mutex
	saves     []savedSnapshot
	loadErr   error
	saveErr   error
	loadGate  chan struct{} // if set, LoadSnapshot blocks until closed
	saveGate  chan struct{} // if set, SaveSnapshot blocks until closed
	saveEnter chan struct{} // if set, signaled when SaveSnapshot starts
}

type savedSnapshot struct {
	documentID string
	snap       store.Snapshot
}

func newTestStore() *testStore {
	return &testStore{MemoryStore: store.NewMemoryStore()}
}

func (s *testStore) LoadSnapshot(ctx context.Context, documentID string) (*store.Snapshot, error) {
	s.loads.Add(1)
	s.mu.Lock()
	gate, err := s.loadGate, s.loadErr
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.LoadSnapshot(ctx, documentID)
}

func (s *testStore) SaveSnapshot(ctx context.Context, documentID string, snap store.Snapshot) error {
	s.mu.Lock()
	gate, enter, err := s.saveGate, s.saveEnter, s.saveErr
	s.mu.Unlock()
	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.saves = append(s.saves, savedSnapshot{documentID: documentID, snap: snap.Clone()})
	s.mu.Unlock()
	return s.MemoryStore.SaveSnapshot(ctx, documentID, snap)
}

func (s *testStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *testStore) lastSave() savedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return savedSnapshot{}
	}
	return s.saves[len(s.saves)-1]
}

// metricValue sums every series of a gathered metric family.
func metricValue(reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	if err != nil {
		return -1
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

func sortedIDs(ids []uint64) []uint64 {
	out := append([]uint64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
