// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/relabs-tech/dyntarget/internal/gps"
	"github.com/relabs-tech/dyntarget/internal/source"
	"github.com/relabs-tech/dyntarget/internal/store"
)

const (
	DefaultMinInterval      = 3 * time.Second
	DefaultSamplingInterval = 3 * time.Second
	DefaultPublishTimeout   = 10 * time.Second
)

// StopPolicy decides what Stop does with an attempt cycle that is in flight.
type StopPolicy int

const (
	// FinishInFlight lets the current publish and its pacing wait complete.
	FinishInFlight StopPolicy = iota
	// CancelInFlight cancels the current publish and aborts its pacing wait.
	// The next attempt after a restart still starts no earlier than
	// MinInterval after the cancelled one.
	CancelInFlight
)

func (p StopPolicy) String() string {
	switch p {
	case FinishInFlight:
		return "finish"
	case CancelInFlight:
		return "cancel"
	default:
		return fmt.Sprintf("StopPolicy(%d)", int(p))
	}
}

// State is a point-in-time view of the scheduler.
type State struct {
	Running bool `json:"running"`
	// LastKnown is nil until the first sample arrives.
	LastKnown  *gps.Position `json:"last_known"`
	Pending    bool          `json:"pending"`
	Publishing bool          `json:"publishing"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMinInterval sets the minimum spacing between publish attempt starts.
func WithMinInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.minInterval = d }
}

// WithSamplingInterval sets the interval hint passed to the source.
func WithSamplingInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.samplingInterval = d }
}

// WithPublishTimeout bounds each publish call. Zero waits for the store indefinitely.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.publishTimeout = d }
}

func WithStopPolicy(p StopPolicy) Option {
	return func(s *Scheduler) { s.stopPolicy = p }
}

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler republishes the most recent position sample to a store,
// one attempt at a time and at most once per MinInterval.
type Scheduler struct {
	src   source.Source
	store store.Store

	minInterval      time.Duration
	samplingInterval time.Duration
	publishTimeout   time.Duration
	stopPolicy       StopPolicy
	clock            clock.Clock
	log              *zap.Logger
	metrics          *Metrics

	// lifeMu serializes Start and Stop. It is never taken while holding mu,
	// so a source may deliver samples while Subscribe or Unsubscribe runs.
	lifeMu sync.Mutex

	mu       sync.Mutex
	running  bool
	last     gps.Position
	hasLast  bool
	pending  bool
	inFlight bool
	seq      uint64 // bumped on each observable change
	attempts uint64
	idle     chan struct{} // closed when the current cycle ends

	// nextStart is the earliest time the next attempt may start. It outlives
	// cycles so that a cancelled pacing wait cannot shorten the gap.
	nextStart time.Time
	// storeCall holds the result of a store call that outlived its attempt.
	storeCall chan error

	// cycleCtx is handed to every attempt; cancelling it aborts the cycle in flight.
	cycleCtx     context.Context
	cancelCycles context.CancelFunc

	observers observers
}

// New returns a stopped scheduler reading from src and publishing to st.
func New(src source.Source, st store.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		src:              src,
		store:            st,
		minInterval:      DefaultMinInterval,
		samplingInterval: DefaultSamplingInterval,
		publishTimeout:   DefaultPublishTimeout,
		stopPolicy:       FinishInFlight,
		clock:            clock.RealClock{},
		log:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cycleCtx, s.cancelCycles = context.WithCancel(context.Background())
	return s
}

// Start subscribes to the source. It is a no-op if already running. A
// subscribe error is returned and the scheduler stays stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.Running() {
		return nil
	}

	if err := s.src.Subscribe(ctx, s.samplingInterval, s.OnSample); err != nil {
		return fmt.Errorf("subscribe to position source: %w", err)
	}

	s.mu.Lock()
	s.running = true
	s.seq++
	st, seq := s.snapshotLocked(), s.seq
	s.mu.Unlock()

	s.log.Info("Position tracking started",
		zap.Duration("min_interval", s.minInterval),
		zap.Duration("sampling_interval", s.samplingInterval))
	s.observers.dispatch(seq, st)
	return nil
}

// Stop unsubscribes from the source. It is a no-op if not running. No new
// attempt starts once Stop returns; what happens to one in flight depends
// on the stop policy.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.Running() {
		return
	}

	s.src.Unsubscribe()

	s.mu.Lock()
	s.running = false
	s.seq++
	inFlight := s.inFlight
	if inFlight && s.stopPolicy == CancelInFlight {
		s.cancelInFlightLocked()
	}
	st, seq := s.snapshotLocked(), s.seq
	s.mu.Unlock()

	s.log.Info("Position tracking stopped",
		zap.Bool("in_flight", inFlight),
		zap.Stringer("stop_policy", s.stopPolicy))
	s.observers.dispatch(seq, st)
}

// OnSample records a new position sample and schedules a publish if possible.
// Sources call it from their own goroutines.
func (s *Scheduler) OnSample(pos gps.Position) {
	s.mu.Lock()
	changed := !s.hasLast || !pos.Equal(s.last)
	if changed {
		s.last, s.hasLast = pos, true
		s.pending = true
		s.seq++
	}
	s.stepLocked()
	st, seq := s.snapshotLocked(), s.seq
	s.mu.Unlock()

	s.metrics.RecordSample(context.Background(), changed)
	if changed {
		s.observers.dispatch(seq, st)
	}
}

// Running reports whether the scheduler is subscribed to its source.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastKnown returns the most recent sample, if any.
func (s *Scheduler) LastKnown() (gps.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

func (s *Scheduler) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Observe registers fn and immediately calls it with the current state.
// The returned function unregisters it.
func (s *Scheduler) Observe(fn Observer) (cancel func()) {
	s.observers.dispatchMu.Lock()
	defer s.observers.dispatchMu.Unlock()

	s.mu.Lock()
	st, seq := s.snapshotLocked(), s.seq
	s.mu.Unlock()

	e := &observerEntry{fn: fn, seq: seq}
	cancel = s.observers.add(e)
	fn(st)
	return cancel
}

// Wait blocks until no attempt cycle is in flight.
func (s *Scheduler) Wait() {
	for {
		s.mu.Lock()
		if !s.inFlight {
			s.mu.Unlock()
			return
		}
		idle := s.idle
		s.mu.Unlock()
		<-idle
	}
}

// Shutdown stops the scheduler and waits for the cycle in flight. If ctx
// ends first the cycle is cancelled and ctx's error returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelInFlightLocked()
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) snapshotLocked() State {
	st := State{
		Running:    s.running,
		Pending:    s.pending,
		Publishing: s.inFlight,
	}
	if s.hasLast {
		pos := s.last
		st.LastKnown = &pos
	}
	return st
}

// cancelInFlightLocked aborts the running cycle and prepares a fresh context
// for the next one.
func (s *Scheduler) cancelInFlightLocked() {
	s.cancelCycles()
	s.cycleCtx, s.cancelCycles = context.WithCancel(context.Background())
}

type attempt struct {
	n            uint64
	target       gps.Position
	startedAt    time.Time
	earliestNext time.Time
	prevNext     time.Time
	ctx          context.Context
}

// stepLocked launches a cycle if one can start now.
func (s *Scheduler) stepLocked() {
	a, ok := s.nextAttemptLocked()
	if !ok {
		return
	}
	s.idle = make(chan struct{})
	go s.run(a)
}

func (s *Scheduler) nextAttemptLocked() (attempt, bool) {
	if s.inFlight || !s.pending || !s.hasLast || !s.running {
		return attempt{}, false
	}

	s.pending = false
	s.inFlight = true
	s.attempts++
	start := s.clock.Now()
	if start.Before(s.nextStart) {
		start = s.nextStart
	}
	a := attempt{
		n:            s.attempts,
		target:       s.last,
		startedAt:    start,
		earliestNext: start.Add(s.minInterval),
		prevNext:     s.nextStart,
		ctx:          s.cycleCtx,
	}
	s.nextStart = a.earliestNext
	return a, true
}

// run drives one cycle: attempts follow each other in this goroutine for as
// long as the scheduling step finds more work.
func (s *Scheduler) run(a attempt) {
	for {
		if s.awaitStart(a) {
			s.tryPublish(a)
			s.pace(a)
		}

		s.mu.Lock()
		s.inFlight = false
		next, ok := s.nextAttemptLocked()
		if !ok {
			close(s.idle)
		}
		s.mu.Unlock()

		if !ok {
			return
		}
		a = next
	}
}

// awaitStart holds an attempt until its start time. It reports false, and
// re-arms the pending flag, if the cycle was cancelled or the scheduler
// stopped before the attempt could start.
func (s *Scheduler) awaitStart(a attempt) bool {
	s.wait(a.ctx, a.startedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && a.ctx.Err() == nil {
		return true
	}
	s.pending = true
	s.nextStart = a.prevNext
	s.log.Debug("Attempt dropped before start", zap.Uint64("attempt", a.n))
	return false
}

func (s *Scheduler) tryPublish(a attempt) {
	s.log.Debug("Publishing position",
		zap.Uint64("attempt", a.n),
		zap.Stringer("target", a.target))

	err := s.publish(a)
	elapsed := s.clock.Since(a.startedAt)

	if err != nil {
		s.mu.Lock()
		s.pending = true
		s.mu.Unlock()
		s.log.Warn("Publish failed, will retry",
			zap.Uint64("attempt", a.n),
			zap.Stringer("target", a.target),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		s.log.Debug("Position published",
			zap.Uint64("attempt", a.n),
			zap.Duration("elapsed", elapsed))
	}
	s.metrics.RecordAttempt(context.Background(), elapsed, err)
}

// publish hands the target to the store and waits for its outcome. A
// cancelled cycle or an expired timeout counts as a failure even if the
// store call has not returned yet. Such a call is waited for before the
// store is called again, so the store never sees two calls at once.
func (s *Scheduler) publish(a attempt) error {
	ctx := a.ctx
	if s.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
	}

	s.mu.Lock()
	prev := s.storeCall
	s.mu.Unlock()
	if prev != nil {
		select {
		case <-prev:
			s.mu.Lock()
			s.storeCall = nil
			s.mu.Unlock()
		case <-ctx.Done():
			return fmt.Errorf("publish attempt %d: previous store call still running: %w", a.n, ctx.Err())
		}
	}

	result := make(chan error, 1)
	go func() {
		result <- s.store.Publish(ctx, a.target)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		s.storeCall = result
		s.mu.Unlock()
		return fmt.Errorf("publish attempt %d: %w", a.n, ctx.Err())
	}
}

// pace waits until the attempt's earliest next start, unless the cycle is cancelled.
func (s *Scheduler) pace(a attempt) {
	s.wait(a.ctx, a.earliestNext)
}

func (s *Scheduler) wait(ctx context.Context, until time.Time) {
	remaining := until.Sub(s.clock.Now())
	if remaining <= 0 {
		return
	}

	t := s.clock.NewTimer(remaining)
	defer t.Stop()

	select {
	case <-t.C():
	case <-ctx.Done():
	}
}
