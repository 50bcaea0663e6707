// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package source provides push-based position streams.
package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/relabs-tech/dyntarget/internal/gps"
)

// ErrAlreadySubscribed is returned by Subscribe on a source that is already streaming.
var ErrAlreadySubscribed = errors.New("source: already subscribed")

// Source emits position samples at roughly the requested interval while subscribed.
//
// ctx bounds acquiring the underlying device or topic only; once Subscribe
// returns nil the stream runs until Unsubscribe. Unsubscribe is idempotent
// and onSample is never called after it returns.
type Source interface {
	Subscribe(ctx context.Context, interval time.Duration, onSample func(gps.Position)) error
	Unsubscribe()
}

// latest keeps the newest valid position between ticks.
type latest struct {
	mu  sync.Mutex
	pos gps.Position
	ok  bool
}

func (l *latest) set(p gps.Position) {
	l.mu.Lock()
	l.pos, l.ok = p, true
	l.mu.Unlock()
}

func (l *latest) get() (gps.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos, l.ok
}

// subscription is one running stream: goroutines tracked by wg, torn down by stop.
type subscription struct {
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	release func()
}

func newSubscription() (*subscription, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &subscription{cancel: cancel}, ctx
}

func (s *subscription) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *subscription) stop() {
	s.cancel()
	if s.release != nil {
		s.release()
	}
	s.wg.Wait()
}

// emitEvery hands the latest position to onSample once per interval until ctx ends.
func emitEvery(ctx context.Context, interval time.Duration, l *latest, onSample func(gps.Position)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pos, ok := l.get(); ok {
				onSample(pos)
			}
		}
	}
}

// slot guards the single active subscription of a source.
type slot struct {
	mu  sync.Mutex
	sub *subscription
}

func (s *slot) take() *subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := s.sub
	s.sub = nil
	return sub
}

func (s *slot) unsubscribe() {
	if sub := s.take(); sub != nil {
		sub.stop()
	}
}
