// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracking

import "sync"

// Observer receives a snapshot after each change of running state or last known position.
type Observer func(State)

type observerEntry struct {
	fn  Observer
	seq uint64 // newest snapshot delivered; guarded by observers.dispatchMu
}

type observers struct {
	mu      sync.Mutex
	entries []*observerEntry

	// dispatchMu serializes delivery so each observer sees snapshots in order.
	dispatchMu sync.Mutex
}

func (o *observers) add(e *observerEntry) func() {
	o.mu.Lock()
	o.entries = append(o.entries, e)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(e) })
	}
}

func (o *observers) remove(e *observerEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, cur := range o.entries {
		if cur == e {
			o.entries = append(o.entries[:i:i], o.entries[i+1:]...)
			return
		}
	}
}

// dispatch delivers st, taken at seq, to every observer that has not seen a newer one.
func (o *observers) dispatch(seq uint64, st State) {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	o.mu.Lock()
	entries := append([]*observerEntry(nil), o.entries...)
	o.mu.Unlock()

	for _, e := range entries {
		if seq <= e.seq {
			continue
		}
		e.seq = seq
		e.fn(st)
	}
}
