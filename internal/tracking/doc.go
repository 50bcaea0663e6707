// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracking turns a stream of position samples into a paced,
// coalesced sequence of publishes to a remote store.
//
// # State
//
// The Scheduler owns four pieces of state, all guarded by one mutex:
//
//   - running: true while subscribed to the source
//   - last known position: the most recent sample, empty before the first
//   - pending: the last known position has not been included in a
//     successful publish attempt (set on change and on failure, cleared when
//     an attempt launches)
//   - in flight: an attempt cycle is running; at most one exists at any time
//
// # Cycle
//
// A sample that differs from the last known position (bit-identical
// comparison) sets pending and runs the scheduling step. The step launches a
// cycle when nothing is in flight, pending is set, a position is known and
// the scheduler is running. A cycle:
//
//  1. clears pending, captures the target, starts at the later of now and the
//     previous attempt's earliestNext, and sets earliestNext = start + MinInterval
//  2. waits for its start, then publishes the target, bounded by the publish timeout
//  3. on failure sets pending again
//  4. waits until earliestNext if it is still in the future
//  5. clears in flight and re-runs the step in the same goroutine
//
// Pacing is anchored to attempt start times, so attempts never start closer
// than MinInterval apart no matter how fast or slow the store answers, and a
// sample that arrives mid-cycle waits at most one cycle.
//
// # Stop
//
// Stop unsubscribes and clears running. With FinishInFlight (the default) the
// current cycle runs to completion; with CancelInFlight its context is
// cancelled, though the next attempt after a restart still waits for the
// cancelled one's earliestNext. Either way no new attempt starts while stopped, including a
// retry after failure. Pending and the last known position survive a stop,
// so the first sample after the next Start publishes the latest position.
//
// # Observers
//
// Observe registers callbacks that receive a State snapshot after every
// change of running or last known position. Callbacks run synchronously on
// the goroutine that made the change, outside the state lock, and never see
// a snapshot older than one they already received. They must not call Start
// or Stop synchronously.
package tracking
