// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import "sync"

// CounterWindow is the receive-side acceptance window over a session's 32 bit message
// counter. It rejects duplicates and counters below the window as replays, tolerates
// limited reordering within the window, and flags forward jumps beyond the tolerance as
// desynchronization.
//
// The window is kept as a bitmap of seen counters trailing the highest accepted value,
// shifted forward whenever a newer counter is accepted.
type CounterWindow struct {
	mutex sync.Mutex

	// size is the bitmap length, the reordering depth below the newest counter.
	size int

	// tolerance is the maximum accepted forward jump above the newest counter.
	tolerance uint32

	seen         []byte
	lastAccepted uint32
	started      bool
}

// NewCounterWindow creates a CounterWindow of the given reordering depth and forward
// jump tolerance.
func NewCounterWindow(size int, tolerance uint32) *CounterWindow {
	return &CounterWindow{
		size:      size,
		tolerance: tolerance,
		seen:      make([]byte, size),
	}
}

// TestAndAccept validates a received counter against the window and, on success,
// marks it as seen and possibly advances the window. Errors are ErrReplay for
// duplicates or counters below the window and ErrCounterDesync for excessive jumps.
func (cw *CounterWindow) TestAndAccept(counter uint32) error {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	if !cw.started {
		cw.started = true
		cw.lastAccepted = counter
		cw.seen = make([]byte, cw.size)
		cw.seen[0] = 1
		return nil
	}

	if counter > cw.lastAccepted {
		jump := counter - cw.lastAccepted
		if jump > cw.tolerance {
			return ErrCounterDesync
		}

		cw.shift(int(jump))
		cw.seen[0] = 1
		cw.lastAccepted = counter
		return nil
	}

	index := int(cw.lastAccepted - counter)
	if index >= cw.size {
		return ErrReplay
	}
	if cw.seen[index] != 0 {
		return ErrReplay
	}

	cw.seen[index] = 1
	return nil
}

// shift moves the bitmap forward, dropping entries falling off the window's far end.
func (cw *CounterWindow) shift(by int) {
	shifted := make([]byte, cw.size)
	for i := by; i < cw.size; i++ {
		shifted[i] = cw.seen[i-by]
	}
	cw.seen = shifted
}

// Reset re-anchors the window after a successful counter resynchronization. All
// previously seen state is dropped.
func (cw *CounterWindow) Reset(anchor uint32) {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	cw.started = true
	cw.lastAccepted = anchor
	cw.seen = make([]byte, cw.size)
	cw.seen[0] = 1
}

// LastAccepted is the highest accepted counter value.
func (cw *CounterWindow) LastAccepted() uint32 {
	cw.mutex.Lock()
	defer cw.mutex.Unlock()

	return cw.lastAccepted
}
