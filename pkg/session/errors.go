// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import "errors"

var (
	// ErrPairing is returned when a handshake fails on cryptographic or message-format
	// grounds. No partial session remains after this error.
	ErrPairing = errors.New("session: pairing failed")

	// ErrNoSuchSession is returned when a session key or identifier is unknown.
	// Affected messages are dropped and counted, never escalated.
	ErrNoSuchSession = errors.New("session: no such session")

	// ErrSessionClosed is returned when a Closed or Faulted session is used.
	ErrSessionClosed = errors.New("session: session is closed")

	// ErrReplay is returned when a message counter was already accepted or lies below
	// the receive window.
	ErrReplay = errors.New("session: message counter replayed")

	// ErrCounterDesync is returned when a message counter jumps beyond the receive
	// window's tolerance, possibly triggering a resynchronization challenge.
	ErrCounterDesync = errors.New("session: message counter out of sync")

	// ErrNoPeerAddress is returned when a message is sent on a session whose peer
	// address is still undefined, i.e., no authenticated frame has anchored it yet.
	ErrNoPeerAddress = errors.New("session: no peer address anchored")
)
