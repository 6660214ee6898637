// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import "fmt"

// State of a Session: Uninitialized → Pairing → Established → (Closed | Faulted).
type State uint

const (
	// Uninitialized is the zero State before a pairing was started.
	Uninitialized State = iota

	// Pairing marks a handshake in progress.
	Pairing

	// Established marks a usable Session with negotiated key material.
	Established

	// Closed marks a Session after explicit or idle teardown.
	Closed

	// Faulted marks a Session torn down after an unrecoverable error, e.g., an
	// exhausted counter resynchronization.
	Faulted
)

func (state State) String() string {
	switch state {
	case Uninitialized:
		return "Uninitialized"
	case Pairing:
		return "Pairing"
	case Established:
		return "Established"
	case Closed:
		return "Closed"
	case Faulted:
		return "Faulted"
	default:
		return fmt.Sprintf("State(%d)", uint(state))
	}
}

// Terminated reports whether this State is Closed or Faulted.
func (state State) Terminated() bool {
	return state == Closed || state == Faulted
}

// Role of the local side during session establishment.
type Role uint

const (
	// Initiator marks the side which started the pairing.
	Initiator Role = iota

	// Responder marks the side which answered the pairing.
	Responder
)

func (role Role) String() string {
	if role == Initiator {
		return "Initiator"
	}
	return "Responder"
}
