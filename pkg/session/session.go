// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"fmt"
	"sync"

	"github.com/semc/semc-go/pkg/fabric"
	"github.com/semc/semc-go/pkg/transport"
)

// Key is the composite identifier of a Session: at most one active Session exists per
// Key at a time; a new pairing supersedes the old Session.
type Key struct {
	PeerNodeID uint64
	ScopeID    fabric.ScopeID
	Role       Role
}

func (key Key) String() string {
	return fmt.Sprintf("Key(node=%#016x,scope=%d,%v)", key.PeerNodeID, key.ScopeID, key.Role)
}

// Session is one established secure channel towards a peer identity.
type Session struct {
	// Key identifies this Session within its Manager.
	Key Key

	// LocalID is this side's session identifier, carried by inbound frames.
	// PeerID is the identifier expected by the remote side on outbound frames. Manual
	// test pairing assigns both symmetrically; a negotiated handshake would exchange
	// them.
	LocalID uint16
	PeerID  uint16

	mutex sync.Mutex
	state State

	// peer is the transport target of outbound messages. It may start undefined
	// and is anchored to the source address of authenticated inbound frames.
	peer transport.PeerAddress

	keys        Keys
	sendCounter uint32
	recvWindow  *CounterWindow
}

// State returns the Session's current state.
func (session *Session) State() State {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	return session.state
}

// terminate moves the Session into a terminal state; subsequent use fails with
// ErrSessionClosed.
func (session *Session) terminate(state State) {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	if !session.state.Terminated() {
		session.state = state
	}
}

// PeerAddress returns the current transport target of outbound messages.
func (session *Session) PeerAddress() transport.PeerAddress {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	return session.peer
}

// anchorPeer re-targets outbound messages to an authenticated frame's source address
// and reports whether the anchor moved. An undefined anchor accepts any source; an
// established datagram anchor may roam, but only on fresh frames; stream anchors stay
// put, their replies ride the accepted connection.
func (session *Session) anchorPeer(peer transport.PeerAddress, fresh bool) bool {
	if peer.IsUndefined() {
		return false
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()

	if session.peer.Equal(peer) {
		return false
	}
	if !session.peer.IsUndefined() && (!fresh || session.peer.Kind != transport.KindUDP) {
		return false
	}

	session.peer = peer
	return true
}

// reserveCounter consumes the next outbound counter. The counter seeds the AEAD nonce,
// so it must never cover two different plaintexts: reservation happens before sealing
// and a failed framing attempt leaves a gap instead of returning the counter.
func (session *Session) reserveCounter() uint32 {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	session.sendCounter++
	return session.sendCounter
}

func (session *Session) String() string {
	return fmt.Sprintf("Session(%v,local=%d,%v)", session.Key, session.LocalID, session.State())
}
