// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udc

import (
	"errors"
	"sync"
	"time"

	"github.com/semc/semc-go/pkg/transport"
)

// ErrClientsFull reports an exhausted client state pool.
var ErrClientsFull = errors.New("udc: client state pool is full")

// ProcessingState tracks how far a client's commissioning progressed.
type ProcessingState int

const (
	// StateUninitialized marks a free pool slot.
	StateUninitialized ProcessingState = iota

	// StateDiscovering marks a client whose node is being located by the resolver.
	StateDiscovering
)

// ClientState is one announcing client's entry in the pool. An entry expires after the
// pool's timeout unless marked active again.
type ClientState struct {
	Peer         transport.PeerAddress
	InstanceName string
	State        ProcessingState

	expiry time.Time
}

func (state *ClientState) initialized(now time.Time) bool {
	return state.State != StateUninitialized && now.Before(state.expiry)
}

// Clients is a fixed capacity pool of ClientStates. It deduplicates repeated
// announcements for the same instance and times stale clients out, freeing their slot.
type Clients struct {
	timeout time.Duration
	now     func() time.Time

	mutex  sync.Mutex
	states []ClientState
}

// NewClients creates a pool of the given capacity. Entries expire timeout after their
// last activity.
func NewClients(capacity int, timeout time.Duration) *Clients {
	return &Clients{
		timeout: timeout,
		now:     time.Now,

		states: make([]ClientState, capacity),
	}
}

// NewState claims a free slot for an announcing client. Expired slots are reused;
// without a free slot ErrClientsFull is returned.
func (clients *Clients) NewState(instanceName string, peer transport.PeerAddress) (*ClientState, error) {
	clients.mutex.Lock()
	defer clients.mutex.Unlock()

	now := clients.now()
	for i := range clients.states {
		if clients.states[i].initialized(now) {
			continue
		}

		clients.states[i] = ClientState{
			Peer:         peer,
			InstanceName: instanceName,
			State:        StateDiscovering,

			expiry: now.Add(clients.timeout),
		}
		return &clients.states[i], nil
	}

	return nil, ErrClientsFull
}

// FindByInstanceName returns the live ClientState announcing instanceName, or nil.
func (clients *Clients) FindByInstanceName(instanceName string) *ClientState {
	clients.mutex.Lock()
	defer clients.mutex.Unlock()

	now := clients.now()
	for i := range clients.states {
		if clients.states[i].initialized(now) && clients.states[i].InstanceName == instanceName {
			return &clients.states[i]
		}
	}
	return nil
}

// MarkActive pushes a ClientState's expiry out by the pool's timeout.
func (clients *Clients) MarkActive(state *ClientState) {
	clients.mutex.Lock()
	defer clients.mutex.Unlock()

	state.expiry = clients.now().Add(clients.timeout)
}

// Reset frees all slots.
func (clients *Clients) Reset() {
	clients.mutex.Lock()
	defer clients.mutex.Unlock()

	for i := range clients.states {
		clients.states[i] = ClientState{}
	}
}

// Len is the number of live entries.
func (clients *Clients) Len() (n int) {
	clients.mutex.Lock()
	defer clients.mutex.Unlock()

	now := clients.now()
	for i := range clients.states {
		if clients.states[i].initialized(now) {
			n++
		}
	}
	return
}
