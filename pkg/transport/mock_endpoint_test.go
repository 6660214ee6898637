// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"sync"

	"github.com/semc/semc-go/pkg/packet"
)

// mockEndpoint is a test double implementing both Endpoint and Sender without touching
// the network.
type mockEndpoint struct {
	address string

	reportChan chan Status

	sentMutex sync.Mutex
	sent      [][]byte

	startErr error

	started bool
	closed  bool
}

func newMockEndpoint(kind CarrierKind, port int) *mockEndpoint {
	return &mockEndpoint{
		address:    fmt.Sprintf("%v://127.0.0.1:%d", kind, port),
		reportChan: make(chan Status, 16),
	}
}

func (m *mockEndpoint) Start() (error, bool) {
	if m.startErr != nil {
		return m.startErr, false
	}

	m.started = true
	return nil, true
}

func (m *mockEndpoint) Channel() chan Status {
	return m.reportChan
}

func (m *mockEndpoint) Address() string {
	return m.address
}

func (m *mockEndpoint) Close() {
	m.closed = true
}

func (m *mockEndpoint) Send(_ PeerAddress, buff *packet.Buffer) error {
	defer buff.Release()

	m.sentMutex.Lock()
	defer m.sentMutex.Unlock()

	m.sent = append(m.sent, append([]byte{}, buff.Bytes()...))
	return nil
}

func (m *mockEndpoint) sentFrames() [][]byte {
	m.sentMutex.Lock()
	defer m.sentMutex.Unlock()

	return m.sent
}
