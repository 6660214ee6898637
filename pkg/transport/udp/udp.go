// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp provides the datagram carrier. Every frame is exactly one datagram, so no
// additional framing is required on the wire.
package udp

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/transport"
)

// maxDatagramSize bounds the receive buffer. Frames are expected to stay well below a
// usual MTU, but fragmentation-reassembled datagrams up to this size are accepted.
const maxDatagramSize = 64 * 1024

// Endpoint is the datagram carrier, implementing both transport.Endpoint and
// transport.Sender on one bound UDP socket.
type Endpoint struct {
	listenAddress string
	reportChan    chan transport.Status

	conn      *net.UDPConn
	sendMutex sync.Mutex

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewEndpoint creates a datagram Endpoint for the given listen address, e.g., ":5540".
func NewEndpoint(listenAddress string) *Endpoint {
	return &Endpoint{
		listenAddress: listenAddress,
	}
}

// Start binds the UDP socket and spawns the receive loop. A restart after Close or a
// reported failure starts over with fresh supervision channels.
func (endpoint *Endpoint) Start() (error, bool) {
	udpAddr, err := net.ResolveUDPAddr("udp", endpoint.listenAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrBind, err), false
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrBind, err), true
	}

	endpoint.sendMutex.Lock()
	endpoint.conn = conn
	endpoint.sendMutex.Unlock()

	endpoint.reportChan = make(chan transport.Status)
	endpoint.stopSyn = make(chan struct{})
	endpoint.stopAck = make(chan struct{})

	go endpoint.handle(conn)

	return nil, true
}

func (endpoint *Endpoint) handle(conn *net.UDPConn) {
	readBuff := make([]byte, maxDatagramSize)

	for {
		select {
		case <-endpoint.stopSyn:
			_ = conn.Close()
			close(endpoint.reportChan)
			close(endpoint.stopAck)

			return

		default:
			if err := conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
				log.WithFields(log.Fields{
					"endpoint": endpoint.Address(),
					"error":    err,
				}).Warn("UDP Endpoint failed to set deadline on socket, reporting failure")

				endpoint.fail(conn)
				return
			}

			n, peerAddr, err := conn.ReadFromUDP(readBuff)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}

				log.WithFields(log.Fields{
					"endpoint": endpoint.Address(),
					"error":    err,
				}).Warn("UDP Endpoint failed to read from socket, reporting failure")

				endpoint.fail(conn)
				return
			}

			peer := transport.UDP(peerAddr.IP, uint16(peerAddr.Port))
			frame := packet.NewBufferData(readBuff[:n])

			endpoint.reportChan <- transport.NewStatusReceivedFrame(endpoint, peer, frame)
		}
	}
}

// fail closes the broken socket, reports an Endpoint failure for the supervising
// Manager to restart this Endpoint, and serves the Close handshake.
func (endpoint *Endpoint) fail(conn *net.UDPConn) {
	_ = conn.Close()

	select {
	case endpoint.reportChan <- transport.NewStatusEndpointFailed(endpoint):
	case <-endpoint.stopSyn:
	}

	<-endpoint.stopSyn
	close(endpoint.reportChan)
	close(endpoint.stopAck)
}

// Channel represents a return channel for received frames.
func (endpoint *Endpoint) Channel() chan transport.Status {
	return endpoint.reportChan
}

// Close this Endpoint and release its socket.
func (endpoint *Endpoint) Close() {
	close(endpoint.stopSyn)
	<-endpoint.stopAck
}

// Send transmits a frame as a single datagram. The Buffer's reference is taken over.
func (endpoint *Endpoint) Send(peer transport.PeerAddress, buff *packet.Buffer) error {
	defer buff.Release()

	endpoint.sendMutex.Lock()
	defer endpoint.sendMutex.Unlock()

	if endpoint.conn == nil {
		return fmt.Errorf("%w: UDP Endpoint is not started", transport.ErrConnection)
	}

	addr := &net.UDPAddr{IP: peer.IP, Port: int(peer.Port)}
	if _, err := endpoint.conn.WriteToUDP(buff.Bytes(), addr); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrConnection, err)
	}

	return nil
}

// Address is the unique "udp://" address of this Endpoint.
func (endpoint *Endpoint) Address() string {
	return fmt.Sprintf("udp://%s", endpoint.listenAddress)
}

func (endpoint *Endpoint) String() string {
	return endpoint.Address()
}
