// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package tcp provides the stream carrier. Frames are delimited on the wire as CBOR
// byte strings, so a receiver can recover frame boundaries from the stream.
//
// Outgoing connections are established transparently within Send and cached per peer.
package tcp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/cboring"

	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/transport"
)

// Endpoint is the stream carrier, implementing both transport.Endpoint and
// transport.Sender. It accepts frames from multiple connections and forwards them to
// its status channel.
type Endpoint struct {
	listenAddress string
	reportChan    chan transport.Status

	// conns caches outgoing connections by the peer's network address.
	conns      map[string]net.Conn
	connsMutex sync.Mutex

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewEndpoint creates a stream Endpoint for the given listen address, e.g., ":5540".
func NewEndpoint(listenAddress string) *Endpoint {
	return &Endpoint{
		listenAddress: listenAddress,
		conns:         make(map[string]net.Conn),
	}
}

// Start binds the TCP listener and spawns the accept loop. A restart after Close or a
// reported failure starts over with fresh supervision channels.
func (endpoint *Endpoint) Start() (error, bool) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", endpoint.listenAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrBind, err), false
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrBind, err), true
	}

	endpoint.reportChan = make(chan transport.Status)
	endpoint.stopSyn = make(chan struct{})
	endpoint.stopAck = make(chan struct{})

	go endpoint.handle(ln)

	return nil, true
}

func (endpoint *Endpoint) handle(ln *net.TCPListener) {
	for {
		select {
		case <-endpoint.stopSyn:
			endpoint.teardown(ln)
			return

		default:
			if err := ln.SetDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
				log.WithFields(log.Fields{
					"endpoint": endpoint.Address(),
					"error":    err,
				}).Warn("TCP Endpoint failed to set deadline on listener")
			} else if conn, err := ln.Accept(); err == nil {
				go endpoint.handleConn(conn)
			} else if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
				log.WithFields(log.Fields{
					"endpoint": endpoint.Address(),
					"error":    err,
				}).Warn("TCP Endpoint's listener failed, reporting failure")

				select {
				case endpoint.reportChan <- transport.NewStatusEndpointFailed(endpoint):
				case <-endpoint.stopSyn:
				}

				<-endpoint.stopSyn
				endpoint.teardown(ln)
				return
			}
		}
	}
}

// teardown closes the listener and all connections and completes the Close handshake.
func (endpoint *Endpoint) teardown(ln *net.TCPListener) {
	_ = ln.Close()

	endpoint.connsMutex.Lock()
	for _, conn := range endpoint.conns {
		_ = conn.Close()
	}
	endpoint.conns = make(map[string]net.Conn)
	endpoint.connsMutex.Unlock()

	close(endpoint.reportChan)
	close(endpoint.stopAck)
}

// handleConn reads length-delimited frames from one accepted connection.
func (endpoint *Endpoint) handleConn(conn net.Conn) {
	defer func() {
		_ = conn.Close()

		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"endpoint": endpoint.Address(),
				"conn":     conn.RemoteAddr(),
				"error":    r,
			}).Warn("TCP Endpoint's connection handler failed")
		}
	}()

	log.WithFields(log.Fields{
		"endpoint": endpoint.Address(),
		"conn":     conn.RemoteAddr(),
	}).Debug("TCP Endpoint accepted a connection")

	peer := peerAddressOfConn(conn)

	// Replies to this peer must ride the accepted connection; the peer's source
	// port is ephemeral, a dial back would not reach it.
	if !peer.IsUndefined() {
		endpoint.connsMutex.Lock()
		if _, cached := endpoint.conns[peer.NetworkAddress()]; !cached {
			endpoint.conns[peer.NetworkAddress()] = conn

			defer func() {
				endpoint.connsMutex.Lock()
				if endpoint.conns[peer.NetworkAddress()] == conn {
					delete(endpoint.conns, peer.NetworkAddress())
				}
				endpoint.connsMutex.Unlock()
			}()
		}
		endpoint.connsMutex.Unlock()
	}

	connReader := bufio.NewReader(conn)

	for {
		n, err := cboring.ReadByteStringLen(connReader)
		if err != nil {
			log.WithFields(log.Fields{
				"endpoint": endpoint.Address(),
				"conn":     conn.RemoteAddr(),
				"error":    err,
			}).Debug("TCP Endpoint's connection closed")

			return
		} else if n == 0 {
			continue
		}

		raw := make([]byte, n)
		if _, err := io.ReadFull(connReader, raw); err != nil {
			log.WithFields(log.Fields{
				"endpoint": endpoint.Address(),
				"conn":     conn.RemoteAddr(),
				"error":    err,
			}).Warn("TCP Endpoint failed to read a frame")

			return
		}

		endpoint.reportChan <- transport.NewStatusReceivedFrame(
			endpoint, peer, packet.NewBufferData(raw))
	}
}

// Channel represents a return channel for received frames.
func (endpoint *Endpoint) Channel() chan transport.Status {
	return endpoint.reportChan
}

// Close this Endpoint, its listener and all cached connections.
func (endpoint *Endpoint) Close() {
	close(endpoint.stopSyn)
	<-endpoint.stopAck
}

// Send transmits a frame over a cached or freshly dialed connection to the peer. The
// Buffer's reference is taken over.
func (endpoint *Endpoint) Send(peer transport.PeerAddress, buff *packet.Buffer) error {
	defer buff.Release()

	endpoint.connsMutex.Lock()
	defer endpoint.connsMutex.Unlock()

	conn, err := endpoint.connLocked(peer)
	if err != nil {
		return err
	}

	var frame bytes.Buffer
	if err := cboring.WriteByteStringLen(uint64(buff.Len()), &frame); err != nil {
		return err
	}
	frame.Write(buff.Bytes())

	if _, err := conn.Write(frame.Bytes()); err != nil {
		_ = conn.Close()
		delete(endpoint.conns, peer.NetworkAddress())

		return fmt.Errorf("%w: %v", transport.ErrConnection, err)
	}

	return nil
}

// connLocked returns a cached connection for the peer or dials a new one. The
// connsMutex must be held by the caller.
func (endpoint *Endpoint) connLocked(peer transport.PeerAddress) (net.Conn, error) {
	if conn, ok := endpoint.conns[peer.NetworkAddress()]; ok {
		return conn, nil
	}

	conn, err := dial(peer.NetworkAddress())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrConnection, err)
	}

	endpoint.conns[peer.NetworkAddress()] = conn
	go endpoint.handleConn(connWithoutClose{conn})

	return conn, nil
}

// peerAddressOfConn derives the TCP PeerAddress of a connection's remote side.
func peerAddressOfConn(conn net.Conn) transport.PeerAddress {
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return transport.TCP(tcpAddr.IP, uint16(tcpAddr.Port))
	}
	return transport.PeerAddress{}
}

// connWithoutClose lets the reader of an outgoing connection run through handleConn
// without the deferred Close tearing down the cached connection on a read error of the
// reply direction.
type connWithoutClose struct {
	net.Conn
}

func (conn connWithoutClose) Close() error {
	return nil
}

// Address is the unique "tcp://" address of this Endpoint.
func (endpoint *Endpoint) Address() string {
	return fmt.Sprintf("tcp://%s", endpoint.listenAddress)
}

func (endpoint *Endpoint) String() string {
	return endpoint.Address()
}
