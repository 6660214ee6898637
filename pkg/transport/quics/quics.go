// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package quics provides the QUIC carrier. Every frame travels on its own
// unidirectional stream; the stream's end delimits the frame.
package quics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/transport"
	"github.com/semc/semc-go/pkg/transport/quics/internal"
)

// Endpoint is the QUIC carrier, implementing both transport.Endpoint and
// transport.Sender.
type Endpoint struct {
	listenAddress string
	reportChan    chan transport.Status

	listener *quic.Listener

	// conns caches outgoing connections by the peer's network address.
	conns      map[string]quic.Connection
	connsMutex sync.Mutex

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewEndpoint creates a QUIC Endpoint for the given listen address, e.g., ":5540".
func NewEndpoint(listenAddress string) *Endpoint {
	return &Endpoint{
		listenAddress: listenAddress,
		conns:         make(map[string]quic.Connection),
	}
}

// Start binds the QUIC listener and spawns the accept loop. A restart after Close or
// a reported failure starts over with fresh supervision channels.
func (endpoint *Endpoint) Start() (error, bool) {
	listener, err := quic.ListenAddr(
		endpoint.listenAddress,
		internal.GenerateSimpleListenerTLSConfig(),
		internal.GenerateQUICConfig())
	if err != nil {
		return fmt.Errorf("%w: %v", transport.ErrBind, err), true
	}

	endpoint.listener = listener
	endpoint.reportChan = make(chan transport.Status)
	endpoint.stopSyn = make(chan struct{})
	endpoint.stopAck = make(chan struct{})

	go endpoint.handle()

	return nil, true
}

func (endpoint *Endpoint) handle() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-endpoint.stopSyn
		cancel()

		_ = endpoint.listener.Close()

		endpoint.connsMutex.Lock()
		for _, conn := range endpoint.conns {
			_ = conn.CloseWithError(0, "endpoint shutdown")
		}
		endpoint.conns = make(map[string]quic.Connection)
		endpoint.connsMutex.Unlock()

		close(endpoint.reportChan)
		close(endpoint.stopAck)
	}()

	for {
		conn, err := endpoint.listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}

			log.WithFields(log.Fields{
				"endpoint": endpoint.Address(),
				"error":    err,
			}).Warn("QUIC Endpoint's listener failed, reporting failure")

			// The stop goroutine above still serves the Close handshake the
			// supervising Manager's restart runs through.
			select {
			case endpoint.reportChan <- transport.NewStatusEndpointFailed(endpoint):
			case <-endpoint.stopSyn:
			}
			return
		}

		go endpoint.handleConn(ctx, conn)
	}
}

// handleConn accepts frame streams from one connection.
func (endpoint *Endpoint) handleConn(ctx context.Context, conn quic.Connection) {
	peer := peerAddressOfConn(conn)

	for {
		stream, err := conn.AcceptUniStream(ctx)
		if err != nil {
			log.WithFields(log.Fields{
				"endpoint": endpoint.Address(),
				"peer":     conn.RemoteAddr(),
				"error":    err,
			}).Debug("QUIC Endpoint's connection closed")

			return
		}

		go endpoint.handleStream(peer, stream)
	}
}

// handleStream reads one frame from its stream.
func (endpoint *Endpoint) handleStream(peer transport.PeerAddress, stream quic.ReceiveStream) {
	raw, err := io.ReadAll(stream)
	if err != nil {
		log.WithFields(log.Fields{
			"endpoint": endpoint.Address(),
			"error":    err,
		}).Warn("QUIC Endpoint failed to read a frame stream")

		return
	}

	defer func() {
		// The report channel closes on shutdown while streams may still be in flight.
		if r := recover(); r != nil {
			log.WithField("endpoint", endpoint.Address()).Debug("Dropping frame on closed Endpoint")
		}
	}()

	endpoint.reportChan <- transport.NewStatusReceivedFrame(
		endpoint, peer, packet.NewBufferData(raw))
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

// Send transmits a frame on a fresh unidirectional stream of a cached or freshly
// dialed connection. The Buffer's reference is taken over.
func (endpoint *Endpoint) Send(peer transport.PeerAddress, buff *packet.Buffer) error {
	defer buff.Release()

	conn, err := endpoint.conn(peer)
	if err != nil {
		return err
	}

	stream, err := conn.OpenUniStream()
	if err != nil {
		endpoint.dropConn(peer)
		return fmt.Errorf("%w: %v", transport.ErrConnection, err)
	}

	if _, err := stream.Write(buff.Bytes()); err != nil {
		_ = stream.Close()
		endpoint.dropConn(peer)
		return fmt.Errorf("%w: %v", transport.ErrConnection, err)
	}

	return stream.Close()
}

func (endpoint *Endpoint) conn(peer transport.PeerAddress) (quic.Connection, error) {
	endpoint.connsMutex.Lock()
	defer endpoint.connsMutex.Unlock()

	if conn, ok := endpoint.conns[peer.NetworkAddress()]; ok {
		return conn, nil
	}

	conn, err := quic.DialAddr(
		context.Background(),
		peer.NetworkAddress(),
		internal.GenerateSimpleDialerTLSConfig(),
		internal.GenerateQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrConnection, err)
	}

	endpoint.conns[peer.NetworkAddress()] = conn
	go endpoint.handleConn(context.Background(), conn)

	return conn, nil
}

func (endpoint *Endpoint) dropConn(peer transport.PeerAddress) {
	endpoint.connsMutex.Lock()
	defer endpoint.connsMutex.Unlock()

	if conn, ok := endpoint.conns[peer.NetworkAddress()]; ok {
		_ = conn.CloseWithError(0, "send failed")
		delete(endpoint.conns, peer.NetworkAddress())
	}
}

// peerAddressOfConn derives the QUIC PeerAddress of a connection's remote side.
func peerAddressOfConn(conn quic.Connection) transport.PeerAddress {
	if udpAddr, ok := conn.RemoteAddr().(*net.UDPAddr); ok {
		return transport.QUIC(udpAddr.IP, uint16(udpAddr.Port))
	}
	return transport.PeerAddress{}
}

// Address is the unique "quic://" address of this Endpoint.
func (endpoint *Endpoint) Address() string {
	return fmt.Sprintf("quic://%s", endpoint.listenAddress)
}

func (endpoint *Endpoint) String() string {
	return endpoint.Address()
}
