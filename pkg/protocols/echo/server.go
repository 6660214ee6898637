// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package echo

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/exchange"
	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
)

// RequestObserver is notified about every inbound echo request before its response
// leaves, e.g., for diagnostics.
type RequestObserver interface {
	EchoRequestReceived(payload []byte)
}

// Server answers echo requests. It keeps no per-request state; any number of
// conversations may be in flight concurrently.
type Server struct {
	exchanges *exchange.Manager

	observerMutex sync.Mutex
	observer      RequestObserver
}

// NewServer creates a Server and registers it for the echo protocol.
func NewServer(exchanges *exchange.Manager) *Server {
	server := &Server{exchanges: exchanges}
	exchanges.RegisterHandler(msg.ProtocolEcho, server)
	return server
}

// SetRequestObserver installs the observer called for each inbound request. A nil
// observer disables the notification.
func (server *Server) SetRequestObserver(observer RequestObserver) {
	server.observerMutex.Lock()
	defer server.observerMutex.Unlock()

	server.observer = observer
}

// OnMessage turns an EchoRequest around as an EchoResponse with the same payload.
func (server *Server) OnMessage(ctx *exchange.Context, header msg.PayloadHeader, payload *packet.Buffer) {
	defer payload.Release()

	if header.MessageType != msg.EchoRequest {
		log.WithFields(log.Fields{
			"exchange": ctx,
			"type":     header.MessageType,
		}).Debug("Echo Server ignores a non-request message")
		return
	}

	raw := append([]byte{}, payload.Bytes()...)

	server.observerMutex.Lock()
	observer := server.observer
	server.observerMutex.Unlock()

	if observer != nil {
		observer.EchoRequestReceived(raw)
	}

	err := server.exchanges.SendMessage(ctx, msg.ProtocolEcho, msg.EchoResponse,
		packet.NewBufferData(raw), false)
	if err != nil {
		log.WithFields(log.Fields{
			"exchange": ctx,
			"error":    err,
		}).Warn("Echo Server failed to send a response")
	}
}

// OnTimeout is part of the exchange.Handler interface; a Server never awaits
// responses.
func (server *Server) OnTimeout(_ *exchange.Context) {}

// Close unregisters the Server from the exchange layer.
func (server *Server) Close() error {
	server.exchanges.UnregisterHandler(msg.ProtocolEcho)
	return nil
}
