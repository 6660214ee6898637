// SPDX-FileCopyrightText: 2026 Markus Sommer
// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package udc

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/transport"
)

// InstanceNameResolver locates and begins connecting to the commissionable node named
// by an announcement. Side effects are the resolver's own responsibility.
type InstanceNameResolver interface {
	FindCommissionableNode(instanceName string)
}

// DefaultClientTimeout expires a client slot after one hour without announcements.
const DefaultClientTimeout = time.Hour

// Server consumes announcement frames from a dedicated, unauthenticated transport
// Manager. Each newly seen instance name reaches the resolver exactly once; repeated
// announcements only refresh the client's expiry. Malformed frames are dropped without
// escalation.
type Server struct {
	transports *transport.Manager
	clients    *Clients

	resolverMutex sync.Mutex
	resolver      InstanceNameResolver

	droppedFrames uint64
}

// NewServer creates a Server on top of a transport Manager reserved for announcement
// traffic and installs itself as its receive handler.
func NewServer(transports *transport.Manager, clientCapacity int, clientTimeout time.Duration) *Server {
	server := &Server{
		transports: transports,
		clients:    NewClients(clientCapacity, clientTimeout),
	}

	transports.RegisterReceiveHandler(server.receive)

	return server
}

// SetInstanceNameResolver installs the resolver invoked per newly announced instance.
// Announcements arriving while no resolver is set are dropped.
func (server *Server) SetInstanceNameResolver(resolver InstanceNameResolver) {
	server.resolverMutex.Lock()
	defer server.resolverMutex.Unlock()

	server.resolver = resolver
}

func (server *Server) receive(peer transport.PeerAddress, frame *packet.Buffer) {
	defer frame.Release()

	instanceName, err := DecodeAnnouncement(frame)
	if err != nil || instanceName == "" {
		atomic.AddUint64(&server.droppedFrames, 1)

		log.WithFields(log.Fields{
			"peer":  peer,
			"error": err,
		}).Debug("UDC Server dropped a malformed announcement")
		return
	}

	if state := server.clients.FindByInstanceName(instanceName); state != nil {
		server.clients.MarkActive(state)

		log.WithFields(log.Fields{
			"instance": instanceName,
			"peer":     peer,
		}).Debug("UDC Server refreshed a known client")
		return
	}

	server.resolverMutex.Lock()
	resolver := server.resolver
	server.resolverMutex.Unlock()

	if resolver == nil {
		atomic.AddUint64(&server.droppedFrames, 1)
		return
	}

	if _, err := server.clients.NewState(instanceName, peer); err != nil {
		atomic.AddUint64(&server.droppedFrames, 1)

		log.WithFields(log.Fields{
			"instance": instanceName,
			"error":    err,
		}).Warn("UDC Server cannot track another client")
		return
	}

	log.WithFields(log.Fields{
		"instance": instanceName,
		"peer":     peer,
	}).Info("UDC Server resolves a new commissionable instance")

	resolver.FindCommissionableNode(instanceName)
}

// Clients exposes the Server's client state pool.
func (server *Server) Clients() *Clients {
	return server.clients
}

// DroppedFrames is the diagnostic counter of discarded announcement frames.
func (server *Server) DroppedFrames() uint64 {
	return atomic.LoadUint64(&server.droppedFrames)
}

// Close shuts the underlying transport Manager down.
func (server *Server) Close() error {
	return server.transports.Close()
}
