// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/packet"
)

// ReceiveHandler is the single consumer invoked for every successfully received frame,
// annotated with its source PeerAddress. Frames of one Endpoint are delivered in
// arrival order; the handler takes over the Buffer's reference.
type ReceiveHandler func(peer PeerAddress, frame *packet.Buffer)

// Manager monitors and manages the configured Endpoints, restarts them if necessary,
// and fans received frames into the registered ReceiveHandler.
type Manager struct {
	// queueTtl is the amount of retries for an Endpoint.
	queueTtl int

	// retryTime is the duration between two activation attempts.
	retryTime time.Duration

	// elems maps each Endpoint's address to a wrapped endpointElem struct.
	// elems: Map[string]*endpointElem
	elems *sync.Map

	// handlerFunc and its mutex hold the single registered ReceiveHandler.
	handlerFunc  ReceiveHandler
	handlerMutex sync.Mutex

	// inChnl receives Status from the supervised Endpoints.
	inChnl chan Status

	// stop{Syn,Ack} are used to supervise closing this Manager, see Close()
	stopSyn chan struct{}
	stopAck chan struct{}

	// stopFlag and its mutex protect the Manager against acting on new Endpoints
	// after the Close method was called once.
	stopFlag      bool
	stopFlagMutex sync.Mutex
}

// NewManager creates a new Manager to supervise different Endpoints.
func NewManager() *Manager {
	manager := &Manager{
		queueTtl:  10,
		retryTime: 10 * time.Second,

		elems: new(sync.Map),

		inChnl: make(chan Status, 100),

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}

	go manager.handler()

	return manager
}

// handler is the internal goroutine for management.
func (manager *Manager) handler() {
	activateTicker := time.NewTicker(manager.retryTime)
	defer activateTicker.Stop()

	for {
		select {
		case <-manager.stopSyn:
			log.Debug("Transport Manager received closing signal")

			manager.elems.Range(func(_, elem interface{}) bool {
				manager.Unregister(elem.(*endpointElem).endpoint)
				return true
			})

			close(manager.inChnl)
			close(manager.stopAck)
			return

		case status := <-manager.inChnl:
			switch status.MessageType {
			case ReceivedFrame:
				frame := status.Message.(StatusReceivedFrame)
				manager.deliver(frame.Peer, frame.Frame)

			case EndpointFailed:
				log.WithFields(log.Fields{
					"endpoint": status.Sender.Address(),
				}).Info("Transport Manager received Endpoint Failed, restarting Endpoint")

				manager.Restart(status.Sender)

			default:
				log.WithFields(log.Fields{
					"type": status.MessageType,
				}).Warn("Transport Manager received unknown Status")
			}

		case <-activateTicker.C:
			manager.elems.Range(func(key, elem interface{}) bool {
				ee := elem.(*endpointElem)
				if ee.isActive() {
					return true
				}

				if successful, retry := ee.activate(); !successful && !retry {
					log.WithFields(log.Fields{
						"endpoint": ee.endpoint.Address(),
					}).Warn("Startup of Endpoint failed, a retry should not be made")

					manager.elems.Delete(key)
				}
				return true
			})
		}
	}
}

// deliver a received frame to the registered ReceiveHandler, dropping it otherwise.
func (manager *Manager) deliver(peer PeerAddress, frame *packet.Buffer) {
	manager.handlerMutex.Lock()
	handlerFunc := manager.handlerFunc
	manager.handlerMutex.Unlock()

	if handlerFunc == nil {
		log.WithFields(log.Fields{
			"peer": peer,
		}).Debug("Dropping received frame, no ReceiveHandler is registered")

		frame.Release()
		return
	}

	handlerFunc(peer, frame)
}

// RegisterReceiveHandler installs the single consumer invoked for every received frame.
func (manager *Manager) RegisterReceiveHandler(handlerFunc ReceiveHandler) {
	manager.handlerMutex.Lock()
	defer manager.handlerMutex.Unlock()

	manager.handlerFunc = handlerFunc
}

// isStopped signals if the Manager should be stopped.
func (manager *Manager) isStopped() bool {
	manager.stopFlagMutex.Lock()
	defer manager.stopFlagMutex.Unlock()

	return manager.stopFlag
}

// Close the Manager and all supervised Endpoints.
func (manager *Manager) Close() error {
	manager.stopFlagMutex.Lock()
	manager.stopFlag = true
	manager.stopFlagMutex.Unlock()

	close(manager.stopSyn)
	<-manager.stopAck

	return nil
}

// Register an Endpoint and try to start it immediately.
func (manager *Manager) Register(endpoint Endpoint) error {
	if manager.isStopped() {
		return fmt.Errorf("%w: Manager is stopped", ErrBind)
	}

	var ee *endpointElem
	if elem, exists := manager.elems.Load(endpoint.Address()); exists {
		ee = elem.(*endpointElem)
		if ee.isActive() {
			return fmt.Errorf("%w: address %s is already registered", ErrBind, endpoint.Address())
		}
	} else {
		ee = newEndpointElem(endpoint, manager.inChnl, manager.queueTtl)
		manager.elems.Store(endpoint.Address(), ee)
	}

	if successful, retry := ee.activate(); !successful && !retry {
		manager.elems.Delete(endpoint.Address())
		return fmt.Errorf("%w: starting %s failed", ErrBind, endpoint.Address())
	} else if !successful {
		return fmt.Errorf("%w: starting %s failed, retrying later", ErrBind, endpoint.Address())
	}

	return nil
}

// Unregister an Endpoint and close it down.
func (manager *Manager) Unregister(endpoint Endpoint) {
	elem, exists := manager.elems.Load(endpoint.Address())
	if !exists {
		return
	}

	elem.(*endpointElem).deactivate(manager.queueTtl)
	manager.elems.Delete(endpoint.Address())
}

// Restart an Endpoint's supervision after a failure.
func (manager *Manager) Restart(endpoint Endpoint) {
	manager.Unregister(endpoint)
	if err := manager.Register(endpoint); err != nil {
		log.WithFields(log.Fields{
			"endpoint": endpoint.Address(),
			"error":    err,
		}).Warn("Restarting Endpoint failed")
	}
}

// Send a frame to the given peer over a registered Sender matching the peer's carrier
// kind. The Buffer's reference is taken over.
func (manager *Manager) Send(peer PeerAddress, buff *packet.Buffer) error {
	var sender Sender

	manager.elems.Range(func(_, elem interface{}) bool {
		ee := elem.(*endpointElem)
		if !ee.isActive() {
			return true
		}

		if s, ok := ee.endpoint.(Sender); ok && kindOfAddress(s.Address()) == peer.Kind {
			sender = s
			return false
		}
		return true
	})

	if sender == nil {
		buff.Release()
		return fmt.Errorf("%w: no active Sender for %v", ErrConnection, peer)
	}

	return sender.Send(peer, buff)
}

// kindOfAddress extracts the CarrierKind from an Endpoint address string like
// "udp://127.0.0.1:5540". The concrete Endpoint types live in sub-packages, so the
// carrier kind is matched on the address scheme.
func kindOfAddress(address string) CarrierKind {
	for kind := KindUDP; kind <= KindQUIC; kind++ {
		prefix := kind.String() + "://"
		if len(address) >= len(prefix) && address[:len(prefix)] == prefix {
			return kind
		}
	}
	return KindUndefined
}
