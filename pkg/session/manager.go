// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/fabric"
	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/transport"
)

// Sender abstracts the transport below the Manager, usually a transport.Manager.
type Sender interface {
	Send(peer transport.PeerAddress, buff *packet.Buffer) error
}

// ReceiverDelegate consumes decrypted payloads and session lifecycle events, usually
// the exchange layer. OnPayload is called in frame arrival order per Session and takes
// over the Buffer's reference.
type ReceiverDelegate interface {
	OnPayload(session *Session, buff *packet.Buffer)
	OnSessionClosed(session *Session)
}

// DesyncObserver is notified about message counters beyond the receive window's
// tolerance, usually the counter manager driving a resynchronization challenge. The
// frame's payload was already authenticated against the Session's keys; only its
// counter was rejected. This lets the observer recognize a resynchronization response,
// which would otherwise be unreachable behind the very window it is about to fix.
type DesyncObserver interface {
	OnCounterDesync(session *Session, counter uint32, plaintext []byte)
}

// Manager establishes, stores and tears down Sessions and moves application payloads
// between the exchange layer and the transport.
type Manager struct {
	localNodeID uint64
	sender      Sender
	fabricTable *fabric.Table

	windowSize      int
	windowTolerance uint32

	aead AEAD

	delegateMutex sync.Mutex
	delegate      ReceiverDelegate
	desync        DesyncObserver

	sessionsMutex sync.Mutex
	sessions      map[Key]*Session
	byLocalID     map[uint16]*Session
	nextLocalID   uint16

	droppedFrames uint64
}

// NewManager creates a Manager for the given local node identity. Outbound frames leave
// through sender; windowSize and windowTolerance parameterize each Session's receive
// window.
func NewManager(localNodeID uint64, sender Sender, fabricTable *fabric.Table, windowSize int, windowTolerance uint32) *Manager {
	return &Manager{
		localNodeID: localNodeID,
		sender:      sender,
		fabricTable: fabricTable,

		windowSize:      windowSize,
		windowTolerance: windowTolerance,

		aead: GCMCipher{},

		sessions:  make(map[Key]*Session),
		byLocalID: make(map[uint16]*Session),
	}
}

// SetReceiverDelegate installs the consumer of decrypted payloads. Must be called
// before frames arrive.
func (manager *Manager) SetReceiverDelegate(delegate ReceiverDelegate) {
	manager.delegateMutex.Lock()
	defer manager.delegateMutex.Unlock()

	manager.delegate = delegate
}

// SetDesyncObserver installs the observer for counter desynchronization events.
func (manager *Manager) SetDesyncObserver(observer DesyncObserver) {
	manager.delegateMutex.Lock()
	defer manager.delegateMutex.Unlock()

	manager.desync = observer
}

// LocalNodeID is the node identity this Manager answers for.
func (manager *Manager) LocalNodeID() uint64 {
	return manager.localNodeID
}

// NewPairing drives a handshake against the given pairing material and, on success,
// registers the established Session under (peerNodeID, scopeID, role). An existing
// Session for the same identity is superseded. On any failure no partial Session
// remains.
//
// The peer address may be undefined, e.g., for a responder whose peer sits behind an
// ephemeral port. It is then anchored by the first authenticated inbound frame.
func (manager *Manager) NewPairing(
	peer transport.PeerAddress, peerNodeID uint64,
	material PairingMaterial, role Role, scopeID fabric.ScopeID) (*Session, error) {

	if _, err := manager.fabricTable.Retrieve(scopeID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairing, err)
	}

	keys, err := material.DeriveSessionKeys(role)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairing, err)
	}

	key := Key{PeerNodeID: peerNodeID, ScopeID: scopeID, Role: role}

	manager.sessionsMutex.Lock()

	superseded := manager.sessions[key]
	if superseded != nil {
		delete(manager.byLocalID, superseded.LocalID)
	}

	localID := manager.allocateLocalID()
	session := &Session{
		Key:     key,
		peer:    peer,
		LocalID: localID,
		PeerID:  localID,
		state:   Established,

		keys:       keys,
		recvWindow: NewCounterWindow(manager.windowSize, manager.windowTolerance),
	}

	manager.sessions[key] = session
	manager.byLocalID[localID] = session

	manager.sessionsMutex.Unlock()

	if superseded != nil {
		log.WithFields(log.Fields{
			"session": superseded,
		}).Info("New pairing supersedes existing Session")

		superseded.terminate(Closed)
		manager.notifyClosed(superseded)
	}

	log.WithFields(log.Fields{
		"session": session,
		"peer":    peer,
	}).Info("Established new Session")

	return session, nil
}

// allocateLocalID returns an unused non-zero session identifier. The sessionsMutex
// must be held by the caller.
func (manager *Manager) allocateLocalID() uint16 {
	for {
		manager.nextLocalID++
		if manager.nextLocalID == 0 {
			continue
		}
		if _, taken := manager.byLocalID[manager.nextLocalID]; !taken {
			return manager.nextLocalID
		}
	}
}

// Lookup returns the Session stored under a Key.
func (manager *Manager) Lookup(key Key) (*Session, error) {
	manager.sessionsMutex.Lock()
	defer manager.sessionsMutex.Unlock()

	session, ok := manager.sessions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNoSuchSession, key)
	}
	return session, nil
}

// SendMessage encrypts a payload under the Session's next send counter and forwards
// the framed message to the transport. The Buffer's reference is taken over. The send
// counter is reserved before sealing; a framing failure leaves a counter gap.
func (manager *Manager) SendMessage(key Key, buff *packet.Buffer) error {
	manager.sessionsMutex.Lock()
	session := manager.sessions[key]
	manager.sessionsMutex.Unlock()

	if session == nil {
		buff.Release()
		return fmt.Errorf("%w: %v", ErrNoSuchSession, key)
	}
	if session.State().Terminated() {
		buff.Release()
		return fmt.Errorf("%w: %v", ErrSessionClosed, session)
	}

	counter := session.reserveCounter()

	ciphertext, err := manager.aead.Seal(session.keys.EncryptKey, counter, buff.Bytes())
	buff.Release()
	if err != nil {
		return err
	}

	frame := packet.NewBufferData(ciphertext)
	packetHeader := msg.PacketHeader{
		SessionID:     session.PeerID,
		SecurityFlags: msg.SecuritySessionEncrypted,
		Counter:       counter,
		SourceNodeID:  manager.localNodeID,
		DestNodeID:    session.Key.PeerNodeID,
	}
	if err := packetHeader.EncodeBeforeData(frame); err != nil {
		frame.Release()
		return err
	}

	peer := session.PeerAddress()
	if peer.IsUndefined() {
		frame.Release()
		return fmt.Errorf("%w: %v", ErrNoPeerAddress, session)
	}

	return manager.sender.Send(peer, frame)
}

// Receive decrypts and validates an inbound frame and forwards the payload to the
// ReceiverDelegate. Its signature matches transport.ReceiveHandler; frames of one
// session are processed in arrival order. Undeliverable frames are dropped and
// counted, never escalated.
func (manager *Manager) Receive(peer transport.PeerAddress, frame *packet.Buffer) {
	defer frame.Release()

	var packetHeader msg.PacketHeader
	if err := packetHeader.DecodeAndConsume(frame); err != nil {
		manager.drop(peer, "malformed packet header", err)
		return
	}

	if !packetHeader.IsEncrypted() {
		manager.drop(peer, "unsecured frame on session endpoint", nil)
		return
	}

	session := manager.resolve(packetHeader)
	if session == nil {
		manager.drop(peer, ErrNoSuchSession.Error(), nil)
		return
	}
	if session.State().Terminated() {
		manager.drop(peer, ErrSessionClosed.Error(), nil)
		return
	}

	plaintext, err := manager.aead.Open(session.keys.DecryptKey, packetHeader.Counter, frame.Bytes())
	if err != nil {
		manager.drop(peer, "payload authentication failed", err)
		return
	}

	// An undefined anchor is set as soon as the frame authenticated; resync
	// challenges on a desynchronized session need a target too.
	if session.anchorPeer(peer, false) {
		log.WithFields(log.Fields{
			"session": session,
			"peer":    peer,
		}).Debug("Session was anchored to the frame's source address")
	}

	if err := session.recvWindow.TestAndAccept(packetHeader.Counter); err != nil {
		manager.drop(peer, err.Error(), nil)

		if err == ErrCounterDesync {
			manager.delegateMutex.Lock()
			desync := manager.desync
			manager.delegateMutex.Unlock()

			if desync != nil {
				desync.OnCounterDesync(session, packetHeader.Counter, plaintext)
			}
		}
		return
	}

	// Fresh authenticated frames may move a roaming datagram peer.
	if session.anchorPeer(peer, true) {
		log.WithFields(log.Fields{
			"session": session,
			"peer":    peer,
		}).Debug("Session roamed to a new source address")
	}

	manager.delegateMutex.Lock()
	delegate := manager.delegate
	manager.delegateMutex.Unlock()

	if delegate == nil {
		manager.drop(peer, "no ReceiverDelegate registered", nil)
		return
	}

	delegate.OnPayload(session, packet.NewBufferData(plaintext))
}

// resolve looks a Session up by the frame's session identifier, falling back to the
// source node identity.
func (manager *Manager) resolve(packetHeader msg.PacketHeader) *Session {
	manager.sessionsMutex.Lock()
	defer manager.sessionsMutex.Unlock()

	if session, ok := manager.byLocalID[packetHeader.SessionID]; ok {
		return session
	}

	for _, session := range manager.sessions {
		if session.Key.PeerNodeID == packetHeader.SourceNodeID {
			return session
		}
	}
	return nil
}

// drop counts and logs an undeliverable frame.
func (manager *Manager) drop(peer transport.PeerAddress, reason string, err error) {
	atomic.AddUint64(&manager.droppedFrames, 1)

	log.WithFields(log.Fields{
		"peer":   peer,
		"reason": reason,
		"error":  err,
	}).Debug("Session Manager dropped a frame")
}

// DroppedFrames is the diagnostic counter of dropped inbound frames.
func (manager *Manager) DroppedFrames() uint64 {
	return atomic.LoadUint64(&manager.droppedFrames)
}

// ResetReceiveWindow re-anchors a Session's receive window after a successful counter
// resynchronization.
func (manager *Manager) ResetReceiveWindow(key Key, anchor uint32) error {
	manager.sessionsMutex.Lock()
	session := manager.sessions[key]
	manager.sessionsMutex.Unlock()

	if session == nil {
		return fmt.Errorf("%w: %v", ErrNoSuchSession, key)
	}

	session.recvWindow.Reset(anchor)
	return nil
}

// CloseSession tears a Session down, cascading closure to the ReceiverDelegate.
func (manager *Manager) CloseSession(key Key) error {
	return manager.endSession(key, Closed)
}

// FaultSession tears a Session down after an unrecoverable error, e.g., an exhausted
// resynchronization.
func (manager *Manager) FaultSession(key Key) error {
	return manager.endSession(key, Faulted)
}

func (manager *Manager) endSession(key Key, state State) error {
	manager.sessionsMutex.Lock()
	session := manager.sessions[key]
	if session != nil {
		delete(manager.sessions, key)
		delete(manager.byLocalID, session.LocalID)
	}
	manager.sessionsMutex.Unlock()

	if session == nil {
		return fmt.Errorf("%w: %v", ErrNoSuchSession, key)
	}

	session.terminate(state)

	log.WithFields(log.Fields{
		"session": session,
		"state":   state,
	}).Info("Session was torn down")

	manager.notifyClosed(session)
	return nil
}

// Close tears down all Sessions, e.g., on shutdown.
func (manager *Manager) Close() error {
	manager.sessionsMutex.Lock()
	sessions := make([]*Session, 0, len(manager.sessions))
	for _, session := range manager.sessions {
		sessions = append(sessions, session)
	}
	manager.sessions = make(map[Key]*Session)
	manager.byLocalID = make(map[uint16]*Session)
	manager.sessionsMutex.Unlock()

	for _, session := range sessions {
		session.terminate(Closed)
		manager.notifyClosed(session)
	}
	return nil
}

func (manager *Manager) notifyClosed(session *Session) {
	manager.delegateMutex.Lock()
	delegate := manager.delegate
	manager.delegateMutex.Unlock()

	if delegate != nil {
		delegate.OnSessionClosed(session)
	}
}

// Sessions is the current number of stored Sessions.
func (manager *Manager) Sessions() int {
	manager.sessionsMutex.Lock()
	defer manager.sessionsMutex.Unlock()

	return len(manager.sessions)
}
