// SPDX-FileCopyrightText: 2026 Markus Sommer
// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package counter

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/exchange"
	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/session"
)

// Config bounds the resynchronization protocol.
type Config struct {
	// MaxAttempts is the number of challenges sent before the session is faulted.
	// Each attempt is retransmitted according to the exchange layer's Policy.
	MaxAttempts int

	// ChallengeSize is the length of the random challenge in bytes.
	ChallengeSize int
}

// DefaultConfig is used for zero-valued Config fields.
var DefaultConfig = Config{
	MaxAttempts:   3,
	ChallengeSize: 8,
}

// resync is one in-flight challenge towards a peer.
type resync struct {
	challenge []byte
	attempts  int
	ctx       *exchange.Context
}

// Manager performs counter resynchronization. It installs itself both as the session
// layer's DesyncObserver and as the exchange layer's SecureChannel protocol Handler.
//
// A challenge is a random byte string sent as MsgCounterSyncReq; the peer echoes it
// back as MsgCounterSyncRsp. The response's frame counter, authenticated by the
// session layer, becomes the new window anchor. Since that counter is itself beyond
// the broken window, the response arrives through the desynchronization path instead
// of the regular exchange path.
type Manager struct {
	sessions  *session.Manager
	exchanges *exchange.Manager
	config    Config

	mutex   sync.Mutex
	pending map[session.Key]*resync

	faulted uint64
}

// NewManager creates a Manager bound to a session and an exchange Manager and
// registers itself with both.
func NewManager(sessions *session.Manager, exchanges *exchange.Manager, config Config) *Manager {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if config.ChallengeSize <= 0 {
		config.ChallengeSize = DefaultConfig.ChallengeSize
	}

	manager := &Manager{
		sessions:  sessions,
		exchanges: exchanges,
		config:    config,

		pending: make(map[session.Key]*resync),
	}

	sessions.SetDesyncObserver(manager)
	exchanges.RegisterHandler(msg.ProtocolSecureChannel, manager)

	return manager
}

// OnCounterDesync inspects an authenticated frame whose counter fell outside the
// receive window. A MsgCounterSyncRsp matching the pending challenge completes the
// resynchronization; everything else triggers a challenge.
func (manager *Manager) OnCounterDesync(s *session.Session, counter uint32, plaintext []byte) {
	if manager.completeResync(s, counter, plaintext) {
		return
	}

	manager.mutex.Lock()
	_, inFlight := manager.pending[s.Key]
	manager.mutex.Unlock()

	if inFlight {
		return
	}

	if err := manager.challenge(s.Key); err != nil {
		log.WithFields(log.Fields{
			"session": s,
			"error":   err,
		}).Warn("Counter Manager failed to challenge a desynchronized peer")
	}
}

// completeResync checks a desynchronized frame against the pending challenge and, on a
// match, re-anchors the receive window at the frame's counter.
func (manager *Manager) completeResync(s *session.Session, counter uint32, plaintext []byte) bool {
	buff := packet.NewBufferData(plaintext)
	defer buff.Release()

	var payloadHeader msg.PayloadHeader
	if err := payloadHeader.DecodeAndConsume(buff); err != nil {
		return false
	}
	if payloadHeader.ProtocolID != msg.ProtocolSecureChannel ||
		payloadHeader.MessageType != msg.MsgCounterSyncRsp {
		return false
	}

	manager.mutex.Lock()
	state := manager.pending[s.Key]
	if state == nil || !bytes.Equal(state.challenge, buff.Bytes()) {
		manager.mutex.Unlock()
		return false
	}
	delete(manager.pending, s.Key)
	manager.mutex.Unlock()

	state.ctx.Close()

	if err := manager.sessions.ResetReceiveWindow(s.Key, counter); err != nil {
		log.WithFields(log.Fields{
			"session": s,
			"error":   err,
		}).Warn("Counter Manager failed to reset a receive window")
		return true
	}

	log.WithFields(log.Fields{
		"session": s,
		"anchor":  counter,
	}).Info("Counter Manager resynchronized a Session")

	return true
}

// challenge sends a fresh MsgCounterSyncReq on a new exchange. The caller must not
// hold the mutex.
func (manager *Manager) challenge(key session.Key) error {
	challenge := make([]byte, manager.config.ChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return err
	}

	ctx, err := manager.exchanges.NewExchange(key, manager)
	if err != nil {
		return err
	}

	manager.mutex.Lock()
	state := manager.pending[key]
	if state == nil {
		state = &resync{}
		manager.pending[key] = state
	}
	state.challenge = challenge
	state.attempts++
	state.ctx = ctx
	attempts := state.attempts
	manager.mutex.Unlock()

	log.WithFields(log.Fields{
		"session": key,
		"attempt": attempts,
	}).Info("Counter Manager challenges a desynchronized peer")

	err = manager.exchanges.SendMessage(ctx, msg.ProtocolSecureChannel,
		msg.MsgCounterSyncReq, packet.NewBufferData(challenge), true)
	if err != nil {
		ctx.Close()
		return err
	}
	return nil
}

// OnMessage serves the SecureChannel protocol: a peer's MsgCounterSyncReq is echoed
// back as MsgCounterSyncRsp; the response frame's own counter carries the anchor. A
// MsgCounterSyncRsp reaching this path passed the receive window, so only the pending
// state is cleaned up. Standalone acknowledgements carry no payload to act on.
func (manager *Manager) OnMessage(ctx *exchange.Context, header msg.PayloadHeader, payload *packet.Buffer) {
	defer payload.Release()

	switch header.MessageType {
	case msg.MsgCounterSyncReq:
		echo := append([]byte{}, payload.Bytes()...)
		err := manager.exchanges.SendMessage(ctx, msg.ProtocolSecureChannel,
			msg.MsgCounterSyncRsp, packet.NewBufferData(echo), false)
		if err != nil {
			log.WithFields(log.Fields{
				"exchange": ctx,
				"error":    err,
			}).Warn("Counter Manager failed to answer a challenge")
		}

	case msg.MsgCounterSyncRsp:
		manager.mutex.Lock()
		state := manager.pending[ctx.SessionKey]
		if state != nil && bytes.Equal(state.challenge, payload.Bytes()) {
			delete(manager.pending, ctx.SessionKey)
		}
		manager.mutex.Unlock()

	case msg.StandaloneAck:

	default:
		log.WithFields(log.Fields{
			"exchange": ctx,
			"type":     fmt.Sprintf("%#02x", header.MessageType),
		}).Debug("Counter Manager ignores an unknown SecureChannel message")
	}
}

// OnTimeout counts one exhausted challenge. Below the attempt bound a fresh challenge
// follows; at the bound the session is faulted.
func (manager *Manager) OnTimeout(ctx *exchange.Context) {
	key := ctx.SessionKey

	manager.mutex.Lock()
	state := manager.pending[key]
	if state == nil || state.ctx != ctx {
		manager.mutex.Unlock()
		return
	}
	exhausted := state.attempts >= manager.config.MaxAttempts
	manager.mutex.Unlock()

	if !exhausted {
		if err := manager.challenge(key); err == nil {
			return
		}
	}

	manager.mutex.Lock()
	delete(manager.pending, key)
	manager.mutex.Unlock()

	log.WithFields(log.Fields{
		"session": key,
	}).Error("Counter Manager gives up on resynchronization, faulting the Session")

	manager.mutex.Lock()
	manager.faulted++
	manager.mutex.Unlock()

	if err := manager.sessions.FaultSession(key); err != nil {
		log.WithFields(log.Fields{
			"session": key,
			"error":   err,
		}).Warn("Counter Manager failed to fault a Session")
	}
}

// FaultedSessions is the diagnostic counter of sessions faulted after exhausted
// resynchronization attempts.
func (manager *Manager) FaultedSessions() uint64 {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	return manager.faulted
}

// Close drops all pending challenges.
func (manager *Manager) Close() error {
	manager.mutex.Lock()
	pending := manager.pending
	manager.pending = make(map[session.Key]*resync)
	manager.mutex.Unlock()

	for _, state := range pending {
		state.ctx.Close()
	}
	return nil
}
