// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/session"
)

// Policy parameterizes every Context's timeout behavior.
type Policy struct {
	// ResponseTimeout is the window within which a response must arrive, rearmed on
	// every retransmission attempt.
	ResponseTimeout time.Duration

	// MaxRetransmissions caps the retransmission attempts before a conversation
	// fails terminally.
	MaxRetransmissions int
}

// DefaultPolicy mirrors a conservative constrained-device profile.
var DefaultPolicy = Policy{
	ResponseTimeout:    2 * time.Second,
	MaxRetransmissions: 2,
}

// contextKey addresses a Context by its session and exchange identifier.
type contextKey struct {
	sessionID  uint16
	exchangeID uint16
}

// Manager multiplexes Contexts over sessions and routes inbound messages to the
// Handler registered for their protocol. It implements session.ReceiverDelegate.
type Manager struct {
	sessions *session.Manager
	policy   Policy

	handlersMutex sync.Mutex
	handlers      map[msg.ProtocolID]Handler

	contextsMutex  sync.Mutex
	contexts       map[contextKey]*Context
	nextExchangeID uint16

	droppedMessages uint64
}

// NewManager creates a Manager on top of a session.Manager and installs itself as the
// session layer's receiver delegate.
func NewManager(sessions *session.Manager, policy Policy) *Manager {
	manager := &Manager{
		sessions: sessions,
		policy:   policy,

		handlers: make(map[msg.ProtocolID]Handler),
		contexts: make(map[contextKey]*Context),
	}

	sessions.SetReceiverDelegate(manager)

	return manager
}

// RegisterHandler installs the Handler serving a protocol's unsolicited messages.
func (manager *Manager) RegisterHandler(protocolID msg.ProtocolID, handler Handler) {
	manager.handlersMutex.Lock()
	defer manager.handlersMutex.Unlock()

	manager.handlers[protocolID] = handler

	log.WithFields(log.Fields{
		"protocol": protocolID,
	}).Info("Exchange Manager registered protocol handler")
}

// UnregisterHandler removes a protocol's Handler.
func (manager *Manager) UnregisterHandler(protocolID msg.ProtocolID) {
	manager.handlersMutex.Lock()
	defer manager.handlersMutex.Unlock()

	delete(manager.handlers, protocolID)
}

func (manager *Manager) handler(protocolID msg.ProtocolID) Handler {
	manager.handlersMutex.Lock()
	defer manager.handlersMutex.Unlock()

	return manager.handlers[protocolID]
}

// NewExchange allocates an initiator-side Context on the given session.
func (manager *Manager) NewExchange(key session.Key, handler Handler) (*Context, error) {
	manager.contextsMutex.Lock()
	defer manager.contextsMutex.Unlock()

	sessionID, err := manager.sessionID(key)
	if err != nil {
		return nil, err
	}

	var exchangeID uint16
	for {
		manager.nextExchangeID++
		exchangeID = manager.nextExchangeID
		if _, taken := manager.contexts[contextKey{sessionID, exchangeID}]; !taken {
			break
		}
	}

	ctx := &Context{
		ID:         exchangeID,
		SessionKey: key,
		manager:    manager,
		handler:    handler,
		initiator:  true,
	}
	manager.contexts[contextKey{sessionID, exchangeID}] = ctx

	return ctx, nil
}

// sessionID resolves a session.Key to the session's local identifier. The
// contextsMutex may be held by the caller.
func (manager *Manager) sessionID(key session.Key) (uint16, error) {
	s, err := manager.sessions.Lookup(key)
	if err != nil {
		return 0, err
	}
	return s.LocalID, nil
}

// SendMessage frames a message for the Context's conversation and hands it to the
// session layer. With expectResponse set, the Context awaits a reply within the
// Manager's Policy, retransmitting on expiry. The payload Buffer is handed over.
func (manager *Manager) SendMessage(
	ctx *Context, protocolID msg.ProtocolID, messageType uint8,
	payload *packet.Buffer, expectResponse bool) error {

	ctx.mutex.Lock()
	if ctx.closed {
		ctx.mutex.Unlock()
		payload.Release()
		return fmt.Errorf("%w: %v", ErrClosed, ctx)
	}
	ctx.mutex.Unlock()

	payloadHeader := msg.PayloadHeader{
		ProtocolID:  protocolID,
		MessageType: messageType,
		ExchangeID:  ctx.ID,
	}
	if ctx.initiator {
		payloadHeader.ExchangeFlags |= msg.FlagInitiator
	}

	// Keep a plaintext copy for retransmission before the Buffer moves down the
	// stack.
	var retryPayload []byte
	if expectResponse {
		retryPayload = append([]byte{}, payload.Bytes()...)
	}

	if err := payloadHeader.EncodeBeforeData(payload); err != nil {
		payload.Release()
		return err
	}

	if err := manager.sessions.SendMessage(ctx.SessionKey, payload); err != nil {
		return err
	}

	if expectResponse {
		ctx.armTimer(payloadHeader, retryPayload)
	}

	return nil
}

// retransmit re-frames a stored message with a fresh counter. Errors only surface in
// the log; the timeout path stays armed.
func (manager *Manager) retransmit(ctx *Context, header msg.PayloadHeader, payload []byte) {
	log.WithFields(log.Fields{
		"exchange": ctx,
		"protocol": header.ProtocolID,
	}).Debug("Exchange Manager retransmits a message")

	buff := packet.NewBufferData(payload)
	if err := header.EncodeBeforeData(buff); err != nil {
		buff.Release()
		return
	}

	if err := manager.sessions.SendMessage(ctx.SessionKey, buff); err != nil {
		log.WithFields(log.Fields{
			"exchange": ctx,
			"error":    err,
		}).Warn("Exchange Manager failed to retransmit")
	}
}

// OnPayload routes one decrypted message: an existing Context's conversation is
// continued; an unknown exchange identifier with a registered protocol Handler spawns
// a responder-side Context; everything else is dropped and counted.
func (manager *Manager) OnPayload(s *session.Session, buff *packet.Buffer) {
	var payloadHeader msg.PayloadHeader
	if err := payloadHeader.DecodeAndConsume(buff); err != nil {
		manager.dropMessage(s, "malformed payload header")
		buff.Release()
		return
	}

	key := contextKey{s.LocalID, payloadHeader.ExchangeID}

	manager.contextsMutex.Lock()
	ctx, known := manager.contexts[key]
	manager.contextsMutex.Unlock()

	if known {
		ctx.noteResponse()
		ctx.handler.OnMessage(ctx, payloadHeader, buff)
		manager.reapIdle(ctx)
		return
	}

	// Responder-side Contexts only spawn for messages flagged as initiated by the
	// peer; late replies to exchanges already gone are dropped below.
	handler := manager.handler(payloadHeader.ProtocolID)
	if handler == nil || !payloadHeader.IsInitiator() {
		manager.dropMessage(s, ErrNoSuchExchange.Error())
		buff.Release()
		return
	}

	ctx = &Context{
		ID:         payloadHeader.ExchangeID,
		SessionKey: s.Key,
		manager:    manager,
		handler:    handler,
		initiator:  false,
	}

	manager.contextsMutex.Lock()
	manager.contexts[key] = ctx
	manager.contextsMutex.Unlock()

	handler.OnMessage(ctx, payloadHeader, buff)
	manager.reapIdle(ctx)
}

// reapIdle closes a Context whose conversation finished, i.e., the Handler returned
// without awaiting another response. A Handler keeps its Context alive by sending the
// conversation's next message with expectResponse set.
func (manager *Manager) reapIdle(ctx *Context) {
	if !ctx.PendingResponse() {
		ctx.Close()
	}
}

// OnSessionClosed closes every Context bound to the session within this call; no
// Context references a closed session afterwards.
func (manager *Manager) OnSessionClosed(s *session.Session) {
	manager.contextsMutex.Lock()

	var affected []*Context
	for key, ctx := range manager.contexts {
		if key.sessionID == s.LocalID && ctx.SessionKey == s.Key {
			affected = append(affected, ctx)
			delete(manager.contexts, key)
		}
	}

	manager.contextsMutex.Unlock()

	for _, ctx := range affected {
		ctx.shutdown()
	}

	if len(affected) > 0 {
		log.WithFields(log.Fields{
			"session":   s,
			"exchanges": len(affected),
		}).Info("Exchange Manager cascaded session closure")
	}
}

// removeContext drops a Context from the routing table.
func (manager *Manager) removeContext(ctx *Context) {
	manager.contextsMutex.Lock()
	defer manager.contextsMutex.Unlock()

	for key, candidate := range manager.contexts {
		if candidate == ctx {
			delete(manager.contexts, key)
			return
		}
	}
}

func (manager *Manager) dropMessage(s *session.Session, reason string) {
	atomic.AddUint64(&manager.droppedMessages, 1)

	log.WithFields(log.Fields{
		"session": s,
		"reason":  reason,
	}).Debug("Exchange Manager dropped a message")
}

// DroppedMessages is the diagnostic counter of unroutable messages.
func (manager *Manager) DroppedMessages() uint64 {
	return atomic.LoadUint64(&manager.droppedMessages)
}

// Contexts is the current number of live Contexts.
func (manager *Manager) Contexts() int {
	manager.contextsMutex.Lock()
	defer manager.contextsMutex.Unlock()

	return len(manager.contexts)
}

// Close shuts all Contexts down.
func (manager *Manager) Close() error {
	manager.contextsMutex.Lock()
	contexts := make([]*Context, 0, len(manager.contexts))
	for _, ctx := range manager.contexts {
		contexts = append(contexts, ctx)
	}
	manager.contexts = make(map[contextKey]*Context)
	manager.contextsMutex.Unlock()

	for _, ctx := range contexts {
		ctx.shutdown()
	}
	return nil
}
