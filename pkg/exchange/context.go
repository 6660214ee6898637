// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/session"
)

var (
	// ErrTimeout reports a conversation whose response did not arrive within the
	// policy's window, retransmissions included. Never fatal; the initiating side
	// sees a completed-with-failure conversation.
	ErrTimeout = errors.New("exchange: response timed out")

	// ErrNoSuchExchange reports a message dropped for unknown routing. Diagnostic
	// only.
	ErrNoSuchExchange = errors.New("exchange: no such exchange")

	// ErrClosed reports usage of a closed Context.
	ErrClosed = errors.New("exchange: context is closed")
)

// Handler consumes messages of a protocol or a single Context. Handlers run to
// completion on the delivering goroutine and must not block; payload Buffers are
// handed over.
type Handler interface {
	// OnMessage delivers an inbound message together with its decoded PayloadHeader.
	OnMessage(ctx *Context, header msg.PayloadHeader, payload *packet.Buffer)

	// OnTimeout reports the Context's conversation as failed after the retransmission
	// policy was exhausted.
	OnTimeout(ctx *Context)
}

// Context is one logical conversation riding on a session.
type Context struct {
	// ID is the exchange identifier, locally unique per session.
	ID uint16

	// SessionKey identifies the session this Context is bound to.
	SessionKey session.Key

	manager   *Manager
	handler   Handler
	initiator bool

	mutex           sync.Mutex
	closed          bool
	pendingResponse bool

	timer         *time.Timer
	retryPayload  []byte
	retryHeader   msg.PayloadHeader
	retryAttempts int
}

// IsInitiator reports whether the local side started this conversation.
func (ctx *Context) IsInitiator() bool {
	return ctx.initiator
}

// PendingResponse reports whether this Context still awaits a response.
func (ctx *Context) PendingResponse() bool {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()

	return ctx.pendingResponse
}

// Close this Context and cancel a pending timer. Closing an already closed Context is
// a no-op.
func (ctx *Context) Close() {
	ctx.manager.removeContext(ctx)
	ctx.shutdown()
}

// shutdown marks the Context closed without touching the Manager's table.
func (ctx *Context) shutdown() {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()

	ctx.closed = true
	ctx.pendingResponse = false
	ctx.stopTimerLocked()
}

func (ctx *Context) stopTimerLocked() {
	if ctx.timer != nil {
		ctx.timer.Stop()
		ctx.timer = nil
	}
	ctx.retryPayload = nil
}

// noteResponse clears the pending-response state upon an inbound message.
func (ctx *Context) noteResponse() {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()

	ctx.pendingResponse = false
	ctx.stopTimerLocked()
}

// armTimer stores the retransmission state and starts the response timer. The timer is
// rearmed on every retransmission attempt, capped by the policy's maximum.
func (ctx *Context) armTimer(header msg.PayloadHeader, payload []byte) {
	ctx.mutex.Lock()
	defer ctx.mutex.Unlock()

	if ctx.closed {
		return
	}

	ctx.pendingResponse = true
	ctx.retryHeader = header
	ctx.retryPayload = payload
	ctx.retryAttempts = 0

	ctx.rearmLocked()
}

func (ctx *Context) rearmLocked() {
	if ctx.timer != nil {
		ctx.timer.Stop()
	}
	ctx.timer = time.AfterFunc(ctx.manager.policy.ResponseTimeout, ctx.onExpiry)
}

// onExpiry retransmits or, with the policy exhausted, fails the conversation.
func (ctx *Context) onExpiry() {
	ctx.mutex.Lock()

	if ctx.closed || !ctx.pendingResponse {
		ctx.mutex.Unlock()
		return
	}

	if ctx.retryAttempts < ctx.manager.policy.MaxRetransmissions {
		ctx.retryAttempts++
		header := ctx.retryHeader
		payload := append([]byte{}, ctx.retryPayload...)
		ctx.rearmLocked()
		ctx.mutex.Unlock()

		ctx.manager.retransmit(ctx, header, payload)
		return
	}

	ctx.mutex.Unlock()

	ctx.manager.removeContext(ctx)
	ctx.shutdown()

	if ctx.handler != nil {
		ctx.handler.OnTimeout(ctx)
	}
}

func (ctx *Context) String() string {
	return fmt.Sprintf("Context(id=%d,%v,initiator=%v)", ctx.ID, ctx.SessionKey, ctx.initiator)
}
