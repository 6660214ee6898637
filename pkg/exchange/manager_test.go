// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package exchange

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/semc/semc-go/pkg/fabric"
	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/session"
	"github.com/semc/semc-go/pkg/transport"
)

// loopSender forwards frames directly into the peer's session manager.
type loopSender struct {
	target *session.Manager
	from   transport.PeerAddress

	// dropFrames swallows outbound frames to provoke timeouts.
	dropFrames bool

	mutex sync.Mutex
	sent  int
}

func (ls *loopSender) Send(_ transport.PeerAddress, buff *packet.Buffer) error {
	ls.mutex.Lock()
	ls.sent++
	drop := ls.dropFrames
	ls.mutex.Unlock()

	if drop {
		buff.Release()
		return nil
	}

	ls.target.Receive(ls.from, buff)
	return nil
}

func (ls *loopSender) sentFrames() int {
	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	return ls.sent
}

// recordingHandler stores inbound messages and timeouts.
type recordingHandler struct {
	mutex    sync.Mutex
	messages []recordedMessage
	timeouts []*Context

	// respondWith, if set, turns every inbound message around with this type.
	respondWith *uint8
}

type recordedMessage struct {
	ctx     *Context
	header  msg.PayloadHeader
	payload []byte
}

func (rh *recordingHandler) OnMessage(ctx *Context, header msg.PayloadHeader, payload *packet.Buffer) {
	rh.mutex.Lock()
	rh.messages = append(rh.messages, recordedMessage{ctx, header, append([]byte{}, payload.Bytes()...)})
	respondWith := rh.respondWith
	rh.mutex.Unlock()

	raw := append([]byte{}, payload.Bytes()...)
	payload.Release()

	if respondWith != nil {
		_ = ctx.manager.SendMessage(ctx, header.ProtocolID, *respondWith, packet.NewBufferData(raw), false)
	}
}

func (rh *recordingHandler) OnTimeout(ctx *Context) {
	rh.mutex.Lock()
	defer rh.mutex.Unlock()

	rh.timeouts = append(rh.timeouts, ctx)
}

func (rh *recordingHandler) recorded() []recordedMessage {
	rh.mutex.Lock()
	defer rh.mutex.Unlock()

	return append([]recordedMessage{}, rh.messages...)
}

func (rh *recordingHandler) timedOut() []*Context {
	rh.mutex.Lock()
	defer rh.mutex.Unlock()

	return append([]*Context{}, rh.timeouts...)
}

type testPeer struct {
	sessions  *session.Manager
	exchanges *Manager
	sender    *loopSender
	key       session.Key
}

// newTestPeers pairs two full session+exchange stacks back-to-back.
func newTestPeers(t *testing.T, policy Policy) (alice, bob *testPeer) {
	const (
		aliceNode uint64 = 0x0A
		bobNode   uint64 = 0x0B
	)

	aliceAddr := transport.UDP(net.ParseIP("127.0.0.1"), 1111)
	bobAddr := transport.UDP(net.ParseIP("127.0.0.1"), 2222)

	newTable := func(nodeID uint64) *fabric.Table {
		table := fabric.NewTable(2)
		if _, err := table.Assign(0, nodeID); err != nil {
			t.Fatal(err)
		}
		return table
	}

	aliceSender, bobSender := &loopSender{}, &loopSender{}

	aliceSessions := session.NewManager(aliceNode, aliceSender, newTable(aliceNode), 32, 16)
	bobSessions := session.NewManager(bobNode, bobSender, newTable(bobNode), 32, 16)

	aliceSender.target, aliceSender.from = bobSessions, aliceAddr
	bobSender.target, bobSender.from = aliceSessions, bobAddr

	alice = &testPeer{
		sessions:  aliceSessions,
		exchanges: NewManager(aliceSessions, policy),
		sender:    aliceSender,
		key:       session.Key{PeerNodeID: bobNode, ScopeID: 0, Role: session.Initiator},
	}
	bob = &testPeer{
		sessions:  bobSessions,
		exchanges: NewManager(bobSessions, policy),
		sender:    bobSender,
		key:       session.Key{PeerNodeID: aliceNode, ScopeID: 0, Role: session.Responder},
	}

	material := session.TestSecretPairing{Secret: []byte("exchange test secret")}
	if _, err := aliceSessions.NewPairing(bobAddr, bobNode, material, session.Initiator, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := bobSessions.NewPairing(aliceAddr, aliceNode, material, session.Responder, 0); err != nil {
		t.Fatal(err)
	}

	return
}

func TestManagerRequestResponse(t *testing.T) {
	alice, bob := newTestPeers(t, DefaultPolicy)

	respondWith := uint8(msg.EchoResponse)
	serverHandler := &recordingHandler{respondWith: &respondWith}
	bob.exchanges.RegisterHandler(msg.ProtocolEcho, serverHandler)

	clientHandler := &recordingHandler{}
	ctx, err := alice.exchanges.NewExchange(alice.key, clientHandler)
	if err != nil {
		t.Fatal(err)
	}

	err = alice.exchanges.SendMessage(ctx, msg.ProtocolEcho, msg.EchoRequest,
		packet.NewBufferData([]byte("ping")), true)
	if err != nil {
		t.Fatal(err)
	}

	responses := clientHandler.recorded()
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if !bytes.Equal(responses[0].payload, []byte("ping")) {
		t.Fatalf("response payload differs: %q", responses[0].payload)
	}
	if responses[0].header.MessageType != msg.EchoResponse {
		t.Fatalf("wrong message type %#02x", responses[0].header.MessageType)
	}
	if ctx.PendingResponse() {
		t.Fatal("the response must clear the pending flag")
	}

	requests := serverHandler.recorded()
	if len(requests) != 1 || requests[0].ctx.IsInitiator() {
		t.Fatalf("responder saw %v", requests)
	}
}

func TestManagerDropsUnroutable(t *testing.T) {
	alice, bob := newTestPeers(t, DefaultPolicy)

	// No handler is registered at bob.
	ctx, err := alice.exchanges.NewExchange(alice.key, &recordingHandler{})
	if err != nil {
		t.Fatal(err)
	}

	err = alice.exchanges.SendMessage(ctx, msg.ProtocolEcho, msg.EchoRequest,
		packet.NewBufferData([]byte("void")), false)
	if err != nil {
		t.Fatal(err)
	}

	if dropped := bob.exchanges.DroppedMessages(); dropped != 1 {
		t.Fatalf("expected 1 dropped message, got %d", dropped)
	}
	if bob.exchanges.Contexts() != 0 {
		t.Fatal("no responder context may spawn without a handler")
	}
}

func TestManagerTimeoutRetransmits(t *testing.T) {
	policy := Policy{ResponseTimeout: 20 * time.Millisecond, MaxRetransmissions: 2}
	alice, _ := newTestPeers(t, policy)

	alice.sender.mutex.Lock()
	alice.sender.dropFrames = true
	alice.sender.mutex.Unlock()

	handler := &recordingHandler{}
	ctx, err := alice.exchanges.NewExchange(alice.key, handler)
	if err != nil {
		t.Fatal(err)
	}

	err = alice.exchanges.SendMessage(ctx, msg.ProtocolEcho, msg.EchoRequest,
		packet.NewBufferData([]byte("lost")), true)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for len(handler.timedOut()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for OnTimeout")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Initial transmission plus MaxRetransmissions attempts.
	if sent := alice.sender.sentFrames(); sent != 1+policy.MaxRetransmissions {
		t.Fatalf("expected %d transmissions, got %d", 1+policy.MaxRetransmissions, sent)
	}
	if alice.exchanges.Contexts() != 0 {
		t.Fatal("a timed out context must be removed")
	}
}

func TestManagerCascadingClose(t *testing.T) {
	alice, _ := newTestPeers(t, DefaultPolicy)

	handler := &recordingHandler{}
	for i := 0; i < 3; i++ {
		if _, err := alice.exchanges.NewExchange(alice.key, handler); err != nil {
			t.Fatal(err)
		}
	}
	if alice.exchanges.Contexts() != 3 {
		t.Fatalf("expected 3 contexts, got %d", alice.exchanges.Contexts())
	}

	if err := alice.sessions.CloseSession(alice.key); err != nil {
		t.Fatal(err)
	}

	if alice.exchanges.Contexts() != 0 {
		t.Fatalf("expected cascading close, still %d contexts", alice.exchanges.Contexts())
	}
}

func TestManagerSendOnClosedContext(t *testing.T) {
	alice, _ := newTestPeers(t, DefaultPolicy)

	ctx, err := alice.exchanges.NewExchange(alice.key, &recordingHandler{})
	if err != nil {
		t.Fatal(err)
	}
	ctx.Close()

	err = alice.exchanges.SendMessage(ctx, msg.ProtocolEcho, msg.EchoRequest,
		packet.NewBufferData([]byte("late")), false)
	if err == nil {
		t.Fatal("expected an error on a closed context")
	}
}
