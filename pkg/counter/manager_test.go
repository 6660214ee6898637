// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package counter

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/semc/semc-go/pkg/exchange"
	"github.com/semc/semc-go/pkg/fabric"
	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/session"
	"github.com/semc/semc-go/pkg/transport"
)

// lossySender forwards frames into the peer's session manager unless dropping is
// switched on.
type lossySender struct {
	target *session.Manager
	from   transport.PeerAddress

	mutex sync.Mutex
	drop  bool
}

func (ls *lossySender) Send(_ transport.PeerAddress, buff *packet.Buffer) error {
	ls.mutex.Lock()
	drop := ls.drop
	ls.mutex.Unlock()

	if drop {
		buff.Release()
		return nil
	}

	ls.target.Receive(ls.from, buff)
	return nil
}

func (ls *lossySender) setDrop(drop bool) {
	ls.mutex.Lock()
	ls.drop = drop
	ls.mutex.Unlock()
}

type sink struct {
	mutex    sync.Mutex
	payloads [][]byte
}

func (s *sink) OnMessage(_ *exchange.Context, _ msg.PayloadHeader, payload *packet.Buffer) {
	s.mutex.Lock()
	s.payloads = append(s.payloads, append([]byte{}, payload.Bytes()...))
	s.mutex.Unlock()

	payload.Release()
}

func (s *sink) OnTimeout(_ *exchange.Context) {}

func (s *sink) received() [][]byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([][]byte{}, s.payloads...)
}

type stack struct {
	sessions  *session.Manager
	exchanges *exchange.Manager
	counters  *Manager
	sender    *lossySender
	key       session.Key
}

// newStacks wires two peers back-to-back with a tight receive window so a handful of
// lost frames already desynchronizes the counter.
func newStacks(t *testing.T, policy exchange.Policy, config Config) (alice, bob *stack) {
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

	aliceSender, bobSender := &lossySender{}, &lossySender{}

	aliceSessions := session.NewManager(aliceNode, aliceSender, newTable(aliceNode), 4, 4)
	bobSessions := session.NewManager(bobNode, bobSender, newTable(bobNode), 4, 4)

	aliceSender.target, aliceSender.from = bobSessions, aliceAddr
	bobSender.target, bobSender.from = aliceSessions, bobAddr

	aliceExchanges := exchange.NewManager(aliceSessions, policy)
	bobExchanges := exchange.NewManager(bobSessions, policy)

	alice = &stack{
		sessions:  aliceSessions,
		exchanges: aliceExchanges,
		counters:  NewManager(aliceSessions, aliceExchanges, config),
		sender:    aliceSender,
		key:       session.Key{PeerNodeID: bobNode, ScopeID: 0, Role: session.Initiator},
	}
	bob = &stack{
		sessions:  bobSessions,
		exchanges: bobExchanges,
		counters:  NewManager(bobSessions, bobExchanges, config),
		sender:    bobSender,
		key:       session.Key{PeerNodeID: aliceNode, ScopeID: 0, Role: session.Responder},
	}

	material := session.TestSecretPairing{Secret: []byte("counter test secret")}
	if _, err := aliceSessions.NewPairing(bobAddr, bobNode, material, session.Initiator, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := bobSessions.NewPairing(aliceAddr, aliceNode, material, session.Responder, 0); err != nil {
		t.Fatal(err)
	}

	return
}

// desyncBob advances bob's send counter past alice's window tolerance by dropping
// frames on the wire.
func desyncBob(t *testing.T, bob *stack, frames int) {
	bob.sender.setDrop(true)
	for i := 0; i < frames; i++ {
		buff := packet.NewBufferData([]byte("lost"))
		payloadHeader := msg.PayloadHeader{
			ExchangeFlags: msg.FlagInitiator,
			ProtocolID:    msg.ProtocolEcho,
			MessageType:   msg.EchoRequest,
		}
		if err := payloadHeader.EncodeBeforeData(buff); err != nil {
			t.Fatal(err)
		}
		if err := bob.sessions.SendMessage(bob.key, buff); err != nil {
			t.Fatal(err)
		}
	}
	bob.sender.setDrop(false)
}

func sendPayload(t *testing.T, from *stack, payload []byte) {
	buff := packet.NewBufferData(payload)
	payloadHeader := msg.PayloadHeader{
		ExchangeFlags: msg.FlagInitiator,
		ProtocolID:    msg.ProtocolEcho,
		MessageType:   msg.EchoRequest,
	}
	if err := payloadHeader.EncodeBeforeData(buff); err != nil {
		t.Fatal(err)
	}
	if err := from.sessions.SendMessage(from.key, buff); err != nil {
		t.Fatal(err)
	}
}

func TestManagerResynchronizes(t *testing.T) {
	alice, bob := newStacks(t, exchange.DefaultPolicy, DefaultConfig)

	aliceSink := &sink{}
	alice.exchanges.RegisterHandler(msg.ProtocolEcho, aliceSink)

	desyncBob(t, bob, 10)

	// The first frame after the gap triggers the challenge; since everything runs
	// synchronously over the loopback, the window is re-anchored when SendMessage
	// returns. The triggering frame itself is lost.
	sendPayload(t, bob, []byte("trigger"))
	sendPayload(t, bob, []byte("after resync"))

	received := aliceSink.received()
	if len(received) != 1 || !bytes.Equal(received[0], []byte("after resync")) {
		t.Fatalf("expected the post-resync payload, got %v", received)
	}

	if alice.sessions.Sessions() != 1 {
		t.Fatal("the Session must survive a successful resynchronization")
	}
	if faulted := alice.counters.FaultedSessions(); faulted != 0 {
		t.Fatalf("no session may fault, got %d", faulted)
	}
}

func TestManagerResyncIsBounded(t *testing.T) {
	policy := exchange.Policy{ResponseTimeout: 10 * time.Millisecond, MaxRetransmissions: 1}
	config := Config{MaxAttempts: 2, ChallengeSize: 8}

	alice, bob := newStacks(t, policy, config)

	desyncBob(t, bob, 10)

	// Cut alice's outbound path so every challenge dies on the wire.
	alice.sender.setDrop(true)
	sendPayload(t, bob, []byte("trigger"))

	deadline := time.Now().Add(time.Second)
	for alice.counters.FaultedSessions() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the faulted session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if alice.sessions.Sessions() != 0 {
		t.Fatal("an exhausted resynchronization must tear the Session down")
	}
}

func TestManagerAnswersChallenges(t *testing.T) {
	alice, bob := newStacks(t, exchange.DefaultPolicy, DefaultConfig)

	// Bob's side answers challenges through its own counter Manager; after the round
	// trip alice must not hold pending state.
	desyncBob(t, bob, 10)
	sendPayload(t, bob, []byte("trigger"))

	alice.counters.mutex.Lock()
	pending := len(alice.counters.pending)
	alice.counters.mutex.Unlock()

	if pending != 0 {
		t.Fatalf("expected no pending challenge, got %d", pending)
	}
}
