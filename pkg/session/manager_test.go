// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/semc/semc-go/pkg/fabric"
	"github.com/semc/semc-go/pkg/msg"
	"github.com/semc/semc-go/pkg/packet"
	"github.com/semc/semc-go/pkg/transport"
)

// loopSender forwards frames directly into another Manager's Receive, simulating a
// lossless transport.
type loopSender struct {
	target *Manager
	from   transport.PeerAddress
}

func (ls *loopSender) Send(_ transport.PeerAddress, buff *packet.Buffer) error {
	ls.target.Receive(ls.from, buff)
	return nil
}

// recordingDelegate stores delivered payloads and closed sessions.
type recordingDelegate struct {
	mutex    sync.Mutex
	payloads [][]byte
	closed   []*Session
}

func (rd *recordingDelegate) OnPayload(_ *Session, buff *packet.Buffer) {
	rd.mutex.Lock()
	defer rd.mutex.Unlock()

	rd.payloads = append(rd.payloads, append([]byte{}, buff.Bytes()...))
	buff.Release()
}

func (rd *recordingDelegate) OnSessionClosed(session *Session) {
	rd.mutex.Lock()
	defer rd.mutex.Unlock()

	rd.closed = append(rd.closed, session)
}

func testFabricTable(t *testing.T, nodeID uint64) *fabric.Table {
	table := fabric.NewTable(4)
	if _, err := table.Assign(0, nodeID); err != nil {
		t.Fatal(err)
	}
	return table
}

// newSessionPair wires two Managers back-to-back and pairs them with a shared test
// secret.
func newSessionPair(t *testing.T) (alice, bob *Manager, aliceKey Key, bobDelegate *recordingDelegate) {
	const (
		aliceNode uint64 = 0x0A
		bobNode   uint64 = 0x0B
	)

	aliceAddr := transport.UDP(net.ParseIP("127.0.0.1"), 1111)
	bobAddr := transport.UDP(net.ParseIP("127.0.0.1"), 2222)

	aliceSender, bobSender := &loopSender{}, &loopSender{}

	alice = NewManager(aliceNode, aliceSender, testFabricTable(t, aliceNode), 32, 16)
	bob = NewManager(bobNode, bobSender, testFabricTable(t, bobNode), 32, 16)

	aliceSender.target, aliceSender.from = bob, aliceAddr
	bobSender.target, bobSender.from = alice, bobAddr

	bobDelegate = &recordingDelegate{}
	bob.SetReceiverDelegate(bobDelegate)
	alice.SetReceiverDelegate(&recordingDelegate{})

	material := TestSecretPairing{Secret: []byte("test secret")}

	if _, err := alice.NewPairing(bobAddr, bobNode, material, Initiator, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.NewPairing(aliceAddr, aliceNode, material, Responder, 0); err != nil {
		t.Fatal(err)
	}

	aliceKey = Key{PeerNodeID: bobNode, ScopeID: 0, Role: Initiator}
	return
}

func TestManagerRoundtrip(t *testing.T) {
	alice, _, aliceKey, bobDelegate := newSessionPair(t)

	if err := alice.SendMessage(aliceKey, packet.NewBufferData([]byte("hello bob"))); err != nil {
		t.Fatal(err)
	}

	if len(bobDelegate.payloads) != 1 || !bytes.Equal(bobDelegate.payloads[0], []byte("hello bob")) {
		t.Fatalf("unexpected delivery %q", bobDelegate.payloads)
	}
}

func TestManagerFifoPerSession(t *testing.T) {
	alice, _, aliceKey, bobDelegate := newSessionPair(t)

	payloads := [][]byte{[]byte("one"), []byte("two"), []byte("three"), []byte("four")}
	for _, payload := range payloads {
		if err := alice.SendMessage(aliceKey, packet.NewBufferData(payload)); err != nil {
			t.Fatal(err)
		}
	}

	if len(bobDelegate.payloads) != len(payloads) {
		t.Fatalf("expected %d deliveries, got %d", len(payloads), len(bobDelegate.payloads))
	}
	for i, payload := range payloads {
		if !bytes.Equal(bobDelegate.payloads[i], payload) {
			t.Fatalf("delivery %d out of order: %q", i, bobDelegate.payloads[i])
		}
	}
}

func TestManagerRejectsReplayedFrame(t *testing.T) {
	alice, bob, aliceKey, bobDelegate := newSessionPair(t)

	// Capture the encrypted frame instead of delivering it.
	var captured *packet.Buffer
	alice.sender = senderFunc(func(_ transport.PeerAddress, buff *packet.Buffer) error {
		captured = buff
		return nil
	})

	if err := alice.SendMessage(aliceKey, packet.NewBufferData([]byte("once"))); err != nil {
		t.Fatal(err)
	}

	from := transport.UDP(net.ParseIP("127.0.0.1"), 1111)
	raw := append([]byte{}, captured.Bytes()...)
	captured.Release()

	bob.Receive(from, packet.NewBufferData(raw))
	bob.Receive(from, packet.NewBufferData(raw))

	if len(bobDelegate.payloads) != 1 {
		t.Fatalf("replayed frame was delivered %d times", len(bobDelegate.payloads))
	}
	if bob.DroppedFrames() != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", bob.DroppedFrames())
	}
}

type senderFunc func(transport.PeerAddress, *packet.Buffer) error

func (f senderFunc) Send(peer transport.PeerAddress, buff *packet.Buffer) error {
	return f(peer, buff)
}

func TestManagerUnknownSession(t *testing.T) {
	alice, _, _, _ := newSessionPair(t)

	unknown := Key{PeerNodeID: 0xEE, ScopeID: 0, Role: Initiator}
	err := alice.SendMessage(unknown, packet.NewBufferData([]byte("void")))
	if !errors.Is(err, ErrNoSuchSession) {
		t.Fatalf("expected ErrNoSuchSession, got %v", err)
	}
}

func TestManagerClosedSession(t *testing.T) {
	alice, _, aliceKey, _ := newSessionPair(t)

	if err := alice.CloseSession(aliceKey); err != nil {
		t.Fatal(err)
	}

	err := alice.SendMessage(aliceKey, packet.NewBufferData([]byte("late")))
	if !errors.Is(err, ErrNoSuchSession) && !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected a session teardown error, got %v", err)
	}
}

func TestManagerPairingSupersedes(t *testing.T) {
	alice, _, aliceKey, _ := newSessionPair(t)

	delegate := &recordingDelegate{}
	alice.SetReceiverDelegate(delegate)

	bobAddr := transport.UDP(net.ParseIP("127.0.0.1"), 2222)
	material := TestSecretPairing{Secret: []byte("fresh secret")}

	if _, err := alice.NewPairing(bobAddr, aliceKey.PeerNodeID, material, Initiator, 0); err != nil {
		t.Fatal(err)
	}

	if alice.Sessions() != 1 {
		t.Fatalf("expected the new pairing to supersede, have %d sessions", alice.Sessions())
	}
	if len(delegate.closed) != 1 || delegate.closed[0].State() != Closed {
		t.Fatalf("superseded session was not closed: %v", delegate.closed)
	}
}

func TestManagerPairingUnknownScope(t *testing.T) {
	alice, _, _, _ := newSessionPair(t)

	bobAddr := transport.UDP(net.ParseIP("127.0.0.1"), 2222)
	material := TestSecretPairing{Secret: []byte("secret")}

	_, err := alice.NewPairing(bobAddr, 0xBB, material, Initiator, 42)
	if !errors.Is(err, ErrPairing) {
		t.Fatalf("expected ErrPairing for an unassigned scope, got %v", err)
	}
	if alice.Sessions() != 1 {
		t.Fatal("a failed pairing must not leave a partial session")
	}
}

func TestManagerPairingEmptySecret(t *testing.T) {
	nodeID := uint64(0x0A)
	manager := NewManager(nodeID, senderFunc(func(transport.PeerAddress, *packet.Buffer) error {
		return nil
	}), testFabricTable(t, nodeID), 32, 16)

	bobAddr := transport.UDP(net.ParseIP("127.0.0.1"), 2222)

	_, err := manager.NewPairing(bobAddr, 0xBB, TestSecretPairing{}, Initiator, 0)
	if !errors.Is(err, ErrPairing) {
		t.Fatalf("expected ErrPairing, got %v", err)
	}
	if manager.Sessions() != 0 {
		t.Fatal("a failed pairing must not leave a partial session")
	}
}

func TestManagerTamperedFrame(t *testing.T) {
	alice, bob, aliceKey, bobDelegate := newSessionPair(t)

	var captured *packet.Buffer
	alice.sender = senderFunc(func(_ transport.PeerAddress, buff *packet.Buffer) error {
		captured = buff
		return nil
	})

	if err := alice.SendMessage(aliceKey, packet.NewBufferData([]byte("integrity"))); err != nil {
		t.Fatal(err)
	}

	raw := append([]byte{}, captured.Bytes()...)
	captured.Release()
	raw[len(raw)-1] ^= 0xFF

	from := transport.UDP(net.ParseIP("127.0.0.1"), 1111)
	bob.Receive(from, packet.NewBufferData(raw))

	if len(bobDelegate.payloads) != 0 {
		t.Fatal("a tampered frame must not be delivered")
	}
	if bob.DroppedFrames() != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", bob.DroppedFrames())
	}
}

func TestManagerConcurrentSendCounters(t *testing.T) {
	const (
		workers  = 8
		messages = 50
	)

	nodeID := uint64(0x0A)

	var countersMutex sync.Mutex
	counters := make([]uint32, 0, workers*messages)

	manager := NewManager(nodeID, senderFunc(func(_ transport.PeerAddress, buff *packet.Buffer) error {
		defer buff.Release()

		var packetHeader msg.PacketHeader
		if err := packetHeader.DecodeAndConsume(buff); err != nil {
			return err
		}

		countersMutex.Lock()
		counters = append(counters, packetHeader.Counter)
		countersMutex.Unlock()
		return nil
	}), testFabricTable(t, nodeID), 32, 16)

	bobAddr := transport.UDP(net.ParseIP("127.0.0.1"), 2222)
	material := TestSecretPairing{Secret: []byte("test secret")}

	session, err := manager.NewPairing(bobAddr, 0x0B, material, Initiator, 0)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for j := 0; j < messages; j++ {
				if err := manager.SendMessage(session.Key, packet.NewBufferData([]byte("burst"))); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(counters) != workers*messages {
		t.Fatalf("expected %d frames, got %d", workers*messages, len(counters))
	}

	// The counter seeds the AEAD nonce; one value covering two frames would be
	// nonce reuse under the session key.
	seen := make(map[uint32]struct{}, len(counters))
	for _, counter := range counters {
		if _, dup := seen[counter]; dup {
			t.Fatalf("counter %d was used for two frames", counter)
		}
		seen[counter] = struct{}{}
	}
}

func TestManagerAnchorsUndefinedPeer(t *testing.T) {
	const (
		aliceNode uint64 = 0x0A
		bobNode   uint64 = 0x0B
	)

	aliceAddr := transport.UDP(net.ParseIP("127.0.0.1"), 40001)
	roamedAddr := transport.UDP(net.ParseIP("127.0.0.1"), 40002)

	var destsMutex sync.Mutex
	var dests []transport.PeerAddress

	aliceSender := &loopSender{}
	bob := NewManager(bobNode, senderFunc(func(peer transport.PeerAddress, buff *packet.Buffer) error {
		buff.Release()

		destsMutex.Lock()
		dests = append(dests, peer)
		destsMutex.Unlock()
		return nil
	}), testFabricTable(t, bobNode), 32, 16)
	bob.SetReceiverDelegate(&recordingDelegate{})

	alice := NewManager(aliceNode, aliceSender, testFabricTable(t, aliceNode), 32, 16)
	aliceSender.target, aliceSender.from = bob, aliceAddr

	material := TestSecretPairing{Secret: []byte("test secret")}

	// Bob does not know alice's ephemeral address upfront.
	if _, err := bob.NewPairing(transport.PeerAddress{}, aliceNode, material, Responder, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.NewPairing(transport.UDP(net.ParseIP("127.0.0.1"), 2222), bobNode, material, Initiator, 0); err != nil {
		t.Fatal(err)
	}

	bobKey := Key{PeerNodeID: aliceNode, ScopeID: 0, Role: Responder}

	err := bob.SendMessage(bobKey, packet.NewBufferData([]byte("early")))
	if !errors.Is(err, ErrNoPeerAddress) {
		t.Fatalf("expected ErrNoPeerAddress before the anchor, got %v", err)
	}

	aliceKey := Key{PeerNodeID: bobNode, ScopeID: 0, Role: Initiator}
	if err := alice.SendMessage(aliceKey, packet.NewBufferData([]byte("ping"))); err != nil {
		t.Fatal(err)
	}

	if err := bob.SendMessage(bobKey, packet.NewBufferData([]byte("pong"))); err != nil {
		t.Fatal(err)
	}
	if len(dests) != 1 || !dests[0].Equal(aliceAddr) {
		t.Fatalf("response was not sent to the frame's source address: %v", dests)
	}

	// A fresh frame from a new datagram source moves the anchor.
	aliceSender.from = roamedAddr
	if err := alice.SendMessage(aliceKey, packet.NewBufferData([]byte("ping again"))); err != nil {
		t.Fatal(err)
	}

	if err := bob.SendMessage(bobKey, packet.NewBufferData([]byte("pong again"))); err != nil {
		t.Fatal(err)
	}
	if len(dests) != 2 || !dests[1].Equal(roamedAddr) {
		t.Fatalf("anchor did not follow the roamed source address: %v", dests)
	}
}
