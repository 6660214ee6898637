// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/semc/semc-go/pkg/packet"
)

func TestManagerDeliversFrames(t *testing.T) {
	manager := NewManager()
	defer func() { _ = manager.Close() }()

	received := make(chan []byte, 1)
	manager.RegisterReceiveHandler(func(peer PeerAddress, frame *packet.Buffer) {
		received <- append([]byte{}, frame.Bytes()...)
		frame.Release()
	})

	endpoint := newMockEndpoint(KindUDP, 4000)
	if err := manager.Register(endpoint); err != nil {
		t.Fatal(err)
	}

	peer := UDP(net.ParseIP("127.0.0.1"), 4001)
	endpoint.reportChan <- NewStatusReceivedFrame(endpoint, peer, packet.NewBufferData([]byte("hello")))

	select {
	case payload := <-received:
		if !bytes.Equal(payload, []byte("hello")) {
			t.Fatalf("unexpected payload %q", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestManagerRejectsDuplicateAddress(t *testing.T) {
	manager := NewManager()
	defer func() { _ = manager.Close() }()

	if err := manager.Register(newMockEndpoint(KindUDP, 4002)); err != nil {
		t.Fatal(err)
	}
	if err := manager.Register(newMockEndpoint(KindUDP, 4002)); err == nil {
		t.Fatal("expected an error for a duplicate address")
	}
}

func TestManagerSendSelectsCarrier(t *testing.T) {
	manager := NewManager()
	defer func() { _ = manager.Close() }()

	udpEndpoint := newMockEndpoint(KindUDP, 4003)
	tcpEndpoint := newMockEndpoint(KindTCP, 4003)

	if err := manager.Register(udpEndpoint); err != nil {
		t.Fatal(err)
	}
	if err := manager.Register(tcpEndpoint); err != nil {
		t.Fatal(err)
	}

	peer := TCP(net.ParseIP("127.0.0.1"), 4004)
	if err := manager.Send(peer, packet.NewBufferData([]byte("streamed"))); err != nil {
		t.Fatal(err)
	}

	if frames := tcpEndpoint.sentFrames(); len(frames) != 1 || !bytes.Equal(frames[0], []byte("streamed")) {
		t.Fatalf("TCP endpoint saw %v", frames)
	}
	if frames := udpEndpoint.sentFrames(); len(frames) != 0 {
		t.Fatalf("UDP endpoint saw unexpected frames %v", frames)
	}
}

func TestManagerSendWithoutCarrier(t *testing.T) {
	manager := NewManager()
	defer func() { _ = manager.Close() }()

	peer := QUIC(net.ParseIP("127.0.0.1"), 4005)
	if err := manager.Send(peer, packet.NewBufferData([]byte("lost"))); err == nil {
		t.Fatal("expected an error without a matching Sender")
	}
}
