// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func getRandomPort(t *testing.T) int {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}

	defer func() { _ = l.Close() }()

	return l.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, url string) *http.Response {
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestMonitorStatus(t *testing.T) {
	port := getRandomPort(t)

	sampled := Stats{
		Sessions:        2,
		DroppedFrames:   7,
		Exchanges:       1,
		FaultedSessions: 1,
	}

	monitor := NewMonitor(fmt.Sprintf("localhost:%d", port), func() Stats { return sampled })
	defer monitor.Close()

	resp := waitForServer(t, fmt.Sprintf("http://localhost:%d/status", port))
	defer resp.Body.Close()

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats != sampled {
		t.Fatalf("expected %v, got %v", sampled, stats)
	}
}

func TestMonitorWebSocket(t *testing.T) {
	port := getRandomPort(t)

	monitor := NewMonitor(fmt.Sprintf("localhost:%d", port), func() Stats { return Stats{} })
	defer monitor.Close()

	_ = waitForServer(t, fmt.Sprintf("http://localhost:%d/status", port)).Body.Close()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://localhost:%d/ws", port), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// The broadcast may race the client registration; repeat until the event lands.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	go func() {
		for i := 0; i < 20; i++ {
			monitor.EchoRequestReceived([]byte("ping"))
			time.Sleep(50 * time.Millisecond)
		}
	}()

	var event EchoEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatal(err)
	}

	if event.Length != 4 || !bytes.Equal(event.Payload, []byte("ping")) {
		t.Fatalf("unexpected event %v", event)
	}
}
