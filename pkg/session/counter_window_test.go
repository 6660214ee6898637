// SPDX-FileCopyrightText: 2026 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import "testing"

func TestCounterWindowAcceptsMonotone(t *testing.T) {
	cw := NewCounterWindow(32, 16)

	for counter := uint32(1); counter <= 100; counter++ {
		if err := cw.TestAndAccept(counter); err != nil {
			t.Fatalf("counter %d: %v", counter, err)
		}
	}
	if cw.LastAccepted() != 100 {
		t.Fatalf("expected last accepted 100, got %d", cw.LastAccepted())
	}
}

func TestCounterWindowRejectsReplay(t *testing.T) {
	cw := NewCounterWindow(32, 16)

	if err := cw.TestAndAccept(10); err != nil {
		t.Fatal(err)
	}
	if err := cw.TestAndAccept(10); err != ErrReplay {
		t.Fatalf("expected ErrReplay for a duplicate, got %v", err)
	}
}

func TestCounterWindowToleratesReordering(t *testing.T) {
	cw := NewCounterWindow(32, 16)

	for _, counter := range []uint32{5, 8, 6, 7} {
		if err := cw.TestAndAccept(counter); err != nil {
			t.Fatalf("counter %d: %v", counter, err)
		}
	}

	// 5 was seen before the window advanced to 8.
	if err := cw.TestAndAccept(5); err != ErrReplay {
		t.Fatalf("expected ErrReplay, got %v", err)
	}
}

func TestCounterWindowRejectsBelowWindow(t *testing.T) {
	cw := NewCounterWindow(8, 16)

	if err := cw.TestAndAccept(100); err != nil {
		t.Fatal(err)
	}

	// 92 is exactly size steps below the last accepted value and falls off the bitmap.
	if err := cw.TestAndAccept(92); err != ErrReplay {
		t.Fatalf("expected ErrReplay below the window, got %v", err)
	}

	// 93 is the oldest counter still within the window.
	if err := cw.TestAndAccept(93); err != nil {
		t.Fatal(err)
	}
}

func TestCounterWindowDesync(t *testing.T) {
	cw := NewCounterWindow(8, 16)

	if err := cw.TestAndAccept(1); err != nil {
		t.Fatal(err)
	}
	if err := cw.TestAndAccept(18); err != ErrCounterDesync {
		t.Fatalf("expected ErrCounterDesync, got %v", err)
	}

	// A jump exactly at the tolerance is still acceptable.
	if err := cw.TestAndAccept(17); err != nil {
		t.Fatal(err)
	}
}

func TestCounterWindowReset(t *testing.T) {
	cw := NewCounterWindow(8, 4)

	if err := cw.TestAndAccept(1); err != nil {
		t.Fatal(err)
	}
	if err := cw.TestAndAccept(1000); err != ErrCounterDesync {
		t.Fatalf("expected ErrCounterDesync, got %v", err)
	}

	cw.Reset(1000)

	if err := cw.TestAndAccept(1001); err != nil {
		t.Fatal(err)
	}
	if err := cw.TestAndAccept(1000); err != ErrReplay {
		t.Fatalf("expected ErrReplay for the anchor, got %v", err)
	}
}
