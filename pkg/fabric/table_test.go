// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package fabric

import (
	"errors"
	"testing"
)

func TestTableAssignRetrieveRelease(t *testing.T) {
	table := NewTable(4)

	entry, err := table.Assign(0, 0x12344321)
	if err != nil {
		t.Fatal(err)
	}
	if entry.NodeID != 0x12344321 {
		t.Fatalf("unexpected NodeID %#x", entry.NodeID)
	}

	if got, err := table.Retrieve(0); err != nil {
		t.Fatal(err)
	} else if got != entry {
		t.Fatal("Retrieve returned a different Entry")
	}

	if err := table.Release(0); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Retrieve(0); !errors.Is(err, ErrNoSuchScope) {
		t.Fatalf("expected ErrNoSuchScope, got %v", err)
	}
}

func TestTableUniqueScope(t *testing.T) {
	table := NewTable(4)

	if _, err := table.Assign(7, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Assign(7, 2); !errors.Is(err, ErrScopeTaken) {
		t.Fatalf("expected ErrScopeTaken, got %v", err)
	}
}

func TestTableCapacity(t *testing.T) {
	table := NewTable(2)

	if _, err := table.Assign(0, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Assign(1, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Assign(2, 3); !errors.Is(err, ErrTableFull) {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}

	// Releasing an Entry frees its slot again.
	if err := table.Release(0); err != nil {
		t.Fatal(err)
	}
	if _, err := table.Assign(2, 3); err != nil {
		t.Fatal(err)
	}
}
