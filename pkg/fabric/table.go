// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fabric maintains the table of administrative scopes, the trust domains that
// peer identities and secure sessions are grouped under.
package fabric

import (
	"errors"
	"fmt"
	"sync"
)

// ScopeID identifies an administrative scope, a logical grouping of peer identities
// sharing one trust domain.
type ScopeID uint16

var (
	// ErrTableFull is returned when the Table's fixed capacity is exhausted.
	ErrTableFull = errors.New("fabric: table capacity exhausted")

	// ErrScopeTaken is returned when a ScopeID is already assigned.
	ErrScopeTaken = errors.New("fabric: scope is already assigned")

	// ErrNoSuchScope is returned when a ScopeID is not assigned.
	ErrNoSuchScope = errors.New("fabric: no such scope")
)

// Entry binds a ScopeID to the local node identity used within that scope, together
// with an opaque key-material handle owned by the credential storage.
type Entry struct {
	ScopeID   ScopeID
	NodeID    uint64
	KeyHandle []byte
}

func (entry Entry) String() string {
	return fmt.Sprintf("Entry(scope=%d,node=%#016x)", entry.ScopeID, entry.NodeID)
}

// Table holds at most one Entry per ScopeID, up to a fixed capacity. Assignment fails
// explicitly when the capacity is exhausted.
type Table struct {
	mutex    sync.Mutex
	capacity int
	entries  map[ScopeID]*Entry
}

// NewTable creates an empty Table with the given fixed capacity.
func NewTable(capacity int) *Table {
	return &Table{
		capacity: capacity,
		entries:  make(map[ScopeID]*Entry, capacity),
	}
}

// Assign a ScopeID to a local node identity. At most one Entry may exist per ScopeID.
func (table *Table) Assign(scopeID ScopeID, nodeID uint64) (*Entry, error) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	if _, exists := table.entries[scopeID]; exists {
		return nil, fmt.Errorf("%w: %d", ErrScopeTaken, scopeID)
	}
	if len(table.entries) >= table.capacity {
		return nil, ErrTableFull
	}

	entry := &Entry{ScopeID: scopeID, NodeID: nodeID}
	table.entries[scopeID] = entry

	return entry, nil
}

// Retrieve the Entry assigned to a ScopeID.
func (table *Table) Retrieve(scopeID ScopeID) (*Entry, error) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	entry, exists := table.entries[scopeID]
	if !exists {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchScope, scopeID)
	}
	return entry, nil
}

// Release the Entry assigned to a ScopeID, freeing its capacity slot.
func (table *Table) Release(scopeID ScopeID) error {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	if _, exists := table.entries[scopeID]; !exists {
		return fmt.Errorf("%w: %d", ErrNoSuchScope, scopeID)
	}

	delete(table.entries, scopeID)
	return nil
}

// Range calls f for every Entry until f returns false.
func (table *Table) Range(f func(*Entry) bool) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	for _, entry := range table.entries {
		if !f(entry) {
			return
		}
	}
}

// Len is the current number of assigned Entries.
func (table *Table) Len() int {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	return len(table.entries)
}
