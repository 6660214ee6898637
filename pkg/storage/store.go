// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package storage persists fabric assignments and commissioning records, letting a
// node resume its trust relationships after a restart.
package storage

import (
	"os"
	"path"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/timshannon/badgerhold"

	"github.com/semc/semc-go/pkg/fabric"
)

const dirBadger string = "db"

// FabricRecord is the persisted form of a fabric.Entry.
type FabricRecord struct {
	ScopeID   uint16 `badgerhold:"key"`
	NodeID    uint64
	KeyHandle []byte
}

// CommissioningRecord remembers a commissionable instance seen by the UDC server.
type CommissioningRecord struct {
	Instance string `badgerhold:"key"`
	Peer     string

	LastSeen time.Time `badgerholdIndex:"LastSeen"`
}

// Store keeps FabricRecords and CommissioningRecords in a badgerhold database.
type Store struct {
	bh *badgerhold.Store
}

// NewStore creates a new Store or opens an existing Store from the given path.
func NewStore(dir string) (s *Store, err error) {
	badgerDir := path.Join(dir, dirBadger)

	opts := badgerhold.DefaultOptions
	opts.Dir = badgerDir
	opts.ValueDir = badgerDir
	opts.Logger = log.StandardLogger()
	opts.Options.ValueLogFileSize = 1<<28 - 1

	if dirErr := os.MkdirAll(badgerDir, 0700); dirErr != nil {
		err = dirErr
		return
	}

	if bh, bhErr := badgerhold.Open(opts); bhErr != nil {
		err = bhErr
	} else {
		s = &Store{bh: bh}
	}
	return
}

// Close the Store. It must not be used afterwards.
func (s *Store) Close() error {
	return s.bh.Close()
}

// PutFabricEntry inserts or updates the record for an Entry's scope.
func (s *Store) PutFabricEntry(entry *fabric.Entry) error {
	record := FabricRecord{
		ScopeID:   uint16(entry.ScopeID),
		NodeID:    entry.NodeID,
		KeyHandle: entry.KeyHandle,
	}

	log.WithFields(log.Fields{
		"entry": entry,
	}).Debug("Store persists fabric entry")

	return s.bh.Upsert(record.ScopeID, record)
}

// DeleteFabricEntry removes a scope's record, e.g., after Table eviction.
func (s *Store) DeleteFabricEntry(scopeID fabric.ScopeID) error {
	err := s.bh.Delete(uint16(scopeID), FabricRecord{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

// FabricRecords fetches all persisted fabric assignments.
func (s *Store) FabricRecords() (records []FabricRecord, err error) {
	err = s.bh.Find(&records, nil)
	return
}

// RestoreFabric assigns all persisted records into a Table. Assignment errors, e.g.,
// an exhausted capacity, abort the restore.
func (s *Store) RestoreFabric(table *fabric.Table) error {
	records, err := s.FabricRecords()
	if err != nil {
		return err
	}

	for _, record := range records {
		entry, err := table.Assign(fabric.ScopeID(record.ScopeID), record.NodeID)
		if err != nil {
			return err
		}
		entry.KeyHandle = record.KeyHandle

		log.WithFields(log.Fields{
			"entry": entry,
		}).Info("Store restored fabric entry")
	}

	return nil
}

// SnapshotFabric persists every Entry of a Table.
func (s *Store) SnapshotFabric(table *fabric.Table) (err error) {
	table.Range(func(entry *fabric.Entry) bool {
		err = s.PutFabricEntry(entry)
		return err == nil
	})
	return
}

// PutCommissioning inserts or refreshes an instance's record.
func (s *Store) PutCommissioning(instance, peer string) error {
	record := CommissioningRecord{
		Instance: instance,
		Peer:     peer,

		LastSeen: time.Now(),
	}

	return s.bh.Upsert(record.Instance, record)
}

// QueryCommissioning fetches an instance's record.
func (s *Store) QueryCommissioning(instance string) (record CommissioningRecord, err error) {
	err = s.bh.Get(instance, &record)
	return
}

// KnowsInstance checks if an instance was seen before.
func (s *Store) KnowsInstance(instance string) bool {
	_, err := s.QueryCommissioning(instance)
	return err != badgerhold.ErrNotFound
}

// DeleteStaleCommissioning removes all records last seen before the deadline.
func (s *Store) DeleteStaleCommissioning(deadline time.Time) {
	var records []CommissioningRecord
	if err := s.bh.Find(&records, badgerhold.Where("LastSeen").Lt(deadline)); err != nil {
		log.WithError(err).Warn("Failed to get stale commissioning records")
		return
	}

	for _, record := range records {
		logger := log.WithField("instance", record.Instance)
		if err := s.bh.Delete(record.Instance, CommissioningRecord{}); err != nil {
			logger.WithError(err).Warn("Failed to delete stale commissioning record")
		} else {
			logger.Info("Deleted stale commissioning record")
		}
	}
}
