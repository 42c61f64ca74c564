// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package pebbledb provides a kv.Store backed by Pebble.
package pebbledb

import (
	"github.com/cockroachdb/pebble"
	"github.com/fieldmht/accumulator/backend/kv"
	"github.com/pkg/errors"
)

type store struct {
	db *pebble.DB
}

// Open opens the Pebble instance in the given directory. If mustExist is
// set, a missing database is reported as an error instead of being created.
func Open(path string, mustExist bool) (kv.Store, error) {
	db, err := pebble.Open(path, &pebble.Options{ErrorIfNotExists: mustExist})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", path)
	}
	return &store{db: db}, nil
}

func (s *store) Get(key []byte) ([]byte, bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "get")
	}
	defer closer.Close()
	res := make([]byte, len(value))
	copy(res, value)
	return res, true, nil
}

func (s *store) Put(key, value []byte) error {
	return errors.Wrap(s.db.Set(key, value, pebble.Sync), "set")
}

func (s *store) Delete(key []byte) error {
	return errors.Wrap(s.db.Delete(key, pebble.Sync), "delete")
}

func (s *store) NewBatch() kv.Batch {
	return &batch{db: s.db, batch: s.db.NewBatch()}
}

func (s *store) Close() error {
	return errors.Wrap(s.db.Close(), "close")
}

// batch records the first failure of Put or Delete and reports it on Write.
type batch struct {
	db    *pebble.DB
	batch *pebble.Batch
	err   error
}

func (b *batch) Put(key, value []byte) {
	if b.err == nil {
		b.err = b.batch.Set(key, value, nil)
	}
}

func (b *batch) Delete(key []byte) {
	if b.err == nil {
		b.err = b.batch.Delete(key, nil)
	}
}

func (b *batch) Len() int {
	return int(b.batch.Count())
}

// Write commits the recorded updates. The underlying Pebble batch is closed
// and replaced on every call, whether or not anything was committed.
func (b *batch) Write() (err error) {
	defer func() {
		if closeErr := b.batch.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "close batch")
		}
		b.batch = b.db.NewBatch()
		b.err = nil
	}()
	if b.err != nil {
		return errors.Wrap(b.err, "batch")
	}
	if b.batch.Count() == 0 {
		return nil
	}
	return errors.Wrap(b.batch.Commit(pebble.Sync), "commit")
}
