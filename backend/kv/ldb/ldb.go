// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package ldb provides a kv.Store backed by LevelDB.
package ldb

import (
	"errors"
	"fmt"

	"github.com/fieldmht/accumulator/backend/kv"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type store struct {
	db *leveldb.DB
}

// Open opens the LevelDB instance in the given directory. If mustExist is
// set, a missing database is reported as an error instead of being created.
func Open(path string, mustExist bool) (kv.Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfMissing: mustExist})
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB at %s: %w", path, err)
	}
	return &store{db: db}, nil
}

func (s *store) Get(key []byte) ([]byte, bool, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *store) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *store) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *store) NewBatch() kv.Batch {
	return &batch{db: s.db}
}

func (s *store) Close() error {
	return s.db.Close()
}

type batch struct {
	db    *leveldb.DB
	batch leveldb.Batch
}

func (b *batch) Put(key, value []byte) {
	b.batch.Put(key, value)
}

func (b *batch) Delete(key []byte) {
	b.batch.Delete(key)
}

func (b *batch) Len() int {
	return b.batch.Len()
}

func (b *batch) Write() error {
	if b.batch.Len() == 0 {
		return nil
	}
	if err := b.db.Write(&b.batch, nil); err != nil {
		return err
	}
	b.batch.Reset()
	return nil
}
