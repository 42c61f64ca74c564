// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package memory provides a volatile in-memory kv.Store.
package memory

import (
	"sync"

	"github.com/fieldmht/accumulator/backend/kv"
	"github.com/fieldmht/accumulator/common"
)

type store struct {
	data  map[string][]byte
	mutex sync.Mutex
}

// Create creates a new empty store.
func Create() kv.Store {
	return &store{data: map[string][]byte{}}
}

func (s *store) Get(key []byte) ([]byte, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	value, found := s.data[string(key)]
	if !found {
		return nil, false, nil
	}
	return clone(value), true, nil
}

func (s *store) Put(key, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data[string(key)] = clone(value)
	return nil
}

func (s *store) Delete(key []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *store) NewBatch() kv.Batch {
	return &batch{store: s}
}

func (s *store) Close() error {
	return nil
}

// Len returns the number of keys currently stored.
func (s *store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.data)
}

func (s *store) GetMemoryFootprint() *common.MemoryFootprint {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	size := uintptr(0)
	for k, v := range s.data {
		size += uintptr(len(k) + len(v))
	}
	return common.NewMemoryFootprint(size)
}

type op struct {
	key, value []byte
	delete     bool
}

type batch struct {
	store *store
	ops   []op
}

func (b *batch) Put(key, value []byte) {
	b.ops = append(b.ops, op{key: clone(key), value: clone(value)})
}

func (b *batch) Delete(key []byte) {
	b.ops = append(b.ops, op{key: clone(key), delete: true})
}

func (b *batch) Len() int {
	return len(b.ops)
}

func (b *batch) Write() error {
	b.store.mutex.Lock()
	defer b.store.mutex.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(b.store.data, string(op.key))
		} else {
			b.store.data[string(op.key)] = op.value
		}
	}
	b.ops = b.ops[:0]
	return nil
}

func clone(data []byte) []byte {
	res := make([]byte, len(data))
	copy(res, data)
	return res
}
