// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package kv defines the byte-keyed key-value stores backing persistent
// trees. Implementations live in the sub-packages ldb (LevelDB), pebbledb
// (Pebble) and memory.
package kv

//go:generate mockgen -source kv.go -destination kv_mocks.go -package kv

import (
	"fmt"
	"io"
)

// Store is a byte-keyed, byte-valued store supporting point operations and
// atomic write batches. Stores are not required to be safe for concurrent
// mutation; each tree owns its stores exclusively.
type Store interface {
	// Get returns a copy of the value stored for the given key. A missing
	// key is not an error; it is reported by the boolean result.
	Get(key []byte) (value []byte, found bool, err error)
	// Put associates a value to the given key, replacing any previous value.
	Put(key, value []byte) error
	// Delete removes the given key. Deleting a missing key is a no-op.
	Delete(key []byte) error
	// NewBatch starts a write batch applied atomically by Batch.Write.
	NewBatch() Batch
	io.Closer
}

// Batch collects updates to be applied to a store at once. Within a batch,
// later operations on the same key override earlier ones.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	// Len returns the number of recorded operations.
	Len() int
	// Write applies all recorded operations to the store.
	Write() error
}

// Backend names a store implementation.
type Backend string

const (
	LevelDB Backend = "leveldb"
	Pebble  Backend = "pebble"
	Memory  Backend = "memory"
)

// ParseBackend converts a configuration value to a Backend. An empty value
// selects LevelDB.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case "", LevelDB:
		return LevelDB, nil
	case Pebble:
		return Pebble, nil
	case Memory:
		return Memory, nil
	}
	return "", fmt.Errorf("unknown store backend %q", name)
}

// IsPersistent reports whether stores of this backend survive a restart.
func (b Backend) IsPersistent() bool {
	return b == LevelDB || b == Pebble
}
