// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package mht

import (
	"fmt"

	"github.com/fieldmht/accumulator/backend/kv"
	"github.com/fieldmht/accumulator/backend/kv/ldb"
	"github.com/fieldmht/accumulator/backend/kv/memory"
	"github.com/fieldmht/accumulator/backend/kv/pebbledb"
	"github.com/fieldmht/accumulator/backend/oracle"
	"github.com/fieldmht/accumulator/common"
	"github.com/fieldmht/accumulator/common/field"
	"go.uber.org/zap"
)

// LazyTreeConfig describes the location and shape of a LazyTree.
type LazyTreeConfig struct {
	// Hasher is the hash function of the tree. Its arity defines the arity
	// of the tree.
	Hasher oracle.BatchHasher
	// Width is the number of leaf slots, a power of the arity. It is ignored
	// when restoring a tree unless set, in which case it must match.
	Width uint64
	// Backend selects the store implementation, LevelDB by default.
	Backend kv.Backend
	// LeavesPath is the directory of the store holding the leaves.
	LeavesPath string
	// CachePath is the directory of the store holding cached inner nodes.
	CachePath string
	// Persistent trees keep their stores on Close and save their state
	// to StatePath. Otherwise stores and state file are deleted on Close.
	Persistent bool
	// StatePath is the file holding the control state of the tree.
	StatePath string
	// Logger receives diagnostics. If nil, nothing is logged.
	Logger *zap.Logger
}

func (c *LazyTreeConfig) backend() kv.Backend {
	if c.Backend == "" {
		return kv.LevelDB
	}
	return c.Backend
}

func (c *LazyTreeConfig) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *LazyTreeConfig) checkStores() error {
	switch c.backend() {
	case kv.LevelDB, kv.Pebble:
		if c.LeavesPath == "" || c.CachePath == "" {
			return fmt.Errorf("%w: missing store directory", common.ErrConstruction)
		}
		if c.LeavesPath == c.CachePath {
			return fmt.Errorf("%w: leaves and cache need different directories", common.ErrConstruction)
		}
	case kv.Memory:
		if c.Persistent {
			return fmt.Errorf("%w: in-memory stores can not be persistent", common.ErrConstruction)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", common.ErrConstruction, c.Backend)
	}
	return nil
}

// openStore opens a store of the given backend. If mustExist is set, it
// fails rather than creating a new store.
func openStore(backend kv.Backend, path string, mustExist bool) (kv.Store, error) {
	switch backend {
	case kv.LevelDB:
		return ldb.Open(path, mustExist)
	case kv.Pebble:
		return pebbledb.Open(path, mustExist)
	case kv.Memory:
		if mustExist {
			return nil, fmt.Errorf("in-memory stores can not be reopened")
		}
		return memory.Create(), nil
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

// Action is the kind of update applied to a leaf.
type Action int

const (
	Insert Action = iota
	Remove
)

func (a Action) String() string {
	switch a {
	case Insert:
		return "insert"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// OperationLeaf is an update of a single leaf. Hash is set for insertions
// only.
type OperationLeaf struct {
	Coord  Coord
	Action Action
	Hash   *field.Element
}

// InsertLeaf creates an operation setting the leaf at the given index.
func InsertLeaf(idx uint64, value field.Element) OperationLeaf {
	return OperationLeaf{Coord: LeafCoord(idx), Action: Insert, Hash: &value}
}

// RemoveLeaf creates an operation clearing the leaf at the given index.
func RemoveLeaf(idx uint64) OperationLeaf {
	return OperationLeaf{Coord: LeafCoord(idx), Action: Remove}
}

func (o OperationLeaf) check(width uint64) error {
	if o.Coord.Height != 0 {
		return fmt.Errorf("%w: operation on non-leaf %v", common.ErrInvalidOperation, o.Coord)
	}
	if o.Coord.Idx >= width {
		return fmt.Errorf("%w: leaf %d, width %d", common.ErrLookup, o.Coord.Idx, width)
	}
	switch o.Action {
	case Insert:
		if o.Hash == nil {
			return fmt.Errorf("%w: insertion of leaf %d without value", common.ErrInvalidOperation, o.Coord.Idx)
		}
	case Remove:
		if o.Hash != nil {
			return fmt.Errorf("%w: removal of leaf %d with value", common.ErrInvalidOperation, o.Coord.Idx)
		}
	default:
		return fmt.Errorf("%w: unknown action %v", common.ErrInvalidOperation, o.Action)
	}
	return nil
}
