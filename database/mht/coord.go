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
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Coord addresses a node of a tree by its height above the leaf level and
// its index within that level, counted from the left.
type Coord struct {
	Height uint8
	Idx    uint64
}

// LeafCoord is the coordinate of the leaf with the given index.
func LeafCoord(idx uint64) Coord {
	return Coord{Height: 0, Idx: idx}
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.Height, c.Idx)
}

// Parent returns the coordinate of the node the given node is a child of.
func (c Coord) Parent(arity int) Coord {
	return Coord{Height: c.Height + 1, Idx: c.Idx / uint64(arity)}
}

// Child returns the i-th child of a non-leaf node.
func (c Coord) Child(arity, i int) Coord {
	return Coord{Height: c.Height - 1, Idx: c.Idx*uint64(arity) + uint64(i)}
}

// Children returns all children of a non-leaf node in order.
func (c Coord) Children(arity int) []Coord {
	res := make([]Coord, arity)
	for i := range res {
		res[i] = c.Child(arity, i)
	}
	return res
}

// Position is the position of the node among its siblings.
func (c Coord) Position(arity int) int {
	return int(c.Idx % uint64(arity))
}

// compareCoords orders coordinates by height first and index second.
func compareCoords(a, b Coord) int {
	if a.Height != b.Height {
		if a.Height < b.Height {
			return -1
		}
		return 1
	}
	if a.Idx < b.Idx {
		return -1
	}
	if a.Idx > b.Idx {
		return 1
	}
	return 0
}

const (
	leafKeySize  = 8
	cacheKeySize = 9
)

// leafKey is the key of a leaf in the leaf store.
func leafKey(idx uint64) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, leafKeySize), idx)
}

// cacheKey is the key of an inner node in the cache store.
func cacheKey(c Coord) []byte {
	res := make([]byte, 1, cacheKeySize)
	res[0] = c.Height
	return binary.BigEndian.AppendUint64(res, c.Idx)
}

// capacityOf computes arity^height, reporting whether it fits in 64 bits.
func capacityOf(arity, height int) (uint64, bool) {
	res := uint64(1)
	for i := 0; i < height; i++ {
		hi, lo := bits.Mul64(res, uint64(arity))
		if hi != 0 {
			return 0, false
		}
		res = lo
	}
	return res, true
}

// heightOf returns the height h with arity^h == width, reporting whether
// such a height exists.
func heightOf(arity int, width uint64) (int, bool) {
	if arity < 2 || width == 0 {
		return 0, false
	}
	height := 0
	for width > 1 {
		if width%uint64(arity) != 0 {
			return 0, false
		}
		width /= uint64(arity)
		height++
	}
	return height, true
}
