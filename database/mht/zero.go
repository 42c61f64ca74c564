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

	"github.com/fieldmht/accumulator/backend/oracle"
	"github.com/fieldmht/accumulator/common"
	"github.com/fieldmht/accumulator/common/field"
)

// MaxHeight is the largest supported tree height.
const MaxHeight = 64

// ZeroTable lists the value of empty subtrees per height. Entry 0 is the
// empty leaf, the zero element of the field, and every further entry is the
// hash of arity copies of the entry below.
type ZeroTable struct {
	values []field.Element
}

// NewZeroTable computes the empty subtree values for heights 0 to height,
// using a single oracle call per level.
func NewZeroTable(hasher oracle.BatchHasher, height int) (*ZeroTable, error) {
	if hasher == nil {
		return nil, fmt.Errorf("%w: missing hasher", common.ErrConstruction)
	}
	if height < 0 || height > MaxHeight {
		return nil, fmt.Errorf("%w: height %d not in [0,%d]", common.ErrConstruction, height, MaxHeight)
	}
	values := make([]field.Element, height+1)
	in := make([]field.Element, hasher.Arity())
	for i := 0; i < height; i++ {
		for j := range in {
			in[j] = values[i]
		}
		if err := hasher.HashBatch(in, values[i+1:i+2]); err != nil {
			return nil, fmt.Errorf("%w: %w: empty subtree of height %d: %v", common.ErrConstruction, common.ErrOracle, i+1, err)
		}
	}
	return &ZeroTable{values: values}, nil
}

// At returns the value of an empty subtree of the given height.
func (z *ZeroTable) At(height int) field.Element {
	return z.values[height]
}

func (z *ZeroTable) Height() int {
	return len(z.values) - 1
}

// isEmptyGroup reports whether all elements equal the empty value of the
// given height.
func (z *ZeroTable) isEmptyGroup(height int, group []field.Element) bool {
	zero := &z.values[height]
	for i := range group {
		if !group[i].Equal(zero) {
			return false
		}
	}
	return true
}
