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

// ComputeRoot computes the root of a tree of the given height holding the
// given leaves in its leftmost slots, all other slots being empty. It
// recomputes every non-empty node and serves as a reference for the
// incremental trees.
func ComputeRoot(hasher oracle.BatchHasher, height int, leaves []field.Element) (field.Element, error) {
	zeros, err := NewZeroTable(hasher, height)
	if err != nil {
		return field.Element{}, err
	}
	arity := hasher.Arity()
	if capacity, ok := capacityOf(arity, height); ok && uint64(len(leaves)) > capacity {
		return field.Element{}, fmt.Errorf("%w: %d leaves exceed capacity %d", common.ErrCapacity, len(leaves), capacity)
	}

	level := make([]field.Element, len(leaves))
	copy(level, leaves)
	for h := 0; h < height && len(level) > 0; h++ {
		groups := (len(level) + arity - 1) / arity
		for len(level) < groups*arity {
			level = append(level, zeros.At(h))
		}
		next := make([]field.Element, groups)
		if err := hasher.HashBatch(level, next); err != nil {
			return field.Element{}, fmt.Errorf("%w: level %d: %w", common.ErrOracle, h, err)
		}
		level = next
	}
	if len(level) == 0 {
		return zeros.At(height), nil
	}
	return level[0], nil
}
