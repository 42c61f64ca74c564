// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package oracle

//go:generate mockgen -source oracle.go -destination oracle_mocks.go -package oracle

import (
	"fmt"
	"runtime"

	"github.com/fieldmht/accumulator/common/field"
	"golang.org/x/sync/errgroup"
)

// BatchHasher is the hash primitive of the accumulator trees. It compresses
// groups of Arity() field elements into a single element and is able to
// process many such groups at once.
//
// Implementations must be pure and deterministic: the output of a group must
// not depend on the other groups of the same batch.
type BatchHasher interface {
	// Name identifies the hash function. It is recorded in persisted tree
	// state to reject restoring a tree with a different hash function.
	Name() string
	// Arity is the number of elements consumed per group.
	Arity() int
	// HashBatch hashes consecutive groups of Arity() elements of in and
	// writes one digest per group to out, preserving the input order.
	// It fails if len(in) != Arity()*len(out).
	HashBatch(in []field.Element, out []field.Element) error
}

// Hash hashes a single group of children using the given hasher.
func Hash(hasher BatchHasher, children ...field.Element) (field.Element, error) {
	var out [1]field.Element
	if err := hasher.HashBatch(children, out[:]); err != nil {
		return field.Element{}, err
	}
	return out[0], nil
}

// CheckBatch verifies that the input and output of a batch are consistent
// with the given arity.
func CheckBatch(arity int, in, out []field.Element) error {
	if arity < 2 {
		return fmt.Errorf("invalid arity %d", arity)
	}
	if len(in) != arity*len(out) {
		return fmt.Errorf("batch of %d elements does not match %d outputs of arity %d", len(in), len(out), arity)
	}
	return nil
}

// minGroupsPerWorker is the smallest number of groups handed to a worker.
// Smaller batches are processed by the calling goroutine.
const minGroupsPerWorker = 256

// EvaluateParallel splits a batch into group-aligned chunks and processes
// them concurrently using the given function. The result is independent of
// the partitioning since groups are hashed independently.
func EvaluateParallel(arity int, in, out []field.Element, hashChunk func(in, out []field.Element) error) error {
	if err := CheckBatch(arity, in, out); err != nil {
		return err
	}
	groups := len(out)
	workers := runtime.GOMAXPROCS(0)
	if groups < 2*minGroupsPerWorker || workers < 2 {
		return hashChunk(in, out)
	}
	chunk := (groups + workers - 1) / workers
	if chunk < minGroupsPerWorker {
		chunk = minGroupsPerWorker
	}

	var group errgroup.Group
	for from := 0; from < groups; from += chunk {
		to := min(from+chunk, groups)
		group.Go(func() error {
			return hashChunk(in[from*arity:to*arity], out[from:to])
		})
	}
	return group.Wait()
}
