// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

// ConstError is a error type that can be used to define immutable
// error constants.
type ConstError string

func (e ConstError) Error() string {
	return string(e)
}

// Error categories shared by the accumulator engines. Errors returned by the
// trees wrap at least one of those, so callers may dispatch on them using
// errors.Is.
const (
	// ErrConstruction signals an invalid height, processing step, width or
	// configuration at construction time.
	ErrConstruction = ConstError("invalid tree configuration")
	// ErrCapacity signals an append to a tree whose leaf slots are exhausted.
	ErrCapacity = ConstError("tree capacity exhausted")
	// ErrLookup signals an index outside of the addressable range.
	ErrLookup = ConstError("index out of range")
	// ErrStorage signals a failing key-value store or file operation.
	ErrStorage = ConstError("storage failure")
	// ErrConsistency signals a violated invariant, typically a node expected
	// to be present but missing from its store.
	ErrConsistency = ConstError("inconsistent tree state")
	// ErrEmptyTree is returned when finalizing a tree without leaf slots.
	ErrEmptyTree = ConstError("tree has no leaf slots")
	// ErrNotFinalized is returned by reads requiring a finalized tree.
	ErrNotFinalized = ConstError("tree is not finalized")
	// ErrInvalidOperation signals a malformed leaf operation.
	ErrInvalidOperation = ConstError("invalid leaf operation")
	// ErrOracle signals a failing batch hash evaluation.
	ErrOracle = ConstError("hash oracle failure")
	// ErrInvalidPath signals a malformed Merkle path.
	ErrInvalidPath = ConstError("malformed merkle path")
	// ErrUnusable is returned by trees that failed during an earlier call.
	ErrUnusable = ConstError("tree is unusable after an earlier failure")
)
