// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package field provides the finite field elements forming leaves and nodes
// of the accumulator trees, together with their canonical byte encoding.
//
// Elements are members of the scalar field of the BN254 curve, the native
// field of the Groth16/PLONK circuits consuming the produced proofs.
package field

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/sha3"
)

// Element is a single field element.
type Element = fr.Element

// Size is the length of the canonical encoding of an Element in bytes.
const Size = fr.Bytes

// Zero returns the additive identity, which is also the value of an empty leaf.
func Zero() Element {
	return Element{}
}

// FromUint64 converts a small integer into a field element.
func FromUint64(v uint64) Element {
	var e Element
	e.SetUint64(v)
	return e
}

// Encode produces the canonical big-endian encoding of the given element.
func Encode(e *Element) []byte {
	b := e.Bytes()
	return b[:]
}

// Decode parses a canonical encoding produced by Encode. Non-canonical
// encodings, i.e. values not reduced by the field modulus, are rejected.
func Decode(data []byte) (Element, error) {
	var e Element
	if len(data) != Size {
		return e, fmt.Errorf("invalid field element encoding length %d, expected %d", len(data), Size)
	}
	if err := e.SetBytesCanonical(data); err != nil {
		return e, fmt.Errorf("invalid field element encoding: %w", err)
	}
	return e, nil
}

// Parse reads a field element from its decimal or 0x-prefixed hexadecimal
// representation.
func Parse(s string) (Element, error) {
	var e Element
	if _, err := e.SetString(s); err != nil {
		return e, fmt.Errorf("invalid field element %q: %w", s, err)
	}
	return e, nil
}

// FromBytes maps arbitrary data to a field element by reducing its
// Keccak256 digest modulo the field order.
func FromBytes(data []byte) Element {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(data)
	var e Element
	e.SetBytes(hasher.Sum(nil))
	return e
}
