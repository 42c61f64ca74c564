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

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
	"github.com/fieldmht/accumulator/common/field"
)

const (
	poseidon2Width         = 2
	poseidon2FullRounds    = 6
	poseidon2PartialRounds = 50
)

// Poseidon2 is a binary BatchHasher based on the Poseidon2 permutation of
// width 2 over the BN254 scalar field. A pair (l, r) is compressed into
// P(l, r)[1] + r, the feed-forward construction used by gnark for Merkle
// trees, making the digests reproducible inside circuits.
type Poseidon2 struct {
	permutation *poseidon2.Permutation
}

// NewPoseidon2 creates a Poseidon2 based hasher of arity 2.
func NewPoseidon2() *Poseidon2 {
	return &Poseidon2{
		permutation: poseidon2.NewPermutation(poseidon2Width, poseidon2FullRounds, poseidon2PartialRounds),
	}
}

func (h *Poseidon2) Name() string {
	return "poseidon2-bn254-t2"
}

func (h *Poseidon2) Arity() int {
	return poseidon2Width
}

func (h *Poseidon2) HashBatch(in []field.Element, out []field.Element) error {
	return EvaluateParallel(poseidon2Width, in, out, h.hashChunk)
}

func (h *Poseidon2) hashChunk(in, out []field.Element) error {
	var state [poseidon2Width]field.Element
	for i := range out {
		state[0], state[1] = in[2*i], in[2*i+1]
		if err := h.permutation.Permutation(state[:]); err != nil {
			return err
		}
		out[i].Add(&state[1], &in[2*i+1])
	}
	return nil
}
