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
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/fieldmht/accumulator/common/field"
)

// MiMC is a BatchHasher of configurable arity absorbing each group of
// children into a MiMC sponge (Miyaguchi-Preneel mode) over BN254.
type MiMC struct {
	arity int
}

// NewMiMC creates a MiMC based hasher for trees of the given arity.
func NewMiMC(arity int) (*MiMC, error) {
	if arity < 2 {
		return nil, fmt.Errorf("invalid arity %d, must be at least 2", arity)
	}
	return &MiMC{arity: arity}, nil
}

func (h *MiMC) Name() string {
	return fmt.Sprintf("mimc-bn254-a%d", h.arity)
}

func (h *MiMC) Arity() int {
	return h.arity
}

func (h *MiMC) HashBatch(in []field.Element, out []field.Element) error {
	return EvaluateParallel(h.arity, in, out, h.hashChunk)
}

func (h *MiMC) hashChunk(in, out []field.Element) error {
	hasher := mimc.NewMiMC()
	for i := range out {
		hasher.Reset()
		for j := 0; j < h.arity; j++ {
			if _, err := hasher.Write(field.Encode(&in[i*h.arity+j])); err != nil {
				return err
			}
		}
		out[i].SetBytes(hasher.Sum(nil))
	}
	return nil
}
