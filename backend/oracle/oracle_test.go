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
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/fieldmht/accumulator/common/field"
)

func allHashers(t *testing.T) []BatchHasher {
	t.Helper()
	res := []BatchHasher{NewPoseidon2()}
	for _, arity := range []int{2, 3, 4} {
		h, err := NewMiMC(arity)
		if err != nil {
			t.Fatalf("failed to create MiMC hasher: %v", err)
		}
		res = append(res, h)
	}
	return res
}

func elements(n int) []field.Element {
	res := make([]field.Element, n)
	for i := range res {
		res[i] = field.FromUint64(uint64(i*7 + 1))
	}
	return res
}

func TestBatchHasher_BatchMatchesSingleHashes(t *testing.T) {
	for _, hasher := range allHashers(t) {
		t.Run(hasher.Name(), func(t *testing.T) {
			arity := hasher.Arity()
			const groups = 17
			in := elements(groups * arity)
			out := make([]field.Element, groups)
			if err := hasher.HashBatch(in, out); err != nil {
				t.Fatalf("failed to hash batch: %v", err)
			}
			for i := 0; i < groups; i++ {
				single, err := Hash(hasher, in[i*arity:(i+1)*arity]...)
				if err != nil {
					t.Fatalf("failed to hash group %d: %v", i, err)
				}
				if !single.Equal(&out[i]) {
					t.Errorf("group %d differs between batch and single evaluation", i)
				}
			}
		})
	}
}

func TestBatchHasher_IsDeterministicAndOrderSensitive(t *testing.T) {
	for _, hasher := range allHashers(t) {
		t.Run(hasher.Name(), func(t *testing.T) {
			in := elements(hasher.Arity())
			a, err := Hash(hasher, in...)
			if err != nil {
				t.Fatalf("failed to hash: %v", err)
			}
			b, err := Hash(hasher, in...)
			if err != nil {
				t.Fatalf("failed to hash: %v", err)
			}
			if !a.Equal(&b) {
				t.Errorf("hashing is not deterministic")
			}
			in[0], in[1] = in[1], in[0]
			c, err := Hash(hasher, in...)
			if err != nil {
				t.Fatalf("failed to hash: %v", err)
			}
			if a.Equal(&c) {
				t.Errorf("swapping children should change the digest")
			}
		})
	}
}

func TestBatchHasher_LargeBatchesAreIndependentOfPartitioning(t *testing.T) {
	for _, hasher := range allHashers(t) {
		t.Run(hasher.Name(), func(t *testing.T) {
			arity := hasher.Arity()
			groups := 4*minGroupsPerWorker + 3
			in := elements(groups * arity)
			parallel := make([]field.Element, groups)
			if err := hasher.HashBatch(in, parallel); err != nil {
				t.Fatalf("failed to hash batch: %v", err)
			}
			for _, size := range []int{1, 5, 64} {
				for from := 0; from < groups; from += size {
					to := min(from+size, groups)
					part := make([]field.Element, to-from)
					if err := hasher.HashBatch(in[from*arity:to*arity], part); err != nil {
						t.Fatalf("failed to hash partial batch: %v", err)
					}
					for i := range part {
						if !part[i].Equal(&parallel[from+i]) {
							t.Fatalf("group %d differs for partition size %d", from+i, size)
						}
					}
				}
			}
		})
	}
}

func TestBatchHasher_MismatchingBatchIsRejected(t *testing.T) {
	for _, hasher := range allHashers(t) {
		t.Run(hasher.Name(), func(t *testing.T) {
			in := elements(hasher.Arity() + 1)
			out := make([]field.Element, 1)
			if err := hasher.HashBatch(in, out); err == nil {
				t.Errorf("misaligned batch should be rejected")
			}
		})
	}
}

func TestMiMC_InvalidArityIsRejected(t *testing.T) {
	for _, arity := range []int{-1, 0, 1} {
		if _, err := NewMiMC(arity); err == nil {
			t.Errorf("arity %d should be rejected", arity)
		}
	}
}

func TestEvaluateParallel_PropagatesErrors(t *testing.T) {
	groups := 8 * minGroupsPerWorker
	in := elements(groups * 2)
	out := make([]field.Element, groups)
	injected := fmt.Errorf("injected")
	calls := atomic.Int32{}
	err := EvaluateParallel(2, in, out, func(in, out []field.Element) error {
		if calls.Add(1) == 1 {
			return injected
		}
		return nil
	})
	if !errors.Is(err, injected) {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestEvaluateParallel_ChunksAreGroupAligned(t *testing.T) {
	const arity = 3
	groups := 5*minGroupsPerWorker + 11
	in := elements(groups * arity)
	out := make([]field.Element, groups)
	covered := atomic.Int64{}
	err := EvaluateParallel(arity, in, out, func(in, out []field.Element) error {
		if len(in) != arity*len(out) {
			return fmt.Errorf("misaligned chunk: %d inputs for %d outputs", len(in), len(out))
		}
		covered.Add(int64(len(out)))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := covered.Load(); got != int64(groups) {
		t.Errorf("chunks cover %d groups, wanted %d", got, groups)
	}
}
