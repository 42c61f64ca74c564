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
	"errors"
	"fmt"
	"testing"

	"github.com/fieldmht/accumulator/backend/oracle"
	"github.com/fieldmht/accumulator/common"
	"github.com/fieldmht/accumulator/common/field"
	"go.uber.org/mock/gomock"
)

func TestStreamingTree_RootMatchesReferenceComputation(t *testing.T) {
	for _, hasher := range testHashers(t) {
		maxHeight := 5
		if hasher.Arity() > 2 {
			maxHeight = 3
		}
		for height := 0; height <= maxHeight; height++ {
			capacity, _ := capacityOf(hasher.Arity(), height)
			for _, step := range []int{1, 2, 3, int(capacity)} {
				if step > int(capacity) {
					continue
				}
				t.Run(fmt.Sprintf("%s/height=%d/step=%d", hasher.Name(), height, step), func(t *testing.T) {
					tree, err := NewStreamingTree(hasher, height, step)
					if err != nil {
						t.Fatalf("failed to create tree: %v", err)
					}
					for n := 0; n <= int(capacity); n++ {
						tree.Reset()
						leaves := appendLeaves(t, tree, n)
						checkRoot(t, tree, hasher, height, leaves)
					}
				})
			}
		}
	}
}

func TestStreamingTree_SingleLevelTree(t *testing.T) {
	hasher := oracle.NewPoseidon2()
	tree, err := NewStreamingTree(hasher, 1, 1)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	for _, leaf := range []field.Element{F(1), F(2)} {
		if err := tree.Append(leaf); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}
	if err := tree.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	want, err := oracle.Hash(hasher, F(1), F(2))
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	if got, ok := tree.Root(); !ok || !got.Equal(&want) {
		t.Errorf("root is not the hash of both leaves")
	}
}

func TestStreamingTree_HeightZeroTreeHoldsASingleLeaf(t *testing.T) {
	tree, err := NewStreamingTree(oracle.NewPoseidon2(), 0, 1)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	if err := tree.Append(F(42)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	if err := tree.Append(F(43)); !errors.Is(err, common.ErrCapacity) {
		t.Errorf("expected capacity error, got %v", err)
	}
	if err := tree.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	want := F(42)
	if got, ok := tree.Root(); !ok || !got.Equal(&want) {
		t.Errorf("root is not the single leaf")
	}
	path, err := tree.GetMerklePath(0)
	if err != nil {
		t.Fatalf("failed to get path: %v", err)
	}
	if path.Length() != 0 {
		t.Errorf("path of height-0 tree should be empty")
	}
}

func TestStreamingTree_AppendBeyondCapacityFails(t *testing.T) {
	tree, err := NewStreamingTree(oracle.NewPoseidon2(), 2, 2)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	appendLeaves(t, tree, 4)
	if err := tree.Append(F(5)); !errors.Is(err, common.ErrCapacity) {
		t.Errorf("expected capacity error, got %v", err)
	}
	if got := tree.Len(); got != 4 {
		t.Errorf("unexpected number of leaves: %d", got)
	}
}

func TestStreamingTree_InvalidConfigurationsAreRejected(t *testing.T) {
	hasher := oracle.NewPoseidon2()
	tests := []struct {
		height, step int
	}{
		{-1, 1},
		{MaxHeight + 1, 1},
		{64, 1},
		{58, 1},
		{40, 1},
		{28, 1},
		{3, 0},
		{3, -1},
		{3, 9},
	}
	for _, test := range tests {
		if _, err := NewStreamingTree(hasher, test.height, test.step); !errors.Is(err, common.ErrConstruction) {
			t.Errorf("height %d, step %d should be rejected, got %v", test.height, test.step, err)
		}
	}
	if _, err := NewStreamingTree(nil, 2, 1); !errors.Is(err, common.ErrConstruction) {
		t.Errorf("missing hasher should be rejected, got %v", err)
	}
	mimc, err := oracle.NewMiMC(3)
	if err != nil {
		t.Fatalf("failed to create hasher: %v", err)
	}
	if _, err := NewStreamingTree(mimc, 18, 1); !errors.Is(err, common.ErrConstruction) {
		t.Errorf("tree exceeding the node limit should be rejected, got %v", err)
	}
}

func TestStreamingTree_FinalizingTwiceYieldsSameRoot(t *testing.T) {
	tree, err := NewStreamingTree(oracle.NewPoseidon2(), 4, 3)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	appendLeaves(t, tree, 7)
	copy1, err := tree.Finalize()
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	copy2, err := tree.Finalize()
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	root1, _ := copy1.Root()
	root2, _ := copy2.Root()
	if !root1.Equal(&root2) {
		t.Errorf("finalizing twice produced different roots")
	}
	if err := copy1.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize again: %v", err)
	}
	if again, _ := copy1.Root(); !again.Equal(&root1) {
		t.Errorf("finalizing in place again changed the root")
	}
}

func TestStreamingTree_FinalizeLeavesOriginalAppendable(t *testing.T) {
	hasher := oracle.NewPoseidon2()
	tree, err := NewStreamingTree(hasher, 3, 2)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	leaves := appendLeaves(t, tree, 3)
	snapshot, err := tree.Finalize()
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	if _, ok := tree.Root(); ok {
		t.Errorf("original tree should not be finalized")
	}
	if err := tree.Append(F(100)); err != nil {
		t.Fatalf("original tree should remain appendable: %v", err)
	}
	checkRoot(t, snapshot, hasher, 3, leaves)
	checkRoot(t, tree, hasher, 3, append(leaves, F(100)))
}

func TestStreamingTree_AppendAfterFinalizeInPlaceFails(t *testing.T) {
	tree, err := NewStreamingTree(oracle.NewPoseidon2(), 3, 2)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	appendLeaves(t, tree, 3)
	if err := tree.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	if err := tree.Append(F(1)); !errors.Is(err, common.ErrCapacity) {
		t.Errorf("expected capacity error, got %v", err)
	}
}

func TestStreamingTree_ResetRestoresEmptyTree(t *testing.T) {
	hasher := oracle.NewPoseidon2()
	tree, err := NewStreamingTree(hasher, 3, 4)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	leaves := appendLeaves(t, tree, 5)
	if err := tree.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	first, _ := tree.Root()

	tree.Reset()
	if _, ok := tree.Root(); ok {
		t.Errorf("reset tree should not be finalized")
	}
	if got := tree.Len(); got != 0 {
		t.Errorf("reset tree should have no leaves, got %d", got)
	}
	checkRoot(t, tree, hasher, 3, nil)

	tree.Reset()
	for _, leaf := range leaves {
		if err := tree.Append(leaf); err != nil {
			t.Fatalf("failed to append: %v", err)
		}
	}
	if err := tree.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	if second, _ := tree.Root(); !second.Equal(&first) {
		t.Errorf("same leaves after reset produced a different root")
	}
}

func TestStreamingTree_ZeroValueIsEmpty(t *testing.T) {
	var tree StreamingTree
	if err := tree.FinalizeInPlace(); !errors.Is(err, common.ErrEmptyTree) {
		t.Errorf("expected empty tree error, got %v", err)
	}
	if _, err := tree.Finalize(); !errors.Is(err, common.ErrEmptyTree) {
		t.Errorf("expected empty tree error, got %v", err)
	}
	if err := tree.Append(F(1)); !errors.Is(err, common.ErrCapacity) {
		t.Errorf("expected capacity error, got %v", err)
	}
	if _, ok := tree.Root(); ok {
		t.Errorf("zero value tree should have no root")
	}
}

func TestStreamingTree_EmptySubtreesAreNotHashed(t *testing.T) {
	hasher := &countingHasher{BatchHasher: oracle.NewPoseidon2()}
	tree, err := NewStreamingTree(hasher, 6, 8)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	hasher.reset()
	if err := tree.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	if hasher.calls != 0 {
		t.Errorf("finalizing an empty tree should not use the oracle, got %d calls", hasher.calls)
	}

	tree.Reset()
	hasher.reset()
	appendLeaves(t, tree, 1)
	if err := tree.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	if hasher.groups != 6 {
		t.Errorf("a single leaf should require one hash per level, got %d", hasher.groups)
	}
}

func TestStreamingTree_OracleIsCalledOncePerLevelAndBatch(t *testing.T) {
	hasher := &countingHasher{BatchHasher: oracle.NewPoseidon2()}
	tree, err := NewStreamingTree(hasher, 4, 16)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	hasher.reset()
	appendLeaves(t, tree, 16)
	if hasher.calls != 4 {
		t.Errorf("expected one oracle call per level, got %d", hasher.calls)
	}
	if hasher.groups != 15 {
		t.Errorf("expected 15 hashed groups, got %d", hasher.groups)
	}
}

func TestStreamingTree_MerklePathsVerify(t *testing.T) {
	for _, hasher := range testHashers(t) {
		t.Run(hasher.Name(), func(t *testing.T) {
			const height = 3
			tree, err := NewStreamingTree(hasher, height, 2)
			if err != nil {
				t.Fatalf("failed to create tree: %v", err)
			}
			leaves := appendLeaves(t, tree, 5)
			if err := tree.FinalizeInPlace(); err != nil {
				t.Fatalf("failed to finalize: %v", err)
			}
			root, _ := tree.Root()
			for i := 0; i < tree.Capacity(); i++ {
				leaf := field.Zero()
				if i < len(leaves) {
					leaf = leaves[i]
				}
				path, err := tree.GetMerklePath(uint64(i))
				if err != nil {
					t.Fatalf("failed to get path: %v", err)
				}
				if got := path.LeafIndex(); got != uint64(i) {
					t.Errorf("path of leaf %d reports index %d", i, got)
				}
				if ok, err := path.Verify(hasher, height, leaf, root); err != nil || !ok {
					t.Errorf("path of leaf %d does not verify: %v", i, err)
				}
				if ok, _ := path.Verify(hasher, height, F(999), root); ok {
					t.Errorf("path of leaf %d verifies a wrong leaf", i)
				}
				for s := range path.Steps {
					for j := range path.Steps[s].Siblings {
						original := path.Steps[s].Siblings[j]
						path.Steps[s].Siblings[j] = F(12345)
						if ok, _ := path.Verify(hasher, height, leaf, root); ok {
							t.Errorf("path of leaf %d verifies with corrupted sibling %d/%d", i, s, j)
						}
						path.Steps[s].Siblings[j] = original
					}
				}
			}
		})
	}
}

func TestStreamingTree_PathPositionsIdentifyBorderLeaves(t *testing.T) {
	hasher := oracle.NewPoseidon2()
	zeros, err := NewZeroTable(hasher, 3)
	if err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	tree, err := NewStreamingTree(hasher, 3, 1)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	appendLeaves(t, tree, 5)
	if err := tree.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	for i := 0; i < 8; i++ {
		path, err := tree.GetMerklePath(uint64(i))
		if err != nil {
			t.Fatalf("failed to get path: %v", err)
		}
		if got, want := path.IsLeftmost(), i == 0; got != want {
			t.Errorf("leaf %d: IsLeftmost = %t", i, got)
		}
		if got, want := path.IsRightmost(), i == 7; got != want {
			t.Errorf("leaf %d: IsRightmost = %t", i, got)
		}
		if i < 5 {
			if got, want := path.IsNonEmptyRightmost(zeros), i == 4; got != want {
				t.Errorf("leaf %d: IsNonEmptyRightmost = %t", i, got)
			}
		}
	}
}

func TestStreamingTree_PathsRequireFinalizedTree(t *testing.T) {
	tree, err := NewStreamingTree(oracle.NewPoseidon2(), 2, 1)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	if _, err := tree.GetMerklePath(0); !errors.Is(err, common.ErrNotFinalized) {
		t.Errorf("expected not finalized error, got %v", err)
	}
	if err := tree.FinalizeInPlace(); err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	if _, err := tree.GetMerklePath(4); !errors.Is(err, common.ErrLookup) {
		t.Errorf("expected lookup error, got %v", err)
	}
}

func TestStreamingTree_OracleFailureMakesTreeUnusable(t *testing.T) {
	ctrl := gomock.NewController(t)
	hasher := oracle.NewMockBatchHasher(ctrl)
	injected := fmt.Errorf("injected")
	poseidon := oracle.NewPoseidon2()
	hasher.EXPECT().Arity().Return(2).AnyTimes()
	gomock.InOrder(
		hasher.EXPECT().HashBatch(gomock.Any(), gomock.Any()).DoAndReturn(poseidon.HashBatch).Times(2),
		hasher.EXPECT().HashBatch(gomock.Any(), gomock.Any()).Return(injected),
	)

	tree, err := NewStreamingTree(hasher, 2, 2)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	if err := tree.Append(F(1)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	err = tree.Append(F(2))
	if !errors.Is(err, common.ErrOracle) || !errors.Is(err, injected) {
		t.Errorf("expected oracle error, got %v", err)
	}
	if err := tree.Append(F(3)); !errors.Is(err, common.ErrUnusable) {
		t.Errorf("expected unusable error, got %v", err)
	}
	if err := tree.FinalizeInPlace(); !errors.Is(err, common.ErrUnusable) {
		t.Errorf("expected unusable error, got %v", err)
	}
}

func TestStreamingTree_FootprintCoversNodes(t *testing.T) {
	tree, err := NewStreamingTree(oracle.NewPoseidon2(), 4, 1)
	if err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	footprint := tree.GetMemoryFootprint()
	if want := uintptr(31 * field.Size); footprint.Total() < want {
		t.Errorf("footprint %d smaller than node array of %d bytes", footprint.Total(), want)
	}
}

func appendLeaves(t *testing.T, tree *StreamingTree, n int) []field.Element {
	t.Helper()
	leaves := make([]field.Element, n)
	for i := range leaves {
		leaves[i] = F(uint64(i*31 + 1))
		if err := tree.Append(leaves[i]); err != nil {
			t.Fatalf("failed to append leaf %d: %v", i, err)
		}
	}
	return leaves
}

func checkRoot(t *testing.T, tree *StreamingTree, hasher oracle.BatchHasher, height int, leaves []field.Element) {
	t.Helper()
	finalized, err := tree.Finalize()
	if err != nil {
		t.Fatalf("failed to finalize: %v", err)
	}
	got, ok := finalized.Root()
	if !ok {
		t.Fatalf("finalized tree has no root")
	}
	want, err := ComputeRoot(hasher, height, leaves)
	if err != nil {
		t.Fatalf("failed to compute reference root: %v", err)
	}
	if !got.Equal(&want) {
		t.Errorf("root of %d leaves differs from reference", len(leaves))
	}
}
