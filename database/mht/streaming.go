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
	"math"
	"unsafe"

	"github.com/fieldmht/accumulator/backend/oracle"
	"github.com/fieldmht/accumulator/common"
	"github.com/fieldmht/accumulator/common/field"
)

// StreamingTree is an append-only accumulator of fixed height. Leaves are
// appended left to right and inner nodes are computed in batches, one oracle
// call per level, whenever enough leaves are pending. The root is only
// available after the tree got finalized.
//
// All levels are kept in a single slice, the leaves first and the root last.
// A StreamingTree is not safe for concurrent use.
type StreamingTree struct {
	hasher  oracle.BatchHasher
	arity   int
	height  int
	step    int
	zeros   *ZeroTable
	nodes   []field.Element
	cursors levelCursors

	appended  int
	root      field.Element
	finalized bool
	failure   error
}

// levelCursors tracks per level the slice of the node array the level
// occupies and how far it has been populated and hashed. For every level
// initial <= processed <= newElem <= final holds.
type levelCursors struct {
	initial   []int // first slot of the level
	final     []int // first slot after the level
	processed []int // first slot not yet consumed by the level above
	newElem   []int // next slot to be populated
}

// MaxStreamingNodes bounds the number of nodes, over all levels, a
// StreamingTree keeps in memory. With 32-byte elements this is 8 GiB.
const MaxStreamingNodes = 1 << 28

// NewStreamingTree creates an empty tree of the given height. Whenever
// processingStep leaves are pending, their ancestors are computed. Trees
// needing more than MaxStreamingNodes nodes are rejected.
func NewStreamingTree(hasher oracle.BatchHasher, height int, processingStep int) (*StreamingTree, error) {
	zeros, err := NewZeroTable(hasher, height)
	if err != nil {
		return nil, err
	}
	arity := hasher.Arity()
	capacity, ok := capacityOf(arity, height)
	if !ok || capacity > math.MaxInt/uint64(arity) {
		return nil, fmt.Errorf("%w: %d^%d leaves exceed addressable range", common.ErrConstruction, arity, height)
	}
	if processingStep < 1 || uint64(processingStep) > capacity {
		return nil, fmt.Errorf("%w: processing step %d not in [1,%d]", common.ErrConstruction, processingStep, capacity)
	}

	nodes := uint64(0)
	for width := capacity; ; width /= uint64(arity) {
		nodes += width
		if width == 1 {
			break
		}
	}
	if nodes > MaxStreamingNodes {
		return nil, fmt.Errorf("%w: height %d needs %d nodes, at most %d are supported",
			common.ErrConstruction, height, nodes, MaxStreamingNodes)
	}

	cursors := levelCursors{
		initial:   make([]int, height+1),
		final:     make([]int, height+1),
		processed: make([]int, height+1),
		newElem:   make([]int, height+1),
	}
	size := 0
	width := int(capacity)
	for l := 0; l <= height; l++ {
		cursors.initial[l] = size
		size += width
		cursors.final[l] = size
		width /= arity
	}
	tree := &StreamingTree{
		hasher:  hasher,
		arity:   arity,
		height:  height,
		step:    processingStep,
		zeros:   zeros,
		nodes:   make([]field.Element, size),
		cursors: cursors,
	}
	tree.resetCursors()
	return tree, nil
}

func (t *StreamingTree) resetCursors() {
	copy(t.cursors.processed, t.cursors.initial)
	copy(t.cursors.newElem, t.cursors.initial)
}

// Append adds a leaf at the next free slot.
func (t *StreamingTree) Append(leaf field.Element) error {
	if t.failure != nil {
		return fmt.Errorf("%w: %w", common.ErrUnusable, t.failure)
	}
	c := &t.cursors
	if len(t.nodes) == 0 || c.newElem[0] == c.final[0] {
		return fmt.Errorf("%w: all %d leaf slots are in use", common.ErrCapacity, t.Capacity())
	}
	t.nodes[c.newElem[0]] = leaf
	c.newElem[0]++
	t.appended++
	if c.newElem[0] == c.final[0] || c.newElem[0]-c.processed[0] >= t.step {
		return t.computeSubtree()
	}
	return nil
}

// computeSubtree hashes, level by level, all complete groups of populated
// but unprocessed slots into the level above. It stops at the first level
// with less than arity pending slots.
func (t *StreamingTree) computeSubtree() error {
	c := &t.cursors
	for l := 0; l < t.height; l++ {
		groups := (c.newElem[l] - c.processed[l]) / t.arity
		if groups == 0 {
			break
		}
		in := t.nodes[c.processed[l] : c.processed[l]+groups*t.arity]
		out := t.nodes[c.newElem[l+1] : c.newElem[l+1]+groups]
		if err := t.hashLevel(l, in, out); err != nil {
			t.failure = err
			return err
		}
		c.processed[l] += groups * t.arity
		c.newElem[l+1] += groups
	}
	return nil
}

// hashLevel computes the parents of the given groups of level l. Groups
// consisting of empty subtrees only are resolved from the zero table.
func (t *StreamingTree) hashLevel(l int, in, out []field.Element) error {
	var pending []int
	for i := range out {
		if !t.zeros.isEmptyGroup(l, in[i*t.arity:(i+1)*t.arity]) {
			pending = append(pending, i)
		}
	}
	if skipped := len(out) - len(pending); skipped > 0 {
		skippedEmptyGroups.Add(float64(skipped))
	}
	switch {
	case len(pending) == len(out):
		if err := hashBatch(streamingEngine, t.hasher, in, out); err != nil {
			return fmt.Errorf("%w: level %d: %w", common.ErrOracle, l, err)
		}
		return nil
	case len(pending) == 0:
		for i := range out {
			out[i] = t.zeros.At(l + 1)
		}
		return nil
	}

	groupIn := make([]field.Element, 0, len(pending)*t.arity)
	for _, i := range pending {
		groupIn = append(groupIn, in[i*t.arity:(i+1)*t.arity]...)
	}
	groupOut := make([]field.Element, len(pending))
	if err := hashBatch(streamingEngine, t.hasher, groupIn, groupOut); err != nil {
		return fmt.Errorf("%w: level %d: %w", common.ErrOracle, l, err)
	}
	for i := range out {
		out[i] = t.zeros.At(l + 1)
	}
	for j, i := range pending {
		out[i] = groupOut[j]
	}
	return nil
}

// FinalizeInPlace computes all remaining nodes, treating unused leaf slots as
// empty, and makes the root available. Further appends are rejected until
// the tree is reset.
func (t *StreamingTree) FinalizeInPlace() error {
	if len(t.nodes) == 0 {
		return common.ErrEmptyTree
	}
	if t.failure != nil {
		return fmt.Errorf("%w: %w", common.ErrUnusable, t.failure)
	}
	if t.finalized {
		return nil
	}
	t.cursors.newElem[0] = t.cursors.final[0]
	if err := t.computeSubtree(); err != nil {
		return err
	}
	t.root = t.nodes[len(t.nodes)-1]
	t.finalized = true
	return nil
}

// Finalize produces a finalized copy of the tree, leaving the receiver
// appendable.
func (t *StreamingTree) Finalize() (*StreamingTree, error) {
	if len(t.nodes) == 0 {
		return nil, common.ErrEmptyTree
	}
	res := t.clone()
	if err := res.FinalizeInPlace(); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *StreamingTree) clone() *StreamingTree {
	res := *t
	res.nodes = make([]field.Element, len(t.nodes))
	copy(res.nodes, t.nodes)
	res.cursors = levelCursors{
		initial:   t.cursors.initial,
		final:     t.cursors.final,
		processed: append([]int(nil), t.cursors.processed...),
		newElem:   append([]int(nil), t.cursors.newElem...),
	}
	return &res
}

// Reset removes all leaves, retaining the allocated node array.
func (t *StreamingTree) Reset() {
	clear(t.nodes)
	t.resetCursors()
	t.appended = 0
	t.root = field.Element{}
	t.finalized = false
	t.failure = nil
}

// Root returns the root of a finalized tree. The second result is false if
// the tree is not finalized.
func (t *StreamingTree) Root() (field.Element, bool) {
	return t.root, t.finalized
}

// GetMerklePath produces the inclusion proof of a leaf slot of a finalized
// tree. Paths of unused slots prove the empty leaf.
func (t *StreamingTree) GetMerklePath(leafIndex uint64) (*MerklePath, error) {
	if !t.finalized {
		return nil, common.ErrNotFinalized
	}
	if leafIndex >= uint64(t.Capacity()) {
		return nil, fmt.Errorf("%w: leaf %d, capacity %d", common.ErrLookup, leafIndex, t.Capacity())
	}
	steps := make([]PathStep, t.height)
	idx := int(leafIndex)
	for l := range steps {
		pos := idx % t.arity
		first := t.cursors.initial[l] + idx - pos
		siblings := make([]field.Element, 0, t.arity-1)
		for j := 0; j < t.arity; j++ {
			if j != pos {
				siblings = append(siblings, t.nodes[first+j])
			}
		}
		steps[l] = PathStep{Siblings: siblings, Position: pos}
		idx /= t.arity
	}
	return NewMerklePath(steps), nil
}

func (t *StreamingTree) Height() int {
	return t.height
}

func (t *StreamingTree) Arity() int {
	return t.arity
}

// Capacity is the number of leaf slots.
func (t *StreamingTree) Capacity() int {
	if len(t.nodes) == 0 {
		return 0
	}
	return t.cursors.final[0] - t.cursors.initial[0]
}

// Len is the number of appended leaves.
func (t *StreamingTree) Len() int {
	return t.appended
}

func (t *StreamingTree) GetMemoryFootprint() *common.MemoryFootprint {
	mf := common.NewMemoryFootprint(unsafe.Sizeof(*t))
	mf.AddChild("nodes", common.NewMemoryFootprint(uintptr(cap(t.nodes))*unsafe.Sizeof(field.Element{})))
	mf.AddChild("cursors", common.NewMemoryFootprint(4*uintptr(t.height+1)*unsafe.Sizeof(int(0))))
	if t.zeros != nil {
		mf.AddChild("zeros", common.NewMemoryFootprint(uintptr(len(t.zeros.values))*unsafe.Sizeof(field.Element{})))
	}
	return mf
}
