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
	"io/fs"
	"os"
	"time"
	"unsafe"

	"github.com/fieldmht/accumulator/backend/kv"
	"github.com/fieldmht/accumulator/backend/oracle"
	"github.com/fieldmht/accumulator/common"
	"github.com/fieldmht/accumulator/common/field"
	"go.uber.org/zap"
)

// LazyTree is a sparse accumulator over a large, fixed number of leaf slots.
// Leaves are kept in one store and inner nodes with all children present in
// a second, cache store. Inner nodes of partially populated subtrees are
// recomputed on demand. Which nodes cover at least one leaf is tracked in
// memory and saved in a control file when a persistent tree is closed.
//
// Updates are applied in batches. Only the ancestors of updated leaves are
// recomputed, with a single oracle call per level.
//
// A LazyTree is not safe for concurrent use.
type LazyTree struct {
	hasher oracle.BatchHasher
	arity  int
	height int
	zeros  *ZeroTable

	backend    kv.Backend
	leavesPath string
	cachePath  string
	statePath  string
	persistent bool

	leaves kv.Store
	cache  kv.Store
	lock   common.LockFile

	state     treeState
	pathCache map[Coord]field.Element

	log     *zap.Logger
	failure error
	closed  bool
}

// NewLazyTree creates an empty tree in fresh stores.
func NewLazyTree(config LazyTreeConfig) (*LazyTree, error) {
	if config.Persistent != (config.StatePath != "") {
		return nil, fmt.Errorf("%w: a state path is required exactly for persistent trees", common.ErrConstruction)
	}
	if err := config.checkStores(); err != nil {
		return nil, err
	}
	tree, err := newLazyTree(config, config.Width)
	if err != nil {
		return nil, err
	}
	if config.StatePath != "" {
		exists, err := fileExists(config.StatePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
		}
		if exists {
			return nil, fmt.Errorf("%w: state file %s exists, restore the tree instead", common.ErrConstruction, config.StatePath)
		}
	}
	if err := tree.open(false); err != nil {
		return nil, err
	}
	tree.log.Info("created tree",
		zap.Uint64("width", tree.state.width),
		zap.Int("height", tree.height),
		zap.String("hasher", tree.state.hasher),
		zap.Bool("persistent", tree.persistent),
	)
	return tree, nil
}

// OpenLazyTree restores a tree from the state file and stores left behind by
// closing a persistent tree. Trees that were not closed properly can not be
// restored.
func OpenLazyTree(config LazyTreeConfig) (*LazyTree, error) {
	if config.StatePath == "" {
		return nil, fmt.Errorf("%w: missing state path", common.ErrConstruction)
	}
	if config.backend() == kv.Memory {
		return nil, fmt.Errorf("%w: in-memory stores can not be restored", common.ErrConstruction)
	}
	if err := config.checkStores(); err != nil {
		return nil, err
	}
	if config.Hasher == nil {
		return nil, fmt.Errorf("%w: missing hasher", common.ErrConstruction)
	}

	dirty, err := isDirty(config.StatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	if dirty {
		return nil, fmt.Errorf("%w: stores of %s were not closed properly", common.ErrConsistency, config.StatePath)
	}
	state, err := readState(config.StatePath)
	if err != nil {
		if errors.Is(err, common.ErrConsistency) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrStorage, err)
	}
	if state.arity != config.Hasher.Arity() || state.hasher != config.Hasher.Name() {
		return nil, fmt.Errorf("%w: tree was built using %s of arity %d, got %s of arity %d",
			common.ErrConstruction, state.hasher, state.arity, config.Hasher.Name(), config.Hasher.Arity())
	}
	if config.Width != 0 && config.Width != state.width {
		return nil, fmt.Errorf("%w: tree has width %d, expected %d", common.ErrConstruction, state.width, config.Width)
	}

	tree, err := newLazyTree(config, state.width)
	if err != nil {
		return nil, errors.Join(common.ErrConsistency, err)
	}
	tree.state.root = state.root
	tree.state.present = state.present
	if err := tree.open(true); err != nil {
		return nil, err
	}
	tree.log.Info("restored tree",
		zap.Uint64("width", tree.state.width),
		zap.Int("present", len(tree.state.present)),
		zap.String("state", tree.statePath),
	)
	return tree, nil
}

// newLazyTree creates an empty tree without any stores attached.
func newLazyTree(config LazyTreeConfig, width uint64) (*LazyTree, error) {
	if config.Hasher == nil {
		return nil, fmt.Errorf("%w: missing hasher", common.ErrConstruction)
	}
	arity := config.Hasher.Arity()
	height, ok := heightOf(arity, width)
	if !ok || height == 0 {
		return nil, fmt.Errorf("%w: width %d is not a power of arity %d", common.ErrConstruction, width, arity)
	}
	zeros, err := NewZeroTable(config.Hasher, height)
	if err != nil {
		return nil, err
	}
	return &LazyTree{
		hasher:     config.Hasher,
		arity:      arity,
		height:     height,
		zeros:      zeros,
		backend:    config.backend(),
		leavesPath: config.LeavesPath,
		cachePath:  config.CachePath,
		statePath:  config.StatePath,
		persistent: config.Persistent,
		state: treeState{
			arity:   arity,
			hasher:  config.Hasher.Name(),
			width:   width,
			root:    zeros.At(height),
			present: map[Coord]struct{}{},
		},
		pathCache: map[Coord]field.Element{},
		log:       config.logger(),
	}, nil
}

// open locks the state file, attaches the stores and flags them as dirty.
func (t *LazyTree) open(mustExist bool) (err error) {
	var cleanup []func() error
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				err = errors.Join(err, cleanup[i]())
			}
		}
	}()

	if t.statePath != "" {
		lock, err := common.LockSibling(t.statePath)
		if err != nil {
			return fmt.Errorf("%w: tree is in use: %w", common.ErrStorage, err)
		}
		t.lock = lock
		cleanup = append(cleanup, lock.Release)
	}
	leaves, err := openStore(t.backend, t.leavesPath, mustExist)
	if err != nil {
		return fmt.Errorf("%w: leaves: %w", common.ErrStorage, err)
	}
	cleanup = append(cleanup, leaves.Close)
	cache, err := openStore(t.backend, t.cachePath, mustExist)
	if err != nil {
		return fmt.Errorf("%w: cache: %w", common.ErrStorage, err)
	}
	cleanup = append(cleanup, cache.Close)
	if t.statePath != "" {
		if err := markDirty(t.statePath); err != nil {
			return fmt.Errorf("%w: %w", common.ErrStorage, err)
		}
	}
	t.leaves, t.cache = leaves, cache
	return nil
}

// ProcessLeaves applies a batch of leaf operations and returns the new root.
// If the same leaf is updated more than once, the last operation wins. The
// batch is rejected as a whole if any operation is invalid.
func (t *LazyTree) ProcessLeaves(ops []OperationLeaf) (field.Element, error) {
	if err := t.checkUsable(); err != nil {
		return field.Element{}, err
	}
	for _, op := range ops {
		if err := op.check(t.state.width); err != nil {
			return field.Element{}, err
		}
	}
	if len(ops) == 0 {
		return t.state.root, nil
	}

	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()
	defer func() { clear(t.pathCache) }()

	root, err := t.processLeaves(ops)
	if err != nil {
		t.failure = err
		t.log.Error("failed to process leaves", zap.Int("operations", len(ops)), zap.Error(err))
		return field.Element{}, err
	}
	t.state.root = root
	return root, nil
}

func (t *LazyTree) processLeaves(ops []OperationLeaf) (field.Element, error) {
	frontiers := t.frontiers(ops)
	if err := t.writeLeaves(ops); err != nil {
		return field.Element{}, err
	}
	for l := 1; l <= t.height; l++ {
		if err := t.updateLevel(l, frontiers[l-1]); err != nil {
			return field.Element{}, err
		}
	}
	root, found := t.pathCache[Coord{Height: uint8(t.height)}]
	if !found {
		return field.Element{}, fmt.Errorf("%w: root not updated", common.ErrConsistency)
	}
	return root, nil
}

// frontiers lists per level, starting with level 1, the distinct ancestors
// of the updated leaves in order of first appearance.
func (t *LazyTree) frontiers(ops []OperationLeaf) [][]Coord {
	res := make([][]Coord, t.height)
	level := make([]Coord, len(ops))
	for i, op := range ops {
		level[i] = op.Coord
	}
	seen := map[Coord]struct{}{}
	for l := range res {
		clear(seen)
		var next []Coord
		for _, c := range level {
			parent := c.Parent(t.arity)
			if _, found := seen[parent]; !found {
				seen[parent] = struct{}{}
				next = append(next, parent)
			}
		}
		res[l] = next
		level = next
	}
	return res
}

// writeLeaves applies the leaf updates to the leaf store in a single batch.
func (t *LazyTree) writeLeaves(ops []OperationLeaf) error {
	last := make(map[uint64]int, len(ops))
	for i, op := range ops {
		last[op.Coord.Idx] = i
	}
	batch := t.leaves.NewBatch()
	for i, op := range ops {
		if last[op.Coord.Idx] != i {
			continue
		}
		if op.Action == Insert {
			batch.Put(leafKey(op.Coord.Idx), field.Encode(op.Hash))
		} else {
			batch.Delete(leafKey(op.Coord.Idx))
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("%w: failed to write leaves: %w", common.ErrStorage, err)
	}
	for i, op := range ops {
		if last[op.Coord.Idx] != i {
			continue
		}
		t.setPresent(op.Coord, op.Action == Insert)
	}
	return nil
}

// updateLevel recomputes the given nodes of level l using a single oracle
// call and updates the cache store. Nodes with all children present are
// cached, all others are evicted.
func (t *LazyTree) updateLevel(l int, nodes []Coord) error {
	in := make([]field.Element, len(nodes)*t.arity)
	full := make([]bool, len(nodes))
	for i, c := range nodes {
		present := 0
		for j := 0; j < t.arity; j++ {
			child := c.Child(t.arity, j)
			value, found, err := t.childValue(child)
			if err != nil {
				return err
			}
			in[i*t.arity+j] = value
			if found {
				present++
			}
		}
		t.setPresent(c, present > 0)
		full[i] = present == t.arity
	}

	out := make([]field.Element, len(nodes))
	if err := hashBatch(lazyEngine, t.hasher, in, out); err != nil {
		return fmt.Errorf("%w: level %d: %w", common.ErrOracle, l, err)
	}

	batch := t.cache.NewBatch()
	for i, c := range nodes {
		t.pathCache[c] = out[i]
		if full[i] {
			batch.Put(cacheKey(c), field.Encode(&out[i]))
			continue
		}
		t.evict(batch, c)
		if l == 2 {
			for _, child := range c.Children(t.arity) {
				if !t.allChildrenPresent(child) {
					t.evict(batch, child)
				}
			}
		}
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("%w: failed to update cache at level %d: %w", common.ErrStorage, l, err)
	}
	return nil
}

// childValue fetches the value of a child of a node being updated. Leaves are
// read from the leaf store, inner nodes taken from the values computed by the
// current batch or looked up otherwise. The second result reports whether
// the child is present.
func (t *LazyTree) childValue(c Coord) (field.Element, bool, error) {
	if c.Height == 0 {
		value, found, err := t.readLeaf(c.Idx)
		if err != nil || !found {
			return t.zeros.At(0), false, err
		}
		return value, true, nil
	}
	present := t.isPresent(c)
	if value, found := t.pathCache[c]; found {
		return value, present, nil
	}
	value, err := t.node(c)
	return value, present, err
}

func (t *LazyTree) evict(batch kv.Batch, c Coord) {
	batch.Delete(cacheKey(c))
	cacheEvictions.Inc()
}

func (t *LazyTree) allChildrenPresent(c Coord) bool {
	for j := 0; j < t.arity; j++ {
		if !t.isPresent(c.Child(t.arity, j)) {
			return false
		}
	}
	return true
}

func (t *LazyTree) isPresent(c Coord) bool {
	_, found := t.state.present[c]
	return found
}

func (t *LazyTree) setPresent(c Coord, present bool) {
	if present {
		t.state.present[c] = struct{}{}
	} else {
		delete(t.state.present, c)
	}
}

func (t *LazyTree) readLeaf(idx uint64) (field.Element, bool, error) {
	data, found, err := t.leaves.Get(leafKey(idx))
	if err != nil {
		return field.Element{}, false, fmt.Errorf("%w: failed to read leaf %d: %w", common.ErrStorage, idx, err)
	}
	if !found {
		return field.Element{}, false, nil
	}
	value, err := field.Decode(data)
	if err != nil {
		return field.Element{}, false, fmt.Errorf("%w: leaf %d: %w", common.ErrConsistency, idx, err)
	}
	return value, true, nil
}

// node resolves the value of a node: the empty subtree value for nodes not
// present, the stored value for leaves and cached nodes, and a recomputation
// from its children otherwise.
func (t *LazyTree) node(c Coord) (field.Element, error) {
	if !t.isPresent(c) {
		return t.zeros.At(int(c.Height)), nil
	}
	if c.Height == 0 {
		value, found, err := t.readLeaf(c.Idx)
		if err != nil {
			return field.Element{}, err
		}
		if !found {
			return field.Element{}, fmt.Errorf("%w: present leaf %d missing in store", common.ErrConsistency, c.Idx)
		}
		return value, nil
	}

	data, found, err := t.cache.Get(cacheKey(c))
	if err != nil {
		return field.Element{}, fmt.Errorf("%w: failed to read node %v: %w", common.ErrStorage, c, err)
	}
	if found {
		cacheLookups.WithLabelValues("hit").Inc()
		value, err := field.Decode(data)
		if err != nil {
			return field.Element{}, fmt.Errorf("%w: node %v: %w", common.ErrConsistency, c, err)
		}
		return value, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	in := make([]field.Element, t.arity)
	for j := range in {
		if in[j], err = t.node(c.Child(t.arity, j)); err != nil {
			return field.Element{}, err
		}
	}
	out := make([]field.Element, 1)
	if err := hashBatch(lazyEngine, t.hasher, in, out); err != nil {
		return field.Element{}, fmt.Errorf("%w: node %v: %w", common.ErrOracle, c, err)
	}
	return out[0], nil
}

// Node returns the value of the node at the given coordinate.
func (t *LazyTree) Node(c Coord) (field.Element, error) {
	if err := t.checkUsable(); err != nil {
		return field.Element{}, err
	}
	if err := t.checkCoord(c); err != nil {
		return field.Element{}, err
	}
	return t.node(c)
}

func (t *LazyTree) checkCoord(c Coord) error {
	if int(c.Height) > t.height {
		return fmt.Errorf("%w: height %d exceeds tree height %d", common.ErrLookup, c.Height, t.height)
	}
	levelWidth, _ := capacityOf(t.arity, t.height-int(c.Height))
	if c.Idx >= levelWidth {
		return fmt.Errorf("%w: index %d, level width %d", common.ErrLookup, c.Idx, levelWidth)
	}
	return nil
}

// GetMerklePath produces the inclusion proof of a leaf slot. Paths of empty
// slots prove the empty leaf.
func (t *LazyTree) GetMerklePath(leafIdx uint64) (*MerklePath, error) {
	if err := t.checkUsable(); err != nil {
		return nil, err
	}
	if leafIdx >= t.state.width {
		return nil, fmt.Errorf("%w: leaf %d, width %d", common.ErrLookup, leafIdx, t.state.width)
	}
	steps := make([]PathStep, t.height)
	c := LeafCoord(leafIdx)
	for l := range steps {
		pos := c.Position(t.arity)
		parent := c.Parent(t.arity)
		siblings := make([]field.Element, 0, t.arity-1)
		for j := 0; j < t.arity; j++ {
			if j == pos {
				continue
			}
			value, err := t.node(parent.Child(t.arity, j))
			if err != nil {
				return nil, err
			}
			siblings = append(siblings, value)
		}
		steps[l] = PathStep{Siblings: siblings, Position: pos}
		c = parent
	}
	return NewMerklePath(steps), nil
}

// IsLeafEmpty reports whether no value is stored at the given leaf slot.
func (t *LazyTree) IsLeafEmpty(idx uint64) (bool, error) {
	if err := t.checkUsable(); err != nil {
		return false, err
	}
	if idx >= t.state.width {
		return false, fmt.Errorf("%w: leaf %d, width %d", common.ErrLookup, idx, t.state.width)
	}
	return !t.isPresent(LeafCoord(idx)), nil
}

// Root returns the root after the last processed batch.
func (t *LazyTree) Root() field.Element {
	return t.state.root
}

func (t *LazyTree) Height() int {
	return t.height
}

func (t *LazyTree) Arity() int {
	return t.arity
}

// Width is the number of leaf slots.
func (t *LazyTree) Width() uint64 {
	return t.state.width
}

// IsPersistent reports whether the tree will be kept when closed.
func (t *LazyTree) IsPersistent() bool {
	return t.persistent
}

// SetPersistent changes whether the tree is kept or deleted when closed.
// Only trees with a state file can be made persistent.
func (t *LazyTree) SetPersistent(persistent bool) error {
	if persistent && (t.statePath == "" || t.backend == kv.Memory) {
		return fmt.Errorf("%w: tree has no state file", common.ErrConstruction)
	}
	t.persistent = persistent
	return nil
}

func (t *LazyTree) checkUsable() error {
	if t.closed {
		return fmt.Errorf("%w: tree is closed", common.ErrUnusable)
	}
	if t.failure != nil {
		return fmt.Errorf("%w: %w", common.ErrUnusable, t.failure)
	}
	return nil
}

// Close releases the tree. Persistent trees save their state and keep their
// stores for a later restore. All other trees delete their stores and state
// file; failures doing so are logged but not reported.
func (t *LazyTree) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	clear(t.pathCache)
	if t.persistent {
		return t.closePersistent()
	}
	t.closeEphemeral()
	return nil
}

func (t *LazyTree) closePersistent() error {
	var errs []error
	if t.failure == nil {
		if err := writeState(t.statePath, &t.state); err != nil {
			errs = append(errs, fmt.Errorf("%w: failed to write state: %w", common.ErrStorage, err))
		}
	} else {
		t.log.Warn("tree state not saved after failure", zap.String("state", t.statePath), zap.Error(t.failure))
		errs = append(errs, fmt.Errorf("%w: state not saved: %w", common.ErrUnusable, t.failure))
	}
	if err := errors.Join(t.leaves.Close(), t.cache.Close()); err != nil {
		errs = append(errs, fmt.Errorf("%w: failed to close stores: %w", common.ErrStorage, err))
	}
	if len(errs) == 0 {
		if err := markClean(t.statePath); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", common.ErrStorage, err))
		}
	}
	if t.lock != nil {
		if err := t.lock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", common.ErrStorage, err))
		}
	}
	return errors.Join(errs...)
}

func (t *LazyTree) closeEphemeral() {
	if err := t.leaves.Close(); err != nil {
		t.log.Warn("failed to close leaf store", zap.Error(err))
	}
	if err := t.cache.Close(); err != nil {
		t.log.Warn("failed to close cache store", zap.Error(err))
	}
	if t.backend != kv.Memory {
		for _, dir := range []string{t.leavesPath, t.cachePath} {
			if err := os.RemoveAll(dir); err != nil {
				t.log.Warn("failed to delete store", zap.String("dir", dir), zap.Error(err))
			}
		}
	}
	if t.statePath != "" {
		if err := os.Remove(t.statePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.log.Warn("failed to delete tree state", zap.String("state", t.statePath), zap.Error(err))
		}
		if err := markClean(t.statePath); err != nil {
			t.log.Warn("failed to delete dirty marker", zap.String("state", t.statePath), zap.Error(err))
		}
	}
	if t.lock != nil {
		if err := t.lock.Release(); err != nil {
			t.log.Warn("failed to release lock", zap.Error(err))
		}
	}
}

func (t *LazyTree) GetMemoryFootprint() *common.MemoryFootprint {
	entry := unsafe.Sizeof(Coord{}) + unsafe.Sizeof(struct{}{})
	mf := common.NewMemoryFootprint(unsafe.Sizeof(*t))
	mf.AddChild("present", common.NewMemoryFootprint(uintptr(len(t.state.present))*entry))
	mf.AddChild("zeros", common.NewMemoryFootprint(uintptr(t.height+1)*unsafe.Sizeof(field.Element{})))
	if provider, ok := t.leaves.(common.MemoryFootprintProvider); ok {
		mf.AddChild("leaves", provider.GetMemoryFootprint())
	}
	if provider, ok := t.cache.(common.MemoryFootprintProvider); ok {
		mf.AddChild("cache", provider.GetMemoryFootprint())
	}
	return mf
}
