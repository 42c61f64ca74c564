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
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fieldmht/accumulator/backend/oracle"
	"github.com/fieldmht/accumulator/common"
	"github.com/fieldmht/accumulator/common/field"
)

// PathStep is one level of a Merkle path: the siblings of the node on the
// path, in order, and the position of the node among them.
type PathStep struct {
	Siblings []field.Element
	Position int
}

// MerklePath is an inclusion proof for a leaf. Steps are ordered from the
// leaf level up to the children of the root.
type MerklePath struct {
	Steps []PathStep
}

// NewMerklePath creates a path from the given steps.
func NewMerklePath(steps []PathStep) *MerklePath {
	return &MerklePath{Steps: steps}
}

// Length is the number of steps, equal to the height of the tree the path
// was produced by.
func (p *MerklePath) Length() int {
	return len(p.Steps)
}

// LeafIndex is the index of the leaf the path is proving, reconstructed from
// the positions of the steps.
func (p *MerklePath) LeafIndex() uint64 {
	res := uint64(0)
	for i := len(p.Steps) - 1; i >= 0; i-- {
		arity := uint64(len(p.Steps[i].Siblings) + 1)
		res = res*arity + uint64(p.Steps[i].Position)
	}
	return res
}

// IsLeftmost reports whether the path belongs to the first leaf.
func (p *MerklePath) IsLeftmost() bool {
	for _, step := range p.Steps {
		if step.Position != 0 {
			return false
		}
	}
	return true
}

// IsRightmost reports whether the path belongs to the last leaf slot.
func (p *MerklePath) IsRightmost() bool {
	for _, step := range p.Steps {
		if step.Position != len(step.Siblings) {
			return false
		}
	}
	return true
}

// IsNonEmptyRightmost reports whether all leaves to the right of the proven
// leaf are empty, as is the case for the last appended leaf of an append-only
// tree. It must not be called for paths of empty leaves.
func (p *MerklePath) IsNonEmptyRightmost(zeros *ZeroTable) bool {
	if zeros.Height() < len(p.Steps) {
		return false
	}
	for height, step := range p.Steps {
		if step.Position < len(step.Siblings) && !zeros.isEmptyGroup(height, step.Siblings[step.Position:]) {
			return false
		}
	}
	return true
}

// ComputeRoot hashes the given leaf up along the path.
func (p *MerklePath) ComputeRoot(hasher oracle.BatchHasher, leaf field.Element) (field.Element, error) {
	arity := hasher.Arity()
	in := make([]field.Element, arity)
	out := make([]field.Element, 1)
	cur := leaf
	for i, step := range p.Steps {
		if len(step.Siblings) != arity-1 {
			return field.Element{}, fmt.Errorf("%w: step %d has %d siblings, expected %d", common.ErrInvalidPath, i, len(step.Siblings), arity-1)
		}
		if step.Position < 0 || step.Position >= arity {
			return field.Element{}, fmt.Errorf("%w: step %d has position %d for arity %d", common.ErrInvalidPath, i, step.Position, arity)
		}
		copy(in, step.Siblings[:step.Position])
		in[step.Position] = cur
		copy(in[step.Position+1:], step.Siblings[step.Position:])
		if err := hasher.HashBatch(in, out); err != nil {
			return field.Element{}, fmt.Errorf("%w: %w", common.ErrOracle, err)
		}
		cur = out[0]
	}
	return cur, nil
}

// Verify checks that the path proves the inclusion of the given leaf in a
// tree of the given height and root.
func (p *MerklePath) Verify(hasher oracle.BatchHasher, height int, leaf, root field.Element) (bool, error) {
	if len(p.Steps) != height {
		return false, fmt.Errorf("%w: path of length %d for tree of height %d", common.ErrInvalidPath, len(p.Steps), height)
	}
	return p.VerifyWithoutLengthCheck(hasher, leaf, root)
}

// VerifyWithoutLengthCheck checks that hashing the leaf along the path
// yields the given root, regardless of the path length.
func (p *MerklePath) VerifyWithoutLengthCheck(hasher oracle.BatchHasher, leaf, root field.Element) (bool, error) {
	got, err := p.ComputeRoot(hasher, leaf)
	if err != nil {
		return false, err
	}
	return got.Equal(&root), nil
}

func (p *MerklePath) Equal(other *MerklePath) bool {
	if len(p.Steps) != len(other.Steps) {
		return false
	}
	for i := range p.Steps {
		a, b := &p.Steps[i], &other.Steps[i]
		if a.Position != b.Position || len(a.Siblings) != len(b.Siblings) {
			return false
		}
		for j := range a.Siblings {
			if !a.Siblings[j].Equal(&b.Siblings[j]) {
				return false
			}
		}
	}
	return true
}

// MarshalBinary encodes the path as its step count, followed by each step's
// sibling count, siblings and position. Counts and positions use one byte,
// siblings their canonical big-endian encoding.
func (p *MerklePath) MarshalBinary() ([]byte, error) {
	if len(p.Steps) > 255 {
		return nil, fmt.Errorf("%w: too many steps: %d", common.ErrInvalidPath, len(p.Steps))
	}
	var buffer bytes.Buffer
	buffer.WriteByte(byte(len(p.Steps)))
	for i, step := range p.Steps {
		if len(step.Siblings) > 255 || step.Position < 0 || step.Position > 255 {
			return nil, fmt.Errorf("%w: step %d can not be encoded", common.ErrInvalidPath, i)
		}
		buffer.WriteByte(byte(len(step.Siblings)))
		for j := range step.Siblings {
			buffer.Write(field.Encode(&step.Siblings[j]))
		}
		buffer.WriteByte(byte(step.Position))
	}
	return buffer.Bytes(), nil
}

func (p *MerklePath) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)
	length, err := reader.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: missing length: %v", common.ErrInvalidPath, err)
	}
	steps := make([]PathStep, length)
	buffer := make([]byte, field.Size)
	for i := range steps {
		count, err := reader.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: step %d: %v", common.ErrInvalidPath, i, err)
		}
		siblings := make([]field.Element, count)
		for j := range siblings {
			if _, err := io.ReadFull(reader, buffer); err != nil {
				return fmt.Errorf("%w: step %d sibling %d: %v", common.ErrInvalidPath, i, j, err)
			}
			if siblings[j], err = field.Decode(buffer); err != nil {
				return fmt.Errorf("%w: step %d sibling %d: %v", common.ErrInvalidPath, i, j, err)
			}
		}
		position, err := reader.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: step %d: %v", common.ErrInvalidPath, i, err)
		}
		steps[i] = PathStep{Siblings: siblings, Position: int(position)}
	}
	if reader.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", common.ErrInvalidPath, reader.Len())
	}
	p.Steps = steps
	return nil
}

type jsonPathStep struct {
	Siblings []hexutil.Bytes `json:"siblings"`
	Position int             `json:"position"`
}

type jsonPath struct {
	Steps []jsonPathStep `json:"steps"`
}

func (p *MerklePath) MarshalJSON() ([]byte, error) {
	res := jsonPath{Steps: make([]jsonPathStep, len(p.Steps))}
	for i, step := range p.Steps {
		siblings := make([]hexutil.Bytes, len(step.Siblings))
		for j := range step.Siblings {
			siblings[j] = field.Encode(&step.Siblings[j])
		}
		res.Steps[i] = jsonPathStep{Siblings: siblings, Position: step.Position}
	}
	return json.Marshal(res)
}

func (p *MerklePath) UnmarshalJSON(data []byte) error {
	var in jsonPath
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidPath, err)
	}
	steps := make([]PathStep, len(in.Steps))
	for i, step := range in.Steps {
		siblings := make([]field.Element, len(step.Siblings))
		for j, sibling := range step.Siblings {
			var err error
			if siblings[j], err = field.Decode(sibling); err != nil {
				return fmt.Errorf("%w: step %d sibling %d: %v", common.ErrInvalidPath, i, j, err)
			}
		}
		steps[i] = PathStep{Siblings: siblings, Position: step.Position}
	}
	p.Steps = steps
	return nil
}
