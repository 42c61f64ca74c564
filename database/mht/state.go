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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"slices"

	"github.com/fieldmht/accumulator/common"
	"github.com/fieldmht/accumulator/common/field"
)

const (
	stateMagic   = "FMHT"
	stateVersion = 1
)

// treeState is the part of a LazyTree that is not kept in its stores and
// needs to be saved in a control file to restore the tree later.
type treeState struct {
	arity   int
	hasher  string
	width   uint64
	root    field.Element
	present map[Coord]struct{}
}

// MarshalBinary encodes the state in big-endian byte order, listing present
// nodes sorted by height and index.
func (s *treeState) MarshalBinary() ([]byte, error) {
	if s.arity > 255 || len(s.hasher) > 255 {
		return nil, fmt.Errorf("arity %d or hasher name %q not encodable", s.arity, s.hasher)
	}
	var buffer bytes.Buffer
	buffer.WriteString(stateMagic)
	buffer.WriteByte(stateVersion)
	buffer.WriteByte(byte(s.arity))
	buffer.WriteByte(byte(len(s.hasher)))
	buffer.WriteString(s.hasher)
	buffer.Write(binary.BigEndian.AppendUint64(nil, s.width))
	buffer.Write(field.Encode(&s.root))
	buffer.Write(binary.BigEndian.AppendUint64(nil, uint64(len(s.present))))
	for _, coord := range slices.SortedFunc(maps.Keys(s.present), compareCoords) {
		buffer.WriteByte(coord.Height)
		buffer.Write(binary.BigEndian.AppendUint64(nil, coord.Idx))
	}
	return buffer.Bytes(), nil
}

func (s *treeState) UnmarshalBinary(data []byte) error {
	reader := bytes.NewReader(data)
	header := make([]byte, len(stateMagic)+3)
	if _, err := io.ReadFull(reader, header); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if string(header[:len(stateMagic)]) != stateMagic {
		return fmt.Errorf("invalid magic number")
	}
	if version := header[len(stateMagic)]; version != stateVersion {
		return fmt.Errorf("unsupported state version %d", version)
	}
	arity := int(header[len(stateMagic)+1])
	name := make([]byte, header[len(stateMagic)+2])
	if _, err := io.ReadFull(reader, name); err != nil {
		return fmt.Errorf("failed to read hasher name: %w", err)
	}

	var width, count uint64
	if err := binary.Read(reader, binary.BigEndian, &width); err != nil {
		return fmt.Errorf("failed to read width: %w", err)
	}
	encodedRoot := make([]byte, field.Size)
	if _, err := io.ReadFull(reader, encodedRoot); err != nil {
		return fmt.Errorf("failed to read root: %w", err)
	}
	root, err := field.Decode(encodedRoot)
	if err != nil {
		return fmt.Errorf("invalid root: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return fmt.Errorf("failed to read number of present nodes: %w", err)
	}
	if rest := uint64(reader.Len()); rest%9 != 0 || count != rest/9 {
		return fmt.Errorf("expected %d present nodes, found %d bytes", count, reader.Len())
	}

	present := make(map[Coord]struct{}, count)
	entry := make([]byte, 9)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(reader, entry); err != nil {
			return fmt.Errorf("failed to read present node %d: %w", i, err)
		}
		present[Coord{Height: entry[0], Idx: binary.BigEndian.Uint64(entry[1:])}] = struct{}{}
	}

	*s = treeState{
		arity:   arity,
		hasher:  string(name),
		width:   width,
		root:    root,
		present: present,
	}
	return nil
}

// readState loads the state stored in the given file.
func readState(path string) (*treeState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	res := &treeState{}
	if err := res.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%w: invalid state file %s: %w", common.ErrConsistency, path, err)
	}
	return res, nil
}

// writeState stores the state in the given file. The file is replaced
// atomically such that a crash leaves either the old or the new state.
func writeState(path string, state *treeState) error {
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	tmp := path + "~tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	return nil
}

// dirtyMarker is the file signaling that the stores of the tree associated
// with the given state file may not match its content.
func dirtyMarker(statePath string) string {
	return statePath + "~dirty"
}

func markDirty(statePath string) error {
	return os.WriteFile(dirtyMarker(statePath), []byte{}, 0600)
}

func markClean(statePath string) error {
	if err := os.Remove(dirtyMarker(statePath)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func isDirty(statePath string) (bool, error) {
	_, err := os.Stat(dirtyMarker(statePath))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
