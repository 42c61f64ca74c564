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

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// MemoryFootprintProvider is implemented by structures able to report their
// in-memory size.
type MemoryFootprintProvider interface {
	GetMemoryFootprint() *MemoryFootprint
}

// MemoryFootprint describes the memory consumption of a tree structure and
// its components.
type MemoryFootprint struct {
	value    uintptr
	children map[string]*MemoryFootprint
}

// NewMemoryFootprint creates a new MemoryFootprint for a structure
// consuming value bytes, excluding its components.
func NewMemoryFootprint(value uintptr) *MemoryFootprint {
	return &MemoryFootprint{
		value:    value,
		children: map[string]*MemoryFootprint{},
	}
}

// AddChild attaches the footprint of a named component.
func (mf *MemoryFootprint) AddChild(name string, child *MemoryFootprint) {
	if child == nil {
		return
	}
	mf.children[name] = child
}

// Value provides the bytes consumed by the structure excluding its components.
func (mf *MemoryFootprint) Value() uintptr {
	return mf.value
}

// Total provides the bytes consumed by the structure including all of its
// components. Components reachable over multiple paths are counted once.
func (mf *MemoryFootprint) Total() uintptr {
	return mf.total(map[*MemoryFootprint]bool{})
}

func (mf *MemoryFootprint) total(seen map[*MemoryFootprint]bool) uintptr {
	if seen[mf] {
		return 0
	}
	seen[mf] = true
	sum := mf.value
	for _, child := range mf.children {
		sum += child.total(seen)
	}
	return sum
}

// String lists the totals of all components in post order, children sorted
// by name, e.g. "  64.0 KB ./leaves".
func (mf *MemoryFootprint) String() string {
	var sb strings.Builder
	mf.print(&sb, ".", map[*MemoryFootprint]bool{})
	return sb.String()
}

func (mf *MemoryFootprint) print(sb *strings.Builder, path string, seen map[*MemoryFootprint]bool) {
	if seen[mf] {
		return
	}
	seen[mf] = true
	for _, name := range slices.Sorted(maps.Keys(mf.children)) {
		mf.children[name].print(sb, path+"/"+name, seen)
	}
	sb.WriteString(formatBytes(mf.Total()))
	sb.WriteRune(' ')
	sb.WriteString(path)
	sb.WriteRune('\n')
}

func formatBytes(bytes uintptr) string {
	const unit = 1024
	const prefixes = " KMGTPE"
	value, exp := float64(bytes), 0
	for value >= unit && exp+1 < len(prefixes) {
		value /= unit
		exp++
	}
	return fmt.Sprintf("%6.1f %cB", value, prefixes[exp])
}
