// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fieldmht/accumulator/backend/kv"
	"github.com/fieldmht/accumulator/backend/oracle"
	"github.com/fieldmht/accumulator/common/field"
	"github.com/fieldmht/accumulator/database/mht"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	poseidon2Hasher = "poseidon2"
	mimcHasher      = "mimc"
)

var (
	hasherFlag = cli.StringFlag{
		Name:  "hasher",
		Usage: "the hash function of the tree, poseidon2 or mimc",
		Value: poseidon2Hasher,
	}
	arityFlag = cli.IntFlag{
		Name:  "arity",
		Usage: "the number of children of inner nodes, mimc only",
		Value: 2,
	}
	heightFlag = cli.IntFlag{
		Name:  "height",
		Usage: "the height of the tree",
		Value: 20,
	}
	stepFlag = cli.IntFlag{
		Name:  "step",
		Usage: "the number of leaves collected before hashing starts",
		Value: 1 << 10,
	}
	rawFlag = cli.BoolFlag{
		Name:  "raw",
		Usage: "derive leaves from arbitrary lines of text instead of parsing field elements",
	}
)

var streamingFlags = []cli.Flag{&hasherFlag, &arityFlag, &heightFlag, &stepFlag, &rawFlag}

func newHasher(name string, arity int) (oracle.BatchHasher, error) {
	switch name {
	case poseidon2Hasher:
		if arity != 2 {
			return nil, fmt.Errorf("poseidon2 only supports arity 2, got %d", arity)
		}
		return oracle.NewPoseidon2(), nil
	case mimcHasher:
		return oracle.NewMiMC(arity)
	}
	return nil, fmt.Errorf("unknown hasher %q", name)
}

func hasherFromFlags(context *cli.Context) (oracle.BatchHasher, error) {
	return newHasher(context.String(hasherFlag.Name), context.Int(arityFlag.Name))
}

// readLeaves reads one leaf per non-empty line of the given file.
func readLeaves(path string, raw bool) ([]field.Element, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var res []field.Element
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if raw {
			res = append(res, field.FromBytes([]byte(text)))
			continue
		}
		leaf, err := field.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		res = append(res, leaf)
	}
	return res, scanner.Err()
}

// buildTree appends the given leaves to a fresh streaming tree and
// finalizes it.
func buildTree(context *cli.Context, log *Log, leaves []field.Element) (*mht.StreamingTree, error) {
	hasher, err := hasherFromFlags(context)
	if err != nil {
		return nil, err
	}
	height := context.Int(heightFlag.Name)
	step := context.Int(stepFlag.Name)
	if !context.IsSet(stepFlag.Name) {
		step = capacity(hasher.Arity(), height, step)
	}
	tree, err := mht.NewStreamingTree(hasher, height, step)
	if err != nil {
		return nil, err
	}
	log.Printf("appending %d leaves to a tree of height %d using %s", len(leaves), height, hasher.Name())
	progress := log.NewProgressTracker("appended %d leaves, %.2f leaves/s", 1<<20)
	for _, leaf := range leaves {
		if err := tree.Append(leaf); err != nil {
			return nil, err
		}
		progress.Step(1)
	}
	if err := tree.FinalizeInPlace(); err != nil {
		return nil, err
	}
	log.Printf("finalized tree with %d leaves", progress.GetCounter())
	return tree, nil
}

// capacity returns arity^height, saturated at limit.
func capacity(arity, height, limit int) int {
	res := 1
	for i := 0; i < height && res < limit; i++ {
		res *= arity
	}
	return min(res, limit)
}

// treeConfig is the TOML description of a durable tree.
type treeConfig struct {
	Hasher    string `toml:"hasher"`
	Arity     int    `toml:"arity"`
	Width     uint64 `toml:"width"`
	Backend   string `toml:"backend"`
	Directory string `toml:"directory"`
}

// loadTreeConfig reads a tree description. Relative directories are
// resolved against the directory of the configuration file.
func loadTreeConfig(path string, logger *zap.Logger) (mht.LazyTreeConfig, error) {
	config := treeConfig{Hasher: poseidon2Hasher, Arity: 2}
	meta, err := toml.DecodeFile(path, &config)
	if err != nil {
		return mht.LazyTreeConfig{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return mht.LazyTreeConfig{}, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}
	if config.Directory == "" {
		return mht.LazyTreeConfig{}, fmt.Errorf("missing directory in %s", path)
	}
	hasher, err := newHasher(config.Hasher, config.Arity)
	if err != nil {
		return mht.LazyTreeConfig{}, err
	}
	backend, err := kv.ParseBackend(config.Backend)
	if err != nil {
		return mht.LazyTreeConfig{}, err
	}
	if !backend.IsPersistent() {
		return mht.LazyTreeConfig{}, fmt.Errorf("backend %s can not hold a durable tree", backend)
	}
	dir := config.Directory
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(filepath.Dir(path), dir)
	}
	return mht.LazyTreeConfig{
		Hasher:     hasher,
		Width:      config.Width,
		Backend:    backend,
		LeavesPath: filepath.Join(dir, "leaves"),
		CachePath:  filepath.Join(dir, "cache"),
		Persistent: true,
		StatePath:  filepath.Join(dir, "state"),
		Logger:     logger,
	}, nil
}

// parseOperation reads an operation of the form "insert <idx> <value>" or
// "remove <idx>".
func parseOperation(text string) (mht.OperationLeaf, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return mht.OperationLeaf{}, fmt.Errorf("invalid operation %q", text)
	}
	idx, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return mht.OperationLeaf{}, fmt.Errorf("invalid leaf index %q: %w", fields[1], err)
	}
	switch {
	case fields[0] == "insert" && len(fields) == 3:
		value, err := field.Parse(fields[2])
		if err != nil {
			return mht.OperationLeaf{}, err
		}
		return mht.InsertLeaf(idx, value), nil
	case fields[0] == "remove" && len(fields) == 2:
		return mht.RemoveLeaf(idx), nil
	}
	return mht.OperationLeaf{}, fmt.Errorf("invalid operation %q", text)
}

// readOperations reads one operation per line, skipping empty lines and
// lines starting with '#'.
func readOperations(path string) ([]mht.OperationLeaf, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var res []mht.OperationLeaf
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		op, err := parseOperation(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		res = append(res, op)
	}
	return res, scanner.Err()
}

func formatElement(e field.Element) string {
	return "0x" + e.Text(16)
}
