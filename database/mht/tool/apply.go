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
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fieldmht/accumulator/common/interrupt"
	"github.com/fieldmht/accumulator/database/mht"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var ApplyCmd = cli.Command{
	Action: withLogger(apply),
	Name:   "apply",
	Usage:  "applies leaf operations to a durable tree, creating it if needed",
	Flags: []cli.Flag{
		&batchSizeFlag,
	},
	ArgsUsage: "<config> <operations>",
}

var InfoCmd = cli.Command{
	Action:    withLogger(info),
	Name:      "info",
	Usage:     "lists information about a durable tree",
	ArgsUsage: "<config>",
}

var batchSizeFlag = cli.IntFlag{
	Name:  "batch-size",
	Usage: "the number of operations processed per batch",
	Value: 1 << 12,
}

func apply(context *cli.Context, logger *zap.Logger) (err error) {
	if context.Args().Len() != 2 {
		return fmt.Errorf("expected configuration and operations file")
	}
	batchSize := context.Int(batchSizeFlag.Name)
	if batchSize <= 0 {
		return fmt.Errorf("invalid batch size %d", batchSize)
	}
	config, err := loadTreeConfig(context.Args().Get(0), logger)
	if err != nil {
		return err
	}
	ops, err := readOperations(context.Args().Get(1))
	if err != nil {
		return err
	}

	tree, err := openOrCreate(config)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, tree.Close())
	}()

	ctx := interrupt.Register(context.Context, logger)
	log := NewLog(logger)
	progress := log.NewProgressTracker("applied %d operations, %.2f operations/s", batchSize*16)
	for start := 0; start < len(ops); start += batchSize {
		if interrupt.IsCancelled(ctx) {
			log.Printf("interrupted after %d of %d operations", start, len(ops))
			return interrupt.ErrCanceled
		}
		end := min(start+batchSize, len(ops))
		if _, err := tree.ProcessLeaves(ops[start:end]); err != nil {
			return err
		}
		progress.Step(end - start)
	}
	log.Printf("applied %d operations", len(ops))
	fmt.Fprintln(context.App.Writer, formatElement(tree.Root()))
	return nil
}

// openOrCreate restores the configured tree or creates it if no state file
// exists yet.
func openOrCreate(config mht.LazyTreeConfig) (*mht.LazyTree, error) {
	_, err := os.Stat(config.StatePath)
	if errors.Is(err, fs.ErrNotExist) {
		return mht.NewLazyTree(config)
	}
	if err != nil {
		return nil, err
	}
	return mht.OpenLazyTree(config)
}

func info(context *cli.Context, logger *zap.Logger) error {
	if context.Args().Len() != 1 {
		return fmt.Errorf("missing configuration file")
	}
	config, err := loadTreeConfig(context.Args().Get(0), logger)
	if err != nil {
		return err
	}
	tree, err := mht.OpenLazyTree(config)
	if err != nil {
		return err
	}

	out := context.App.Writer
	fmt.Fprintf(out, "Directory contains a tree with the following properties:\n")
	fmt.Fprintf(out, "\tHasher:       %v\n", config.Hasher.Name())
	fmt.Fprintf(out, "\tArity:        %d\n", tree.Arity())
	fmt.Fprintf(out, "\tHeight:       %d\n", tree.Height())
	fmt.Fprintf(out, "\tWidth:        %d\n", tree.Width())
	fmt.Fprintf(out, "\tRoot:         %s\n", formatElement(tree.Root()))
	fmt.Fprintf(out, "\nMemory usage:\n%v", tree.GetMemoryFootprint())

	if err := tree.Close(); err != nil {
		return fmt.Errorf("error closing tree: %w", err)
	}
	return nil
}
