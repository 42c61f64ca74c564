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
	"fmt"

	"github.com/fieldmht/accumulator/common/field"
	"github.com/fieldmht/accumulator/database/mht"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var RootCmd = cli.Command{
	Action:    withLogger(root),
	Name:      "root",
	Usage:     "computes the root of a tree holding the leaves listed in a file",
	Flags:     streamingFlags,
	ArgsUsage: "<leaves>",
}

var VerifyRootCmd = cli.Command{
	Action:    withLogger(verifyRoot),
	Name:      "verify-root",
	Usage:     "checks the root of a tree against a full recomputation",
	Flags:     streamingFlags,
	ArgsUsage: "<leaves> <root>",
}

func root(context *cli.Context, logger *zap.Logger) error {
	if context.Args().Len() != 1 {
		return fmt.Errorf("missing leaves file")
	}
	leaves, err := readLeaves(context.Args().Get(0), context.Bool(rawFlag.Name))
	if err != nil {
		return err
	}
	tree, err := buildTree(context, NewLog(logger), leaves)
	if err != nil {
		return err
	}
	res, _ := tree.Root()
	fmt.Fprintln(context.App.Writer, formatElement(res))
	return nil
}

func verifyRoot(context *cli.Context, logger *zap.Logger) error {
	if context.Args().Len() != 2 {
		return fmt.Errorf("expected leaves file and root")
	}
	leaves, err := readLeaves(context.Args().Get(0), context.Bool(rawFlag.Name))
	if err != nil {
		return err
	}
	want, err := field.Parse(context.Args().Get(1))
	if err != nil {
		return err
	}

	log := NewLog(logger)
	tree, err := buildTree(context, log, leaves)
	if err != nil {
		return err
	}
	streamed, _ := tree.Root()

	log.Print("recomputing root from scratch")
	hasher, err := hasherFromFlags(context)
	if err != nil {
		return err
	}
	reference, err := mht.ComputeRoot(hasher, context.Int(heightFlag.Name), leaves)
	if err != nil {
		return err
	}

	if !streamed.Equal(&reference) {
		return fmt.Errorf("streamed root %s differs from recomputed root %s", formatElement(streamed), formatElement(reference))
	}
	if !streamed.Equal(&want) {
		return fmt.Errorf("root is %s, expected %s", formatElement(streamed), formatElement(want))
	}
	fmt.Fprintln(context.App.Writer, "root verified")
	return nil
}
