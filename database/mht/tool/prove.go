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
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/fieldmht/accumulator/common/field"
	"github.com/fieldmht/accumulator/database/mht"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var ProveCmd = cli.Command{
	Action:    withLogger(prove),
	Name:      "prove",
	Usage:     "prints the Merkle path of a leaf in JSON",
	Flags:     streamingFlags,
	ArgsUsage: "<leaves> <index>",
}

var VerifyCmd = cli.Command{
	Action: withLogger(verify),
	Name:   "verify",
	Usage:  "checks a Merkle path in JSON against a root",
	Flags: []cli.Flag{
		&hasherFlag,
		&arityFlag,
		&heightFlag,
		&rawFlag,
	},
	ArgsUsage: "<proof> <leaf> <root>",
}

func prove(context *cli.Context, logger *zap.Logger) error {
	if context.Args().Len() != 2 {
		return fmt.Errorf("expected leaves file and leaf index")
	}
	leaves, err := readLeaves(context.Args().Get(0), context.Bool(rawFlag.Name))
	if err != nil {
		return err
	}
	idx, err := strconv.ParseUint(context.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid leaf index: %w", err)
	}
	tree, err := buildTree(context, NewLog(logger), leaves)
	if err != nil {
		return err
	}
	path, err := tree.GetMerklePath(idx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(path, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(context.App.Writer, string(data))
	return nil
}

func verify(context *cli.Context, logger *zap.Logger) error {
	if context.Args().Len() != 3 {
		return fmt.Errorf("expected proof file, leaf and root")
	}
	hasher, err := hasherFromFlags(context)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(context.Args().Get(0))
	if err != nil {
		return err
	}
	var path mht.MerklePath
	if err := json.Unmarshal(data, &path); err != nil {
		return err
	}
	var leaf field.Element
	if context.Bool(rawFlag.Name) {
		leaf = field.FromBytes([]byte(context.Args().Get(1)))
	} else if leaf, err = field.Parse(context.Args().Get(1)); err != nil {
		return err
	}
	root, err := field.Parse(context.Args().Get(2))
	if err != nil {
		return err
	}

	ok, err := path.Verify(hasher, context.Int(heightFlag.Name), leaf, root)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("proof of leaf %d does not match root %s", path.LeafIndex(), formatElement(root))
	}
	logger.Info("proof verified", zap.Uint64("leaf", path.LeafIndex()))
	fmt.Fprintf(context.App.Writer, "proof of leaf %d verified\n", path.LeafIndex())
	return nil
}
