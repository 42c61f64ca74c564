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
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// Run using
//  go run ./database/mht/tool <command> <flags>

var (
	quietFlag = cli.BoolFlag{
		Name:  "quiet",
		Usage: "only log warnings and errors",
	}
	metricsFlag = cli.IntFlag{
		Name:  "metrics-port",
		Usage: "enable hosting of Prometheus metrics by providing a port",
		Value: 0,
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "mhttool",
		Usage:     "field element Merkle tree toolbox",
		Copyright: "(c) 2024 Fantom Foundation",
		Flags: []cli.Flag{
			&quietFlag,
			&metricsFlag,
		},
		Commands: []*cli.Command{
			&RootCmd,
			&VerifyRootCmd,
			&ProveCmd,
			&VerifyCmd,
			&ApplyCmd,
			&InfoCmd,
		},
	}
}

// withLogger starts the services requested by the global flags and runs the
// given action with a logger configured by them.
func withLogger(action func(*cli.Context, *zap.Logger) error) cli.ActionFunc {
	return func(context *cli.Context) error {
		config := zap.NewDevelopmentConfig()
		if context.Bool(quietFlag.Name) {
			config.Level.SetLevel(zap.WarnLevel)
		}
		logger, err := config.Build()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		startMetricsServer(context.Int(metricsFlag.Name), logger)
		return action(context, logger)
	}
}

func startMetricsServer(port int, logger *zap.Logger) {
	if port <= 0 || port >= (1<<16) {
		return
	}
	addr := fmt.Sprintf("localhost:%d", port)
	logger.Info("serving metrics", zap.String("url", "http://"+addr+"/metrics"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}
