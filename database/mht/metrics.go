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
	"github.com/fieldmht/accumulator/backend/oracle"
	"github.com/fieldmht/accumulator/common/field"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "fieldmht"
	metricsSubsystem = "tree"

	streamingEngine = "streaming"
	lazyEngine      = "lazy"
)

var (
	oracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "oracle_calls_total",
			Help:      "Number of batch hash oracle invocations",
		},
		[]string{"engine"},
	)

	hashedGroups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "hashed_groups_total",
			Help:      "Number of child groups compressed by the oracle",
		},
		[]string{"engine"},
	)

	skippedEmptyGroups = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "empty_groups_skipped_total",
			Help:      "Number of groups of empty subtrees resolved without hashing",
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "cache_lookups_total",
			Help:      "Lookups of inner nodes in the cache store by result",
		},
		[]string{"result"},
	)

	cacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "cache_evictions_total",
			Help:      "Number of inner nodes removed from the cache store",
		},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "process_leaves_duration_seconds",
			Help:      "Time taken to apply a batch of leaf operations",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// hashBatch invokes the oracle and accounts for the call.
func hashBatch(engine string, hasher oracle.BatchHasher, in, out []field.Element) error {
	oracleCalls.WithLabelValues(engine).Inc()
	hashedGroups.WithLabelValues(engine).Add(float64(len(out)))
	return hasher.HashBatch(in, out)
}
