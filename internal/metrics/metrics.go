// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "notevault"

var (
	ChunksWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_written_total",
		Help:      "Chunks persisted by the write path.",
	})
	ChunksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_skipped_total",
		Help:      "Chunks left untouched because their digest did not change.",
	})
	PartialWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "partial_writes_total",
		Help:      "Chunk writes that failed after at least one sub-batch committed.",
	})
	OrphanDeleteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphan_chunk_delete_failures_total",
		Help:      "Shrinking writes whose trailing chunk delete failed after the metadata commit.",
	})
	ChunkGaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_gap_errors_total",
		Help:      "Reads that found a non-contiguous chunk set.",
	})
	Migrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "legacy_migrations_total",
		Help:      "Legacy document migrations by result.",
	}, []string{"result"})
	TokenConsumptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "share_token_consumptions_total",
		Help:      "Share token uses by outcome.",
	}, []string{"outcome"})
	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_subscriptions",
		Help:      "Open document change subscriptions.",
	})
	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_retries_total",
		Help:      "Retried backing store operations by operation name.",
	}, []string{"op"})
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Scheduled job runs by job and result.",
	}, []string{"job", "result"})
)
