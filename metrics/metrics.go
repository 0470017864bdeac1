// Package metrics exposes the store's Prometheus counters and gauges. It
// plays the same ambient role here that the teacher's metrics package
// plays for bucket-size gauges: components call into it, nothing in the
// domain logic depends on it being wired up to a collector.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BlobsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "blob",
		Name:      "writes_total",
		Help:      "Number of blobs written to the content-addressed store.",
	})
	BlobsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "blob",
		Name:      "deletes_total",
		Help:      "Number of blobs deleted by garbage collection.",
	})
	BlobCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "blob",
		Name:      "cache_hits_total",
		Help:      "Number of blob reads served from the in-process cache.",
	})
	BlobCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "blob",
		Name:      "cache_misses_total",
		Help:      "Number of blob reads that missed the in-process cache.",
	})

	LedgerEntriesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "ledger",
		Name:      "entries_appended_total",
		Help:      "Number of ledger entries appended.",
	})
	LedgerEntriesDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "ledger",
		Name:      "entries_discarded_total",
		Help:      "Number of trailing ledger entries discarded on load due to a broken hash chain.",
	})

	CacheRebuilds = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "cache",
		Name:      "rebuilds_total",
		Help:      "Number of full reverse-index cache rebuilds.",
	})
	CacheIncrementalUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "cache",
		Name:      "incremental_updates_total",
		Help:      "Number of incremental reverse-index cache updates.",
	})

	GCRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "gc",
		Name:      "runs_total",
		Help:      "Number of garbage collection passes.",
	})
	GCBlobsReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerstore",
		Subsystem: "gc",
		Name:      "blobs_reclaimed_total",
		Help:      "Number of blobs removed by garbage collection.",
	})
)

func init() {
	prometheus.MustRegister(
		BlobsWritten, BlobsDeleted, BlobCacheHits, BlobCacheMisses,
		LedgerEntriesAppended, LedgerEntriesDiscarded,
		CacheRebuilds, CacheIncrementalUpdates,
		GCRuns, GCBlobsReclaimed,
	)
}
