// Package metrics defines prometheus/client_golang collectors for the
// engine, grounded on freyjadb's pkg/api/metrics.go (promauto
// registration, CounterVec/HistogramVec/Gauge shape, status-label
// convention). Of the recording methods, the engine itself calls only
// RecordChunkWrite (from pkg/roots's chunk store); the chunk-read, commit,
// compaction and tree-key methods are not called by the engine. Every
// counter here is optional: a nil *Metrics makes every method a no-op so
// the engine never requires Prometheus to run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds every Prometheus collector the engine reports to.
type Metrics struct {
	chunkWritesTotal   *prometheus.CounterVec
	chunkReadsTotal    *prometheus.CounterVec
	cacheHitsTotal     prometheus.Counter
	cacheMissesTotal   prometheus.Counter
	commitsTotal       *prometheus.CounterVec
	commitDuration     prometheus.Histogram
	compactionsTotal   *prometheus.CounterVec
	compactionDuration prometheus.Histogram
	treeKeysTotal      *prometheus.GaugeVec
}

// New creates and registers the engine's metrics against the given
// registerer (pass prometheus.DefaultRegisterer for the global registry).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		chunkWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "rootsdb_chunk_writes_total", Help: "Total chunks appended to tree files."},
			[]string{"kind"},
		),
		chunkReadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "rootsdb_chunk_reads_total", Help: "Total chunks read from tree files."},
			[]string{"status"},
		),
		cacheHitsTotal: factory.NewCounter(
			prometheus.CounterOpts{Name: "rootsdb_cache_hits_total", Help: "Chunk cache hits."},
		),
		cacheMissesTotal: factory.NewCounter(
			prometheus.CounterOpts{Name: "rootsdb_cache_misses_total", Help: "Chunk cache misses."},
		),
		commitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "rootsdb_commits_total", Help: "Total coordinator commits."},
			[]string{"status"},
		),
		commitDuration: factory.NewHistogram(
			prometheus.HistogramOpts{Name: "rootsdb_commit_duration_seconds", Help: "Commit latency.", Buckets: prometheus.DefBuckets},
		),
		compactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "rootsdb_compactions_total", Help: "Total compaction runs."},
			[]string{"status"},
		),
		compactionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{Name: "rootsdb_compaction_duration_seconds", Help: "Compaction latency.", Buckets: prometheus.DefBuckets},
		),
		treeKeysTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{Name: "rootsdb_tree_keys_total", Help: "Alive key count per tree, as of the last commit or compaction."},
			[]string{"tree"},
		),
	}
}

// RecordChunkWrite counts one chunk append, tagged "node" or "value".
func (m *Metrics) RecordChunkWrite(kind string) {
	if m == nil {
		return
	}
	m.chunkWritesTotal.WithLabelValues(kind).Inc()
}

// RecordChunkRead counts one chunk read and whether it was a cache hit.
func (m *Metrics) RecordChunkRead(cacheHit bool) {
	if m == nil {
		return
	}
	if cacheHit {
		m.cacheHitsTotal.Inc()
		m.chunkReadsTotal.WithLabelValues("hit").Inc()
		return
	}
	m.cacheMissesTotal.Inc()
	m.chunkReadsTotal.WithLabelValues("miss").Inc()
}

// RecordCommit records one coordinator commit's outcome and latency.
func (m *Metrics) RecordCommit(success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := statusSuccess
	if !success {
		status = statusError
	}
	m.commitsTotal.WithLabelValues(status).Inc()
	m.commitDuration.Observe(d.Seconds())
}

// RecordCompaction records one compaction run's outcome and latency.
func (m *Metrics) RecordCompaction(success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := statusSuccess
	if !success {
		status = statusError
	}
	m.compactionsTotal.WithLabelValues(status).Inc()
	m.compactionDuration.Observe(d.Seconds())
}

// SetTreeKeys records a tree's alive-key count for gauge reporting.
func (m *Metrics) SetTreeKeys(tree string, keys uint64) {
	if m == nil {
		return
	}
	m.treeKeysTotal.WithLabelValues(tree).Set(float64(keys))
}
