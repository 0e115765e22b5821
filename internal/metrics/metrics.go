// Package metrics wraps the indexer's Prometheus instrumentation. A nil
// *Metrics is valid and every method becomes a no-op, so callers never need
// a nil check before recording a measurement.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter, gauge and histogram the indexer exports.
type Metrics struct {
	blocksIndexed   prometheus.Counter
	reorgsDetected  prometheus.Counter
	txsIndexed      prometheus.Counter
	syncErrors      prometheus.Counter
	batchWriteSecs  prometheus.Histogram
	indexHeight     prometheus.Gauge
	mempoolTxs      prometheus.Gauge
	activeSubs      prometheus.Gauge
}

// New registers and returns a fresh Metrics instance against reg. Passing
// prometheus.NewRegistry() keeps tests isolated from the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		blocksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "electrumindexer_blocks_indexed_total",
			Help: "Number of blocks applied to the index.",
		}),
		reorgsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "electrumindexer_reorgs_detected_total",
			Help: "Number of chain reorganizations handled.",
		}),
		txsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "electrumindexer_transactions_indexed_total",
			Help: "Number of transactions added to the funding/spending index.",
		}),
		syncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "electrumindexer_sync_errors_total",
			Help: "Number of errors encountered while syncing with the daemon.",
		}),
		batchWriteSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "electrumindexer_batch_write_seconds",
			Help:    "Latency of a single store batch write.",
			Buckets: prometheus.DefBuckets,
		}),
		indexHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "electrumindexer_index_height",
			Help: "Height of the most recently indexed block.",
		}),
		mempoolTxs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "electrumindexer_mempool_transactions",
			Help: "Number of transactions currently tracked in the mempool view.",
		}),
		activeSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "electrumindexer_active_subscriptions",
			Help: "Number of scripthashes currently subscribed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.blocksIndexed, m.reorgsDetected, m.txsIndexed, m.syncErrors,
			m.batchWriteSecs, m.indexHeight, m.mempoolTxs, m.activeSubs,
		)
	}
	return m
}

func (m *Metrics) BlockIndexed(height uint32) {
	if m == nil {
		return
	}
	m.blocksIndexed.Inc()
	m.indexHeight.Set(float64(height))
}

func (m *Metrics) ReorgDetected() {
	if m == nil {
		return
	}
	m.reorgsDetected.Inc()
}

func (m *Metrics) TxsIndexed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.txsIndexed.Add(float64(n))
}

func (m *Metrics) SyncError() {
	if m == nil {
		return
	}
	m.syncErrors.Inc()
}

func (m *Metrics) ObserveBatchWrite(seconds float64) {
	if m == nil {
		return
	}
	m.batchWriteSecs.Observe(seconds)
}

func (m *Metrics) SetMempoolSize(n int) {
	if m == nil {
		return
	}
	m.mempoolTxs.Set(float64(n))
}

func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.activeSubs.Set(float64(n))
}
