package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type VerifyResult string

const (
	VerifyValid       VerifyResult = "valid"
	VerifyViolation   VerifyResult = "violation"
	VerifyUnavailable VerifyResult = "unavailable"
)

type ledgerPromMetrics struct {
	blocksCreated       prometheus.Counter
	sequenceConflicts   prometheus.Counter
	stampFailures       prometheus.Counter
	reconciledTxs       prometheus.Counter
	verifyRuns          *prometheus.CounterVec
	chainHeight         prometheus.Gauge
	transactionsInBlock prometheus.Histogram
}

func newLedgerPromMetrics() *ledgerPromMetrics {
	return &ledgerPromMetrics{
		blocksCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "moval_ledger_blocks_created_total",
			Help: "Number of blocks appended to the chain",
		}),
		sequenceConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "moval_ledger_sequence_conflicts_total",
			Help: "Number of appends rejected because the tip moved",
		}),
		stampFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "moval_ledger_stamp_failures_total",
			Help: "Number of transactions whose block cross-reference could not be written",
		}),
		reconciledTxs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "moval_ledger_reconciled_transactions_total",
			Help: "Number of transactions stamped by reconciliation",
		}),
		verifyRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "moval_ledger_verify_runs_total",
			Help: "Chain verification runs by result",
		}, []string{"result"}),
		chainHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "moval_ledger_chain_height",
			Help: "Sequence number of the chain tip",
		}),
		transactionsInBlock: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "moval_ledger_transactions_per_block",
			Help:    "Number of transactions sealed per block",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

var ledgerMetrics = newLedgerPromMetrics()

func RecordBlockCreated(sequence int64, txCount int) {
	ledgerMetrics.blocksCreated.Inc()
	ledgerMetrics.chainHeight.Set(float64(sequence))
	ledgerMetrics.transactionsInBlock.Observe(float64(txCount))
}

func IncreaseSequenceConflicts() {
	ledgerMetrics.sequenceConflicts.Inc()
}

func AddStampFailures(n int) {
	ledgerMetrics.stampFailures.Add(float64(n))
}

func AddReconciled(n int) {
	ledgerMetrics.reconciledTxs.Add(float64(n))
}

func RecordVerify(result VerifyResult) {
	ledgerMetrics.verifyRuns.WithLabelValues(string(result)).Inc()
}

func SetChainHeight(sequence int64) {
	ledgerMetrics.chainHeight.Set(float64(sequence))
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
