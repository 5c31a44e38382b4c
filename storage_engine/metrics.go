package storageengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txnCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nsfslite_txn_commits_total",
		Help: "counter of committed transactions",
	})
	txnAbortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsfslite_txn_aborts_total",
		Help: "counter of aborted transactions, by cause",
	}, []string{"cause"})
	opsStagedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsfslite_ops_staged_total",
		Help: "counter of variable operations staged into transactions",
	}, []string{"op"})
	walBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nsfslite_wal_bytes_total",
		Help: "counter of bytes appended to write-ahead logs",
	})
	walSyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nsfslite_wal_syncs_total",
		Help: "counter of write-ahead log syncs",
	})
	checkpointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nsfslite_checkpoints_total",
		Help: "counter of completed checkpoints",
	})
	recoveredTxnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nsfslite_recovered_txns_total",
		Help: "counter of transactions found during WAL recovery, by outcome",
	}, []string{"outcome"})
	walTornBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nsfslite_wal_torn_bytes_total",
		Help: "counter of bytes truncated from torn WAL tails",
	})
	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nsfslite_open_connections",
		Help: "number of open connections",
	})
)
