package statistics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0,
}

var (
	qdbDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ddlcoord_qdb_operation_duration_seconds",
		Help:    "Recovery log operation duration in seconds",
		Buckets: durationBuckets,
	}, []string{"operation"})

	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ddlcoord_task_duration_seconds",
		Help:    "Remote task execution duration in seconds",
		Buckets: durationBuckets,
	})

	ddlJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ddlcoord_ddl_jobs_total",
		Help: "Distributed DDL jobs executed, by execution kind",
	}, []string{"kind"})

	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ddlcoord_transactions_committed_total",
		Help: "Coordinated transactions committed, by commit protocol",
	}, []string{"protocol"})

	abortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ddlcoord_transactions_aborted_total",
		Help: "Coordinated transactions aborted",
	})

	recoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ddlcoord_recovered_transactions_total",
		Help: "Prepared transactions resolved by recovery, by outcome",
	}, []string{"outcome"})

	escalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ddlcoord_sequential_escalations_total",
		Help: "Transactions switched to sequential execution",
	})

	openConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ddlcoord_worker_connections",
		Help: "Open connections to worker nodes",
	})
)

func RecordQDBOperation(op string, d time.Duration) {
	qdbDuration.WithLabelValues(op).Observe(d.Seconds())
}

func RecordDDLJob(kind string) {
	ddlJobsTotal.WithLabelValues(kind).Inc()
	counters.jobs.Inc()
}

func RecordCommit(protocol string) {
	commitsTotal.WithLabelValues(protocol).Inc()
	counters.commits.Inc()
}

func RecordAbort() {
	abortsTotal.Inc()
	counters.aborts.Inc()
}

const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
)

func RecordRecovered(outcome string, n int) {
	recoveredTotal.WithLabelValues(outcome).Add(float64(n))
	switch outcome {
	case OutcomeCommitted:
		counters.recoveredCommitted.Add(int64(n))
	case OutcomeAborted:
		counters.recoveredAborted.Add(int64(n))
	}
}

func RecordEscalation() {
	escalationsTotal.Inc()
	counters.escalations.Inc()
}

func ConnectionOpened() {
	openConnections.Inc()
	counters.connections.Inc()
}

func ConnectionClosed() {
	openConnections.Dec()
	counters.connections.Dec()
}
