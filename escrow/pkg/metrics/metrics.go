package metrics

import (
	"time"

	"github.com/malbeclabs/escrow/ledger/pkg/failure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_engine_operations_total",
			Help: "Total number of engine operations by outcome",
		},
		[]string{"engine", "operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_engine_operation_duration_seconds",
			Help:    "Duration of engine operations including the runtime invocation",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"engine", "operation"},
	)

	TokensMovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_engine_tokens_moved_total",
			Help: "Total base units moved by committed engine operations",
		},
		[]string{"engine", "kind"}, // kind: "mint", "dispense", "deposit", "refund", "payout", "burn"
	)
)

// RecordOperation records the outcome of one engine operation. Rejections
// are labelled with their failure class.
func RecordOperation(engine, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		if c := failure.ClassOf(err); c != failure.ClassUnknown {
			status = c.String()
		} else {
			status = "error"
		}
	}
	OperationsTotal.WithLabelValues(engine, operation, status).Inc()
	OperationDuration.WithLabelValues(engine, operation).Observe(time.Since(start).Seconds())
}

func RecordTokens(engine, kind string, amount uint64) {
	if amount == 0 {
		return
	}
	TokensMovedTotal.WithLabelValues(engine, kind).Add(float64(amount))
}
