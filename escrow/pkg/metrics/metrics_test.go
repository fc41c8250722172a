package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/malbeclabs/escrow/ledger/pkg/failure"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordOperation(t *testing.T) {
	RecordOperation("test", "op", time.Now(), nil)
	RecordOperation("test", "op", time.Now(), failure.New(failure.ClassTemporal, "CooldownNotMet", "x"))
	RecordOperation("test", "op", time.Now(), errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(OperationsTotal.WithLabelValues("test", "op", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(OperationsTotal.WithLabelValues("test", "op", "temporal")))
	assert.Equal(t, float64(1), testutil.ToFloat64(OperationsTotal.WithLabelValues("test", "op", "error")))
}

func TestMetrics_RecordTokens(t *testing.T) {
	RecordTokens("test", "payout", 0)
	RecordTokens("test", "payout", 33)
	assert.Equal(t, float64(33), testutil.ToFloat64(TokensMovedTotal.WithLabelValues("test", "payout")))
}
