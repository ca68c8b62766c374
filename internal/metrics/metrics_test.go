package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveStoreLabelsResult(t *testing.T) {
	ObserveStore("test_op", time.Now(), nil)
	ObserveStore("test_op", time.Now(), errors.New("boom"))

	// One series per (op, result) pair.
	assert.GreaterOrEqual(t, testutil.CollectAndCount(StoreDuration, "sentinel_store_operation_seconds"), 2)
}

func TestIngestCounters(t *testing.T) {
	before := testutil.ToFloat64(ReadingsIngested.WithLabelValues("test"))
	ReadingsIngested.WithLabelValues("test").Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(ReadingsIngested.WithLabelValues("test")))
}

func TestLiveSubscribersGauge(t *testing.T) {
	before := testutil.ToFloat64(LiveSubscribers)
	LiveSubscribers.Inc()
	LiveSubscribers.Inc()
	LiveSubscribers.Dec()
	assert.Equal(t, before+1, testutil.ToFloat64(LiveSubscribers))
	LiveSubscribers.Dec()
}
