package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, EventsProcessed)
	assert.NotNil(t, EventProcessingDuration)
	assert.NotNil(t, AlertsCreated)
	assert.NotNil(t, AlertDeliveries)
	assert.NotNil(t, RetentionPruned)
	assert.NotNil(t, APIRequests)
}

func TestCounterVecsAcceptLabels(t *testing.T) {
	before := testutil.ToFloat64(RetentionPruned.WithLabelValues("metrics_test"))
	RetentionPruned.WithLabelValues("metrics_test").Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(RetentionPruned.WithLabelValues("metrics_test")))

	before = testutil.ToFloat64(APIRequests.WithLabelValues("/health", "GET", "200"))
	APIRequests.WithLabelValues("/health", "GET", "200").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(APIRequests.WithLabelValues("/health", "GET", "200")))
}
