package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheus_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveValidation(true, 100)
	m.ObserveValidation(false, 40)
	m.ObserveValidation(false, 20)
	m.IncAbuseLogFailure()
	m.IncTrustUpdate("failed_login", true)
	m.IncLedgerMutation("earned")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.validations.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.validations.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.abuseLogFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flaggedDevices))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerMutations.WithLabelValues("earned")))
}

func TestStatusBucket(t *testing.T) {
	assert.Equal(t, "2xx", statusBucket(201))
	assert.Equal(t, "4xx", statusBucket(429))
	assert.Equal(t, "5xx", statusBucket(503))
}

func TestNoop_SatisfiesRecorder(t *testing.T) {
	var r Recorder = Noop{}
	r.ObserveRequest("/", "GET", 200, time.Millisecond)
}
