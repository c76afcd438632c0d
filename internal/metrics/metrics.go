// Package metrics описывает prometheus-метрики сервиса.
// Если метрики выключены, модули получают Noop и ничего не считают.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder — то, что модули знают о метриках.
type Recorder interface {
	ObserveValidation(valid bool, score float64)
	IncAbuseRecorded(severity string)
	IncAbuseLogFailure()
	IncTrustUpdate(event string, flagged bool)
	IncLedgerMutation(txType string)
	IncInsufficientBalance(operation string)
	IncConflictRetry(operation string)
	IncRateLimited(trusted bool)
	ObserveRequest(route, method string, status int, duration time.Duration)
}

// Prometheus — реализация Recorder поверх client_golang.
type Prometheus struct {
	validations      *prometheus.CounterVec
	validationScore  prometheus.Histogram
	abuseRecorded    *prometheus.CounterVec
	abuseLogFailures prometheus.Counter
	trustUpdates     *prometheus.CounterVec
	flaggedDevices   prometheus.Counter
	ledgerMutations  *prometheus.CounterVec
	insufficient     *prometheus.CounterVec
	conflictRetries  *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New регистрирует все метрики в reg.
func New(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_attention_validations_total",
			Help: "Attention validations by outcome",
		}, []string{"valid"}),
		validationScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rewards_attention_validation_score",
			Help:    "Distribution of validation scores",
			Buckets: []float64{0, 10, 20, 35, 50, 70, 80, 90, 100},
		}),
		abuseRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_abuse_events_total",
			Help: "Abuse events recorded by severity",
		}, []string{"severity"}),
		abuseLogFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "rewards_abuse_log_failures_total",
			Help: "Abuse events that could not be written",
		}),
		trustUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_trust_updates_total",
			Help: "Trust updates by event name",
		}, []string{"event"}),
		flaggedDevices: f.NewCounter(prometheus.CounterOpts{
			Name: "rewards_trust_flagged_total",
			Help: "Trust updates that left the device flagged",
		}),
		ledgerMutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_ledger_mutations_total",
			Help: "Ledger transaction rows written by type",
		}, []string{"type"}),
		insufficient: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_ledger_insufficient_balance_total",
			Help: "Operations rejected for insufficient balance",
		}, []string{"operation"}),
		conflictRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_conflict_retries_total",
			Help: "Storage write conflicts retried",
		}, []string{"operation"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rewards_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"trusted"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rewards_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

func (m *Prometheus) ObserveValidation(valid bool, score float64) {
	m.validations.WithLabelValues(strconv.FormatBool(valid)).Inc()
	m.validationScore.Observe(score)
}

func (m *Prometheus) IncAbuseRecorded(severity string) {
	m.abuseRecorded.WithLabelValues(severity).Inc()
}

func (m *Prometheus) IncAbuseLogFailure() {
	m.abuseLogFailures.Inc()
}

func (m *Prometheus) IncTrustUpdate(event string, flagged bool) {
	m.trustUpdates.WithLabelValues(event).Inc()
	if flagged {
		m.flaggedDevices.Inc()
	}
}

func (m *Prometheus) IncLedgerMutation(txType string) {
	m.ledgerMutations.WithLabelValues(txType).Inc()
}

func (m *Prometheus) IncInsufficientBalance(operation string) {
	m.insufficient.WithLabelValues(operation).Inc()
}

func (m *Prometheus) IncConflictRetry(operation string) {
	m.conflictRetries.WithLabelValues(operation).Inc()
}

func (m *Prometheus) IncRateLimited(trusted bool) {
	m.rateLimited.WithLabelValues(strconv.FormatBool(trusted)).Inc()
}

func (m *Prometheus) ObserveRequest(route, method string, status int, duration time.Duration) {
	m.requestDuration.WithLabelValues(route, method, statusBucket(status)).Observe(duration.Seconds())
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Noop ничего не делает. Используется, когда METRICS_ENABLED=false, и в тестах.
type Noop struct{}

func (Noop) ObserveValidation(bool, float64)                   {}
func (Noop) IncAbuseRecorded(string)                           {}
func (Noop) IncAbuseLogFailure()                               {}
func (Noop) IncTrustUpdate(string, bool)                       {}
func (Noop) IncLedgerMutation(string)                          {}
func (Noop) IncInsufficientBalance(string)                     {}
func (Noop) IncConflictRetry(string)                           {}
func (Noop) IncRateLimited(bool)                               {}
func (Noop) ObserveRequest(string, string, int, time.Duration) {}
