// Package metrics provides the Prometheus-based implementation of trust-core
// metrics reporting.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sufield/credo/internal/core/ports"
)

var (
	attestationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credo_attestation_total",
		Help: "Total number of attestation attempts",
	}, []string{"scheme", "allowed"})

	ticketRedemptionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credo_ticket_redemption_total",
		Help: "Total number of attestation ticket redemptions",
	}, []string{"outcome"}) // outcome: ok, unknown, expired, mismatch

	certIssuedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credo_certificates_issued_total",
		Help: "Total number of workload certificates issued",
	}, []string{"service_name"})

	rotationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credo_rotation_total",
		Help: "Total number of identity agent rotation attempts",
	}, []string{"outcome"}) // outcome: success, failure

	rotationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "credo_rotation_duration_seconds",
		Help:    "Duration of identity agent rotation attempts",
		Buckets: prometheus.DefBuckets,
	})

	tokenValidationCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credo_token_validation_total",
		Help: "Total number of delegation token validations",
	}, []string{"mode", "valid"}) // mode: local, remote, issuer

	bundleExpiryTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "credo_bundle_expiry_timestamp_seconds",
		Help: "Unix timestamp when the current certificate bundle expires",
	}, []string{"service_name"})
)

// PrometheusMetrics implements ports.MetricsReporter using Prometheus.
type PrometheusMetrics struct{}

// NewPrometheusMetrics creates the Prometheus metrics reporter.
func NewPrometheusMetrics() ports.MetricsReporter {
	return &PrometheusMetrics{}
}

// RecordAttestation records an attestation attempt per scheme.
func (m *PrometheusMetrics) RecordAttestation(scheme string, allowed bool) {
	attestationCounter.WithLabelValues(scheme, strconv.FormatBool(allowed)).Inc()
}

// RecordTicketRedemption records a ticket redemption outcome.
func (m *PrometheusMetrics) RecordTicketRedemption(outcome string) {
	ticketRedemptionCounter.WithLabelValues(outcome).Inc()
}

// RecordCertificateIssued records an issued workload certificate.
func (m *PrometheusMetrics) RecordCertificateIssued(serviceName string, _ time.Duration) {
	certIssuedCounter.WithLabelValues(serviceName).Inc()
}

// RecordRotation records an identity agent rotation attempt.
func (m *PrometheusMetrics) RecordRotation(outcome string, duration time.Duration) {
	rotationCounter.WithLabelValues(outcome).Inc()
	rotationDuration.Observe(duration.Seconds())
}

// RecordTokenValidation records a delegation token validation.
func (m *PrometheusMetrics) RecordTokenValidation(mode string, valid bool) {
	tokenValidationCounter.WithLabelValues(mode, strconv.FormatBool(valid)).Inc()
}

// SetBundleExpiry updates the bundle expiry gauge for a service.
func (m *PrometheusMetrics) SetBundleExpiry(serviceName string, expiresAt time.Time) {
	bundleExpiryTimestamp.WithLabelValues(serviceName).Set(float64(expiresAt.Unix()))
}
