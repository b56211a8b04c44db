package ports

import "time"

// MetricsReporter records trust-core events. The prometheus adapter is the
// production implementation; tests use a no-op.
type MetricsReporter interface {
	RecordAttestation(scheme string, allowed bool)
	RecordTicketRedemption(outcome string)
	RecordCertificateIssued(serviceName string, ttl time.Duration)
	RecordRotation(outcome string, duration time.Duration)
	RecordTokenValidation(mode string, valid bool)
	SetBundleExpiry(serviceName string, expiresAt time.Time)
}

// NopMetrics is a MetricsReporter that discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordAttestation(string, bool)                {}
func (NopMetrics) RecordTicketRedemption(string)                 {}
func (NopMetrics) RecordCertificateIssued(string, time.Duration) {}
func (NopMetrics) RecordRotation(string, time.Duration)          {}
func (NopMetrics) RecordTokenValidation(string, bool)            {}
func (NopMetrics) SetBundleExpiry(string, time.Time)             {}
