// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package metrics provides Prometheus instrumentation for credential
// resolution, logins, revocations and identity provider calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "capsession"

// Outcome label values.
const (
	OutcomeSuccess       = "success"
	OutcomeFailure       = "failure"
	OutcomeDisabled      = "disabled"
	OutcomeNone          = "none"
	OutcomeSkipped       = "skipped"
	OutcomeInvalidInput  = "invalid_input"
	OutcomeHookRejected  = "hook_rejected"
	OutcomeInvalidToken  = "invalid_token"
	OutcomeProviderError = "provider_error"
)

// Metrics holds the collectors.  A nil *Metrics, or one created with a nil
// registerer, records nothing.
type Metrics struct {
	resolutions *prometheus.CounterVec
	logins      *prometheus.CounterVec
	revocations *prometheus.CounterVec
	provider    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.  A nil reg returns
// a no-op Metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	factory := promauto.With(reg)
	return &Metrics{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Credential resolutions by credential source and outcome.",
		}, []string{"source", "outcome"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Password logins by outcome.",
		}, []string{"outcome"}),
		revocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocations_total",
			Help:      "Token revocations by token type and outcome.",
		}, []string{"type", "outcome"}),
		provider: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Identity provider request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) enabled() bool {
	return m != nil && m.resolutions != nil
}

// Resolution records the end of one credential resolution pass.
func (m *Metrics) Resolution(source, outcome string) {
	if !m.enabled() {
		return
	}
	if source == "" {
		source = OutcomeNone
	}
	m.resolutions.WithLabelValues(source, outcome).Inc()
}

// Login records a password login attempt.
func (m *Metrics) Login(outcome string) {
	if !m.enabled() {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// Revocation records one token revocation attempt.
func (m *Metrics) Revocation(tokenType, outcome string) {
	if !m.enabled() {
		return
	}
	m.revocations.WithLabelValues(tokenType, outcome).Inc()
}

// ProviderRequest observes the latency of one identity provider call started
// at start.
func (m *Metrics) ProviderRequest(operation string, start time.Time, err error) {
	if !m.enabled() {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.provider.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
