// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the orchestrator.
//
// # Description
//
// Metrics cover session lifecycle, per-turn pipeline outcomes, classification
// cache efficiency, and external-call failures. All metrics register against
// the default Prometheus registry and are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "maya"

var (
	// ActiveSessions tracks currently open conversation streams.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "active_sessions",
		Help:      "Number of currently active conversation sessions",
	})

	// SessionsTotal counts sessions by how they ended.
	// Labels: outcome (closed, error, forced)
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_total",
		Help:      "Total sessions by termination outcome",
	}, []string{"outcome"})

	// TurnsTotal counts processed turns by pipeline outcome.
	// Labels: outcome (answered, auth_required, verified, degraded)
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "turns_total",
		Help:      "Total conversation turns by outcome",
	}, []string{"outcome"})

	// TurnDurationSeconds measures full turn latency, inbound to answer.
	TurnDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "turn_duration_seconds",
		Help:      "Turn processing duration in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})

	// ClassificationCacheHits counts memoization hits per classifier.
	// Labels: kind (domain, intent)
	ClassificationCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "classification_cache_hits_total",
		Help:      "Classification requests served from the memoization cache",
	}, []string{"kind"})

	// ExternalFailuresTotal counts degraded external calls.
	// Labels: dependency (classifier, retriever, generator, profile, otp, transcript)
	ExternalFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "external_failures_total",
		Help:      "External dependency failures recovered by degradation",
	}, []string{"dependency"})

	// TranscriptTurnsPersisted counts transcript turns written at teardown.
	TranscriptTurnsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "transcript_turns_persisted_total",
		Help:      "Total transcript turns durably persisted",
	})

	// OTPRequestsTotal counts side-channel OTP operations by result.
	// Labels: operation (send, verify), status (success, failure)
	OTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "otp_requests_total",
		Help:      "OTP side-channel requests by operation and status",
	}, []string{"operation", "status"})
)
