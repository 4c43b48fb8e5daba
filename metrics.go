package main

import (
	"time"

	"Drover/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ========================================
// Metrics - Prometheus collectors
// ========================================

var (
	metricDetections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drover",
		Subsystem: "detector",
		Name:      "detections_total",
		Help:      "Screen detection attempts by outcome.",
	}, []string{"outcome"})

	metricDetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "drover",
		Subsystem: "detector",
		Name:      "detection_duration_seconds",
		Help:      "Wall-clock time of one detection pass over all templates.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	metricDetectionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "drover",
		Subsystem: "detector",
		Name:      "match_confidence",
		Help:      "Confidence of successful template matches.",
		Buckets:   prometheus.LinearBuckets(0.5, 0.05, 10),
	})

	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drover",
		Subsystem: "executor",
		Name:      "actions_total",
		Help:      "Macro actions executed by type and outcome.",
	}, []string{"type", "outcome"})

	metricLoginRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drover",
		Subsystem: "autologin",
		Name:      "runs_total",
		Help:      "Auto-login workflow runs by terminal state.",
	}, []string{"state"})

	metricAdbCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drover",
		Subsystem: "adb",
		Name:      "commands_total",
		Help:      "ADB commands issued by outcome.",
	}, []string{"outcome"})

	metricHTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drover",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served by route and status class.",
	}, []string{"route", "status"})
)

func observeDetection(result types.MatchResult, d time.Duration, err error) {
	metricDetectionDuration.Observe(d.Seconds())
	switch {
	case err != nil:
		metricDetections.WithLabelValues("error").Inc()
	case result.Matched:
		metricDetections.WithLabelValues("matched").Inc()
		metricDetectionConfidence.Observe(result.Confidence)
	default:
		metricDetections.WithLabelValues("unknown").Inc()
	}
}

func observeAction(kind types.ActionKind, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	metricActions.WithLabelValues(string(kind), outcome).Inc()
}

func observeLoginRun(state types.LoginState) {
	metricLoginRuns.WithLabelValues(string(state)).Inc()
}

func observeAdbCommand(err error) {
	if err != nil {
		metricAdbCommands.WithLabelValues("failed").Inc()
		return
	}
	metricAdbCommands.WithLabelValues("ok").Inc()
}

func observeHTTPRequest(route string, status int) {
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	metricHTTPRequests.WithLabelValues(route, class).Inc()
}
