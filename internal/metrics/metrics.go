// Package metrics exposes Prometheus instrumentation for the aggregates,
// sagas and projection. Each Metrics owns its registry so tests and
// multiple apps in one process do not collide.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcoot/rpsleague/internal/model"
)

// Namespace prefixes every metric name
const Namespace = "rpsleague"

// Saga step outcomes
const (
	OutcomeApplied = "applied"
	OutcomeIgnored = "ignored"
	OutcomeFailed  = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	Commands           *prometheus.CounterVec
	CommandLatency     *prometheus.HistogramVec
	VersionConflicts   *prometheus.CounterVec
	SagaSteps          *prometheus.CounterVec
	GamesCompleted     prometheus.Counter
	LeaderboardUpserts prometheus.Counter
	HTTPRequests       *prometheus.HistogramVec
	OutboxPublished    prometheus.Counter
	OutboxFailures     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Aggregate commands handled, by result",
		}, []string{"aggregate", "command", "result"}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "command_latency_seconds",
			Help:      "Aggregate command latency including version-conflict retries",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"aggregate", "command"}),
		VersionConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts that caused a retry",
		}, []string{"aggregate"}),
		SagaSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "saga_steps_total",
			Help:      "Saga notifications processed, by outcome",
		}, []string{"saga", "outcome"}),
		GamesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "games_completed_total",
			Help:      "Games that reached a winner",
		}),
		LeaderboardUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "leaderboard_upserts_total",
			Help:      "Leaderboard rows written by the projection",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox notifications published to the bus",
		}),
		OutboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "outbox_failures_total",
			Help:      "Outbox flushes that stopped on a publish or store error",
		}),
		HTTPRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route template and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		m.Commands,
		m.CommandLatency,
		m.VersionConflicts,
		m.SagaSteps,
		m.GamesCompleted,
		m.LeaderboardUpserts,
		m.HTTPRequests,
		m.OutboxPublished,
		m.OutboxFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCommand records one command's result and latency
func (m *Metrics) ObserveCommand(aggregate, command string, start time.Time, err error) {
	m.Commands.WithLabelValues(aggregate, command, Result(err)).Inc()
	m.CommandLatency.WithLabelValues(aggregate, command).Observe(time.Since(start).Seconds())
}

// IncVersionConflict counts one optimistic concurrency retry
func (m *Metrics) IncVersionConflict(aggregate string) {
	m.VersionConflicts.WithLabelValues(aggregate).Inc()
}

// IncSagaStep counts one processed saga notification
func (m *Metrics) IncSagaStep(saga, outcome string) {
	m.SagaSteps.WithLabelValues(saga, outcome).Inc()
}

// ObserveHTTPRequest records one served request
func (m *Metrics) ObserveHTTPRequest(method, route, status string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// Result maps an error to a low-cardinality label value
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, model.ErrPreconditionFailed):
		return "precondition_failed"
	default:
		return "error"
	}
}
