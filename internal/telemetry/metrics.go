/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grimnir_automation"

var (
	// Manager loop
	ManagerCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manager_cycles_total",
		Help:      "Completed queue manager cycles.",
	})
	ManagerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "manager_cycle_duration_seconds",
		Help:      "Wall time of one queue manager cycle.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	})
	ManagerHeartbeat = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "manager_heartbeat_timestamp_seconds",
		Help:      "Unix time of the last manager liveness signal.",
	})
	ManagerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manager_errors_total",
		Help:      "Recoverable errors raised inside the manager loop.",
	}, []string{"stage"})

	// Queue
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Entries currently in the queue.",
	})
	QueueRevision = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_revision",
		Help:      "Monotonic queue revision.",
	})
	QueueActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_actions_total",
		Help:      "Scheduler actions applied, by kind.",
	}, []string{"action"})
	QueueReorderSwapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_reorder_swaps_total",
		Help:      "Group swaps committed by the reorder optimizer.",
	})
	QueueLoadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_load_failures_total",
		Help:      "Player load failures, by reason.",
	}, []string{"reason"})

	// Tasks
	TasksRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_running",
		Help:      "Background tasks outstanding, by kind.",
	}, []string{"kind"})
	TasksTimedOutTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_timed_out_total",
		Help:      "Background tasks force-cancelled by the timeout sweep.",
	}, []string{"kind"})
	TasksFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_failed_total",
		Help:      "Background tasks that returned an error.",
	}, []string{"kind"})

	// Automation
	AutomationMode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "automation_mode",
		Help:      "Automation mode (0 off, 1 live assist, 2 unattended).",
	})
	AutomationRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "automation_list_running",
		Help:      "1 while the list is running.",
	})
	FillInsertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fill_inserts_total",
		Help:      "Items appended by the filler and the schedule inserter.",
	}, []string{"source"})

	// Recorders
	RecordersRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "recorders_registered",
		Help:      "External recorders with a live registration.",
	})

	// Leadership
	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "leader_election_status",
		Help:      "1 when this instance is the leader.",
	}, []string{"instance_id"})
	LeaderElectionChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "leader_election_changes_total",
		Help:      "Leadership acquisitions and losses.",
	}, []string{"instance_id", "change"})

	// Event bus
	EventBusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_published_total",
		Help:      "Events published to the distributed bus.",
	}, []string{"backend", "event_type"})
	EventBusFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_fallback_total",
		Help:      "Publishes served by the in-memory fallback.",
	}, []string{"backend"})

	// Cache
	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_requests_total",
		Help:      "Cache lookups, by result.",
	}, []string{"cache", "result"})

	// API
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests served.",
	}, []string{"method", "endpoint", "status"})
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight HTTP requests.",
	})
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_websocket_connections",
		Help:      "Open event stream websockets.",
	})

	// Database
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Database operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation", "table"})
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Database operation errors.",
	}, []string{"operation", "type"})
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_connections_active",
		Help:      "Open database connections.",
	})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
