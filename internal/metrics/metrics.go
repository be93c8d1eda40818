// Package metrics implements Prometheus metrics for the task control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmittedTotal counts tasks accepted by Submit, by task_type.
	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_core_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"task_type"},
	)

	// TaskStatusTransitionsTotal counts status transitions, by task_type and
	// the status transitioned into.
	TaskStatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_core_task_status_transitions_total",
			Help: "Total number of task status transitions",
		},
		[]string{"task_type", "status"},
	)

	// TasksActive tracks the current number of non-terminal tasks, by
	// task_type.
	TasksActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_core_tasks_active",
			Help: "Current number of tasks not yet in a terminal status",
		},
		[]string{"task_type"},
	)

	// TaskDurationSeconds measures wall-clock time from submission to
	// terminal status, by task_type and final status.
	TaskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_core_task_duration_seconds",
			Help:    "Duration from task submission to terminal status",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1s .. ~18h
		},
		[]string{"task_type", "status"},
	)

	// RunnerErrorsTotal counts runner-reported execution errors, by
	// task_type and error_type.
	RunnerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_core_runner_errors_total",
			Help: "Total number of runner execution errors",
		},
		[]string{"task_type", "error_type"},
	)

	// RunnerPollLatencySeconds measures how long a single FetchTaskStatus
	// call against the external engine took, by task_type.
	RunnerPollLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_core_runner_poll_latency_seconds",
			Help:    "Latency of a single runner status poll",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		},
		[]string{"task_type"},
	)

	// TasksTimedOutTotal counts tasks force-failed by the timeout monitor.
	TasksTimedOutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_core_tasks_timed_out_total",
			Help: "Total number of tasks that exceeded task_timeout_seconds",
		},
		[]string{"task_type"},
	)

	// CommandRequestsTotal counts control-plane RPC requests, by method and
	// outcome ("ok" or "error").
	CommandRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_core_command_requests_total",
			Help: "Total number of control-plane commands handled",
		},
		[]string{"method", "outcome"},
	)
)
