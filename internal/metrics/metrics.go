// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/dkarim/approval-engine/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	requestsTotalCounter      *prometheus.CounterVec
	actionsTotalCounter       *prometheus.CounterVec
	assignmentsTotalCounter   *prometheus.CounterVec
	sweepDurationMetric       prometheus.Histogram
	sweptAssignmentsCounter   prometheus.Counter
	idempotentReplaysCounter  prometheus.Counter
	idempotencyConflictsTotal prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		requestsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "requests_total",
				Help: "Total number of request status transitions by status.",
			},
			[]string{"status"},
		)

		actionsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_actions_total",
				Help: "Total number of recorded request actions by type.",
			},
			[]string{"type"},
		)

		assignmentsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assignments_total",
				Help: "Total number of assignment status updates by status.",
			},
			[]string{"status"},
		)

		sweepDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "overdue_sweep_duration_seconds",
				Help:    "Duration of overdue sweep passes in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		sweptAssignmentsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "overdue_sweep_marked_total",
				Help: "Total number of assignments marked OVERDUE by the sweeper.",
			},
		)

		idempotentReplaysCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idempotent_replays_total",
				Help: "Total number of responses served from the idempotency cache.",
			},
		)

		idempotencyConflictsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idempotency_conflicts_total",
				Help: "Total number of idempotency keys reused with a different payload.",
			},
		)

		prometheus.MustRegister(
			requestsTotalCounter,
			actionsTotalCounter,
			assignmentsTotalCounter,
			sweepDurationMetric,
			sweptAssignmentsCounter,
			idempotentReplaysCounter,
			idempotencyConflictsTotal,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.RequestStatus{
			domain.RequestInProgress,
			domain.RequestCompleted,
			domain.RequestRejected,
		} {
			requestsTotalCounter.WithLabelValues(string(status))
		}

		for _, actionType := range []domain.ActionType{
			domain.ActionApprove,
			domain.ActionReject,
			domain.ActionAutoApprove,
		} {
			actionsTotalCounter.WithLabelValues(string(actionType))
		}

		for _, status := range []domain.AssignmentStatus{
			domain.AssignmentAssigned,
			domain.AssignmentCompleted,
			domain.AssignmentOverdue,
		} {
			assignmentsTotalCounter.WithLabelValues(string(status))
		}
	})
}

func IncRequestStatus(status string) {
	Init()
	requestsTotalCounter.WithLabelValues(status).Inc()
}

func IncActionType(actionType string) {
	Init()
	actionsTotalCounter.WithLabelValues(actionType).Inc()
}

func IncAssignmentStatus(status string) {
	Init()
	assignmentsTotalCounter.WithLabelValues(status).Inc()
}

func ObserveSweepDuration(d time.Duration) {
	Init()
	sweepDurationMetric.Observe(d.Seconds())
}

func AddSweptAssignments(n int) {
	Init()
	sweptAssignmentsCounter.Add(float64(n))
}

func IncIdempotentReplay() {
	Init()
	idempotentReplaysCounter.Inc()
}

func IncIdempotencyConflict() {
	Init()
	idempotencyConflictsTotal.Inc()
}
