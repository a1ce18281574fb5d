package deletion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts delete-by-user runs by enumeration strategy and outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coachrag",
			Subsystem: "deletion",
			Name:      "runs_total",
			Help:      "Delete-by-user runs by enumeration strategy and result",
		},
		[]string{"strategy", "result"},
	)

	// RecordsTotal counts per-record delete outcomes.
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coachrag",
			Subsystem: "deletion",
			Name:      "records_total",
			Help:      "Records processed by delete-by-user, by result",
		},
		[]string{"result"},
	)

	// TruncatedTotal counts enumerations that hit the query cap.
	TruncatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coachrag",
			Subsystem: "deletion",
			Name:      "enumeration_truncated_total",
			Help:      "Enumerations that returned as many records as the configured limit and may be incomplete",
		},
	)
)
