package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts submit attempts by outcome: the error kind, or "recorded".
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "examroom",
		Name:      "submissions_total",
		Help:      "Number of exam submission attempts by outcome.",
	}, []string{"outcome"})

	// LifecycleTransitions counts successful exam lifecycle operations.
	LifecycleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "examroom",
		Name:      "lifecycle_transitions_total",
		Help:      "Number of exam lifecycle operations by kind.",
	}, []string{"transition"})
)
