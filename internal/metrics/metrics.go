// Package metrics exposes the Prometheus instrumentation for the agent
// runtime. Registration happens once at import time via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts scheduler ticks.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycelium_scheduler_ticks_total",
		Help: "Total number of scheduler ticks",
	})

	// StepErrors counts contained agent step failures, by agent kind.
	StepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mycelium_agent_step_errors_total",
		Help: "Total number of contained agent step errors",
	}, []string{"kind"})

	// IdeasPublished counts trade ideas, by stream (baseline, mycelial).
	IdeasPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mycelium_trade_ideas_total",
		Help: "Total number of trade ideas published",
	}, []string{"stream"})

	// CollisionsExecuted counts executed signal collisions.
	CollisionsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycelium_collisions_executed_total",
		Help: "Total number of synthesized trades executed on signal collision",
	})

	// CollisionConflicts counts same-pair signals with disagreeing direction.
	CollisionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycelium_collision_conflicts_total",
		Help: "Total number of directional conflicts between signal streams",
	})

	// Deployments counts builder deployments.
	Deployments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycelium_builder_deployments_total",
		Help: "Total number of agent-team deployments",
	})

	// RejectedDeployments counts builder capacity/cooldown rejections.
	RejectedDeployments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycelium_builder_rejections_total",
		Help: "Total number of rejected deployment requests",
	})

	// ArchivedPatterns counts durable pattern rows written.
	ArchivedPatterns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mycelium_archived_patterns_total",
		Help: "Total number of archived pattern rows",
	})

	// RiskHalted is 1 while the risk manager has trading halted.
	RiskHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mycelium_risk_halted",
		Help: "Whether the risk circuit breaker has halted trading (1=halted)",
	})
)
