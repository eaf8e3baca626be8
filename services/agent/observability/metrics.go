// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes agent loop metrics as Prometheus
// collectors fed by the loop's event stream.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/KiskaLocal/services/agent"
)

// Collector translates loop events into Prometheus metrics.
//
// Thread Safety: Collector is safe for concurrent use; the underlying
// Prometheus types synchronize internally.
type Collector struct {
	runsStarted    prometheus.Counter
	runsCompleted  prometheus.Counter
	workerActions  *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
	askExchanges   prometheus.Counter
	compactions    prometheus.Counter
	mainDecisions  *prometheus.CounterVec
	stepsPerRun    prometheus.Histogram
	evidencePerRun prometheus.Histogram
}

// NewCollector registers the agent metrics with reg. Passing
// prometheus.DefaultRegisterer wires the process-global registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiska", Subsystem: "agent",
			Name: "runs_started_total", Help: "Agent loop runs started.",
		}),
		runsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiska", Subsystem: "agent",
			Name: "runs_completed_total", Help: "Agent loop runs completed.",
		}),
		workerActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiska", Subsystem: "agent",
			Name: "worker_actions_total", Help: "Worker actions by kind.",
		}, []string{"action"}),
		toolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiska", Subsystem: "agent",
			Name: "tool_executions_total", Help: "Sandbox executions by exit class.",
		}, []string{"exit_class"}),
		askExchanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiska", Subsystem: "agent",
			Name: "ask_exchanges_total", Help: "Operator YES/NO exchanges.",
		}),
		compactions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kiska", Subsystem: "agent",
			Name: "session_compactions_total", Help: "Session compactions performed.",
		}),
		mainDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiska", Subsystem: "agent",
			Name: "main_decisions_total", Help: "Main model decisions by phase and verdict.",
		}, []string{"phase", "decision"}),
		stepsPerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kiska", Subsystem: "agent",
			Name: "steps_per_run", Help: "Worker steps per completed run.",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
		evidencePerRun: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kiska", Subsystem: "agent",
			Name: "evidence_per_run", Help: "Evidence items per completed run.",
			Buckets: prometheus.LinearBuckets(0, 3, 10),
		}),
	}
}

// Observe consumes one loop event. It satisfies agent.Observer and can
// be chained with other observers by the caller.
func (c *Collector) Observe(event agent.Event) {
	switch data := event.Data.(type) {
	case *agent.StartData:
		c.runsStarted.Inc()
	case *agent.WorkerActionData:
		c.workerActions.WithLabelValues(data.Action).Inc()
	case *agent.ToolResultData:
		class := "ok"
		if data.ExitCode != 0 {
			class = "error"
		}
		c.toolExecutions.WithLabelValues(class).Inc()
	case *agent.AskAnswerData:
		c.askExchanges.Inc()
	case *agent.CompactionCompleteData:
		c.compactions.Inc()
	case *agent.MainDecisionData:
		c.mainDecisions.WithLabelValues(data.Phase, data.Decision).Inc()
	case *agent.CompleteData:
		c.runsCompleted.Inc()
		c.stepsPerRun.Observe(float64(data.Steps))
		c.evidencePerRun.Observe(float64(data.EvidenceCount))
	}
}

// Chain fans one event out to several observers in order.
func Chain(observers ...agent.Observer) agent.Observer {
	return func(event agent.Event) {
		for _, observe := range observers {
			if observe != nil {
				observe(event)
			}
		}
	}
}
