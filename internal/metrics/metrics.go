// Package metrics exposes Prometheus collectors for the ingestion and generation paths.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hertscortex"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ingestions   *prometheus.CounterVec
	extractions  *prometheus.CounterVec
	gateDecision *prometheus.CounterVec
	generations  *prometheus.CounterVec
	llmLatency   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Study session ingestion attempts by outcome.",
		}, []string{"outcome"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Per-file text extractions by document category and outcome.",
		}, []string{"category", "outcome"}),
		gateDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Academic content gate decisions.",
		}, []string{"decision"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Persona generation requests by persona, mode and outcome.",
		}, []string{"persona", "mode", "outcome"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Wall-clock duration of language-model calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(m.ingestions, m.extractions, m.gateDecision, m.generations, m.llmLatency)
	}
	return m
}

func (m *Metrics) IngestionFinished(outcome string) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ExtractionFinished(category, outcome string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) GateDecided(decision string) {
	if m == nil {
		return
	}
	m.gateDecision.WithLabelValues(decision).Inc()
}

func (m *Metrics) GenerationFinished(persona, mode, outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(persona, mode, outcome).Inc()
}

// ObserveLLM records how long one model call took.
func (m *Metrics) ObserveLLM(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
