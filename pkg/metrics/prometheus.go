// Package metrics exposes Prometheus collectors for the engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global metrics container.
type Metrics struct {
	// Simulation metrics
	SimulationRunsTotal  *prometheus.CounterVec
	SimulationDuration   *prometheus.HistogramVec
	SimulationSteps      *prometheus.HistogramVec
	ModelNodesTotal      *prometheus.HistogramVec
	MassBalanceResidual  prometheus.Gauge

	// Optimisation metrics
	OptimisationRunsTotal *prometheus.CounterVec
	EvaluationsTotal      *prometheus.CounterVec
	EvaluationDuration    *prometheus.HistogramVec
	BestObjective         *prometheus.GaugeVec

	// Session metrics
	SessionMessagesTotal *prometheus.CounterVec

	// Service info
	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics initialises the metrics container.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		SimulationRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "simulation_runs_total",
				Help:      "Total number of simulation runs",
			},
			[]string{"status"},
		),

		SimulationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "simulation_duration_seconds",
				Help:      "Wall-clock duration of simulation runs",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),

		SimulationSteps: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "simulation_steps",
				Help:      "Number of timesteps per simulation run",
				Buckets:   []float64{100, 365, 1000, 3650, 10000, 36500, 100000},
			},
			[]string{"status"},
		),

		ModelNodesTotal: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "model_nodes_total",
				Help:      "Number of nodes in simulated models",
				Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000},
			},
			[]string{"operation"},
		),

		MassBalanceResidual: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "mass_balance_residual",
				Help:      "Absolute mass balance residual of the last run",
			},
		),

		OptimisationRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "optimisation_runs_total",
				Help:      "Total number of optimisation runs",
			},
			[]string{"algorithm", "status"},
		),

		EvaluationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "evaluations_total",
				Help:      "Total number of objective function evaluations",
			},
			[]string{"algorithm"},
		),

		EvaluationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of single objective evaluations",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"algorithm"},
		),

		BestObjective: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "best_objective",
				Help:      "Best objective value of the current optimisation run",
			},
			[]string{"algorithm"},
		),

		SessionMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "session_messages_total",
				Help:      "Total number of session protocol messages",
			},
			[]string{"direction", "type"},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics container.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("kalix", "")
	}
	return defaultMetrics
}

// RecordSimulation records the metrics of a simulation run.
func (m *Metrics) RecordSimulation(success bool, steps int, duration time.Duration, residual float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.SimulationRunsTotal.WithLabelValues(status).Inc()
	m.SimulationDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.SimulationSteps.WithLabelValues(status).Observe(float64(steps))
	if success {
		m.MassBalanceResidual.Set(residual)
	}
}

// RecordOptimisation records the metrics of an optimisation run.
func (m *Metrics) RecordOptimisation(algorithm string, success bool, evaluations int, best float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.OptimisationRunsTotal.WithLabelValues(algorithm, status).Inc()
	m.EvaluationsTotal.WithLabelValues(algorithm).Add(float64(evaluations))
	m.BestObjective.WithLabelValues(algorithm).Set(best)
}

// RecordModelSize records the node count of a configured model.
func (m *Metrics) RecordModelSize(operation string, nodes int) {
	m.ModelNodesTotal.WithLabelValues(operation).Observe(float64(nodes))
}

// RecordSessionMessage counts one protocol message.
func (m *Metrics) RecordSessionMessage(direction, msgType string) {
	m.SessionMessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// SetServiceInfo sets the static service information gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the HTTP server for metrics.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write errors are not critical
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
