package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the benchmark
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Runs counts finished combinations by outcome
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrpbench_runs_total", Help: "Experiment runs by problem, strategies and outcome."},
		[]string{"problem", "first_solution", "local_search", "outcome"},
	)
	// RunDuration tracks wall time per run in seconds
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "vrpbench_run_duration_seconds", Help: "Run wall time in seconds.", Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30}},
		[]string{"problem", "local_search"},
	)
	// Objective holds the last objective value per combination
	Objective = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "vrpbench_objective_value", Help: "Objective of the last solved run."},
		[]string{"problem", "first_solution", "local_search"},
	)
	// EngineIterations counts local search iterations
	EngineIterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrpbench_engine_iterations_total", Help: "Local search iterations performed by the engine."},
		[]string{"local_search"},
	)
	// WebhookDeliveries counts notifications per target by outcome
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrpbench_webhook_deliveries_total", Help: "Webhook deliveries by event type and outcome."},
		[]string{"event", "outcome"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Runs)
		Registry.MustRegister(RunDuration)
		Registry.MustRegister(Objective)
		Registry.MustRegister(EngineIterations)
		Registry.MustRegister(WebhookDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObserveRun records one finished run. objective is nil unless solved.
func ObserveRun(problem, first, local, outcome string, elapsed time.Duration, objective *int64, iterations int) {
	Runs.WithLabelValues(problem, first, local, outcome).Inc()
	RunDuration.WithLabelValues(problem, local).Observe(elapsed.Seconds())
	if objective != nil {
		Objective.WithLabelValues(problem, first, local).Set(float64(*objective))
	}
	if iterations > 0 {
		EngineIterations.WithLabelValues(local).Add(float64(iterations))
	}
}
