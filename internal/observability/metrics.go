package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "insight"

type moduleMetrics struct {
	runTotal      *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runIterations prometheus.Histogram
	activeRuns    prometheus.Gauge

	llmCallTotal    *prometheus.CounterVec
	llmCallDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	parseErrorsTotal *prometheus.CounterVec

	retrievalDuration *prometheus.HistogramVec

	laneDepth *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "agent_runs_total",
					Help:      "Agent runs by terminal status.",
				},
				[]string{"status"},
			),
			runDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_duration_seconds",
					Help:      "Wall-clock duration of agent runs.",
					Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
			),
			runIterations: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "agent_run_iterations",
					Help:      "Action steps taken per run.",
					Buckets:   prometheus.LinearBuckets(0, 1, 11),
				},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "agent_active_runs",
					Help:      "Runs currently in the Running state.",
				},
			),
			llmCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "llm_calls_total",
					Help:      "Reasoning capability calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			llmCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "llm_call_duration_seconds",
					Help:      "Reasoning capability latency by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_executions_total",
					Help:      "Tool invocations by tool and outcome.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool invocation latency.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			parseErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "parse_errors_total",
					Help:      "Unparseable reasoning outputs by kind.",
				},
				[]string{"kind"},
			),
			retrievalDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "retrieval_search_duration_seconds",
					Help:      "Semantic search latency by corpus.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"corpus"},
			),
			laneDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "lane_depth",
					Help:      "Queued plus running runs per session lane.",
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.runTotal,
			m.runDuration,
			m.runIterations,
			m.activeRuns,
			m.llmCallTotal,
			m.llmCallDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.parseErrorsTotal,
			m.retrievalDuration,
			m.laneDepth,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RunStarted() {
	getMetrics().activeRuns.Inc()
}

func RecordRun(status string, iterations int, duration time.Duration) {
	m := getMetrics()
	m.activeRuns.Dec()
	m.runTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
	m.runIterations.Observe(float64(iterations))
}

func RecordLLMCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.llmCallTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.llmCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordToolExecution counts one invocation. status is "success" or the
// tool error kind.
func RecordToolExecution(tool string, duration time.Duration, status string) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordParseError(kind string) {
	getMetrics().parseErrorsTotal.WithLabelValues(kind).Inc()
}

func RecordRetrievalSearch(corpus string, duration time.Duration) {
	getMetrics().retrievalDuration.WithLabelValues(corpus).Observe(duration.Seconds())
}

func SetLaneDepth(lane string, depth int) {
	getMetrics().laneDepth.WithLabelValues(lane).Set(float64(depth))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
