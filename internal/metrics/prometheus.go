// Package metrics реализует экспорт метрик сервиса в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aquaflow_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aquaflow_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// ReadingsReceived количество принятых показаний
	ReadingsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_readings_received_total",
			Help: "Total number of meter readings received",
		},
	)

	// AnomaliesDetected количество обнаруженных аномалий
	AnomaliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_anomalies_detected_total",
			Help: "Total number of anomalies detected",
		},
	)

	// AnalysisRuns количество прогонов детектора
	AnalysisRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_analysis_runs_total",
			Help: "Total number of anomaly detection runs",
		},
	)

	// AnalysisLatency время выполнения анализа
	AnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aquaflow_analysis_latency_seconds",
			Help:    "Anomaly detection latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)

	// AnalysisRows количество строк в последнем прогоне детектора
	AnalysisRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aquaflow_analysis_rows",
			Help: "Number of rows analyzed in the last detection run",
		},
	)

	// CacheHits попадания в кэш
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses промахи кэша
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aquaflow_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CurrentRPS текущий счетчик запросов
	CurrentRPS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aquaflow_current_rps",
			Help: "Current requests per second",
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aquaflow_active_goroutines",
			Help: "Number of active goroutines",
		},
	)

	// WSClients количество подключенных клиентов ленты оповещений
	WSClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aquaflow_ws_clients",
			Help: "Number of connected WebSocket alert clients",
		},
	)
)

// ObserveAnalysis обновляет метрики одного прогона детектора.
// AnomaliesDetected здесь не трогаем: прогоны пересекаются по данным,
// новые аномалии считает монитор.
func ObserveAnalysis(seconds float64, rows int) {
	AnalysisRuns.Inc()
	AnalysisLatency.Observe(seconds)
	AnalysisRows.Set(float64(rows))
}
