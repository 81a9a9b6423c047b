// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aquaflow-service/internal/anomaly"
	"aquaflow-service/internal/cache"
	"aquaflow-service/internal/metrics"
	"aquaflow-service/internal/models"
	"aquaflow-service/internal/store"
)

// Handler содержит зависимости для HTTP обработчиков.
// cache может быть nil, сервис работает без Redis.
type Handler struct {
	store     *store.Store
	cache     *cache.RedisCache
	startTime time.Time
}

// NewHandler создает новый обработчик
func NewHandler(st *store.Store, ca *cache.RedisCache) *Handler {
	return &Handler{
		store:     st,
		cache:     ca,
		startTime: time.Now(),
	}
}

// CreateReadingHandler обрабатывает POST /readings - прием одного показания
func (h *Handler) CreateReadingHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/readings", r.Method))
	defer timer.ObserveDuration()

	var reading models.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "400").Inc()
		return
	}

	if err := reading.Validate(); err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "400").Inc()
		return
	}

	if err := h.store.InsertReading(r.Context(), &reading); err != nil {
		h.respondError(w, "Failed to store reading: "+err.Error(), http.StatusInternalServerError)
		metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "500").Inc()
		return
	}

	metrics.ReadingsReceived.Inc()

	// Кэшируем показание в Redis
	if h.cache != nil {
		if err := h.cache.CacheReading(reading); err != nil {
			metrics.CacheMisses.Inc()
		} else {
			metrics.CacheHits.Inc()
		}
	}

	if h.cache != nil {
		_, _ = h.cache.IncrementCounter("readings:total")
	}

	metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "201").Inc()
	h.respondJSON(w, reading, http.StatusCreated)
}

// BatchReadingsHandler обрабатывает POST /readings/batch - массовая загрузка
func (h *Handler) BatchReadingsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/readings/batch", r.Method))
	defer timer.ObserveDuration()

	var batch models.ReadingBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/readings/batch", r.Method, "400").Inc()
		return
	}

	valid := make([]models.Reading, 0, len(batch.Readings))
	rejected := 0
	for i := range batch.Readings {
		if err := batch.Readings[i].Validate(); err != nil {
			rejected++
			continue
		}
		valid = append(valid, batch.Readings[i])
	}

	stored := 0
	if len(valid) > 0 {
		var err error
		stored, err = h.store.InsertBatch(r.Context(), valid)
		if err != nil {
			h.respondError(w, "Failed to store batch: "+err.Error(), http.StatusInternalServerError)
			metrics.RequestsTotal.WithLabelValues("/readings/batch", r.Method, "500").Inc()
			return
		}
	}

	metrics.ReadingsReceived.Add(float64(stored))
	if h.cache != nil {
		for i := range valid {
			_ = h.cache.CacheReading(valid[i])
		}
	}

	response := map[string]interface{}{
		"stored":   stored,
		"rejected": rejected,
	}

	metrics.RequestsTotal.WithLabelValues("/readings/batch", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// ListReadingsHandler обрабатывает GET /readings - выборка показаний
func (h *Handler) ListReadingsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/readings", r.Method))
	defer timer.ObserveDuration()

	limit, err := queryInt(r, "limit", 100, 1, 5000)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "400").Inc()
		return
	}
	since, err := queryTime(r, "since")
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "400").Inc()
		return
	}

	readings, err := h.store.ListReadings(r.Context(), store.Filter{
		MeterCode: r.URL.Query().Get("meter_code"),
		Since:     since,
		Limit:     limit,
	})
	if err != nil {
		h.respondError(w, "Failed to list readings: "+err.Error(), http.StatusInternalServerError)
		metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "500").Inc()
		return
	}

	metrics.RequestsTotal.WithLabelValues("/readings", r.Method, "200").Inc()
	h.respondJSON(w, readings, http.StatusOK)
}

// CountReadingsHandler обрабатывает GET /readings/count
func (h *Handler) CountReadingsHandler(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountReadings(r.Context(), r.URL.Query().Get("meter_code"))
	if err != nil {
		h.respondError(w, "Failed to count readings: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, map[string]int64{"count": count}, http.StatusOK)
}

// LatestReadingsHandler возвращает последние показания из кэша
func (h *Handler) LatestReadingsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/readings/latest", r.Method))
	defer timer.ObserveDuration()

	count, err := queryInt(r, "count", 50, 1, 1000)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.cache == nil {
		h.respondError(w, "Cache not available", http.StatusServiceUnavailable)
		return
	}

	readings, err := h.cache.GetLatestReadings(int64(count))
	if err != nil {
		h.respondError(w, "Failed to get readings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	metrics.RequestsTotal.WithLabelValues("/readings/latest", r.Method, "200").Inc()
	h.respondJSON(w, readings, http.StatusOK)
}

// AnomaliesHandler обрабатывает GET /analytics/anomalies - детекция по
// сохраненным показаниям; возвращает только аномальные строки
func (h *Handler) AnomaliesHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/analytics/anomalies", r.Method))
	defer timer.ObserveDuration()

	method, err := anomaly.ParseMethod(r.URL.Query().Get("method"))
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "400").Inc()
		return
	}
	window, err := queryInt(r, "window", anomaly.DefaultWindow, 2, 240)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "400").Inc()
		return
	}
	zthr, err := queryFloat(r, "zthr", anomaly.DefaultZThreshold, 0.5, 10)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "400").Inc()
		return
	}
	iqrk, err := queryFloat(r, "iqrk", 2.0, 0.1, 6)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "400").Inc()
		return
	}
	h.serveAnomalies(w, r, method, window, zthr, iqrk)
}

// serveAnomalies выполняет выборку, детекцию и отдачу аномалий
func (h *Handler) serveAnomalies(w http.ResponseWriter, r *http.Request, method anomaly.Method, window int, zthr, iqrk float64) {
	limit, err := queryInt(r, "limit", 200, 10, 5000)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "400").Inc()
		return
	}
	since, err := queryTime(r, "since")
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "400").Inc()
		return
	}
	meterCode := r.URL.Query().Get("meter_code")

	// Короткий кэш ответа: панель опрашивает эндпоинт периодически
	cacheKey := fmt.Sprintf("%s:%d:%g:%g:%s:%s:%d",
		method, window, zthr, iqrk, meterCode, r.URL.Query().Get("since"), limit)
	if h.cache != nil {
		var cached []anomaly.Row
		if ok, err := h.cache.GetAnomalies(cacheKey, &cached); err == nil && ok {
			metrics.CacheHits.Inc()
			metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "200").Inc()
			h.respondJSON(w, cached, http.StatusOK)
			return
		}
		metrics.CacheMisses.Inc()
	}

	readings, err := h.store.ListReadings(r.Context(), store.Filter{
		MeterCode: meterCode,
		Since:     since,
		Limit:     limit,
	})
	if err != nil {
		h.respondError(w, "Failed to list readings: "+err.Error(), http.StatusInternalServerError)
		metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "500").Inc()
		return
	}
	if len(readings) == 0 {
		metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "200").Inc()
		h.respondJSON(w, []anomaly.Row{}, http.StatusOK)
		return
	}

	input := make([]anomaly.Reading, 0, len(readings))
	for _, rd := range readings {
		input = append(input, anomaly.Reading{
			MeterCode: rd.MeterCode,
			FlowLPM:   rd.FlowLPM,
			TS:        rd.TS,
		})
	}

	start := time.Now()
	rows, err := anomaly.Detect(input, anomaly.Options{
		Window:     window,
		Method:     method,
		ZThreshold: zthr,
		IQRK:       iqrk,
	})
	if err != nil {
		var invalid *anomaly.InvalidMethodError
		if errors.As(err, &invalid) {
			h.respondError(w, err.Error(), http.StatusBadRequest)
			metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "400").Inc()
			return
		}
		h.respondError(w, "Detection failed: "+err.Error(), http.StatusInternalServerError)
		metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "500").Inc()
		return
	}
	metrics.ObserveAnalysis(time.Since(start).Seconds(), len(rows))

	// Оставляем только аномалии, последние сверху
	anomalies := make([]anomaly.Row, 0)
	for i := range rows {
		if rows[i].IsAnomaly {
			anomalies = append(anomalies, rows[i])
		}
	}
	sort.SliceStable(anomalies, func(i, j int) bool {
		if anomalies[i].TS == nil || anomalies[j].TS == nil {
			return false
		}
		return anomalies[i].TS.After(*anomalies[j].TS)
	})

	if h.cache != nil {
		_ = h.cache.CacheAnomalies(cacheKey, anomalies)
	}

	metrics.RequestsTotal.WithLabelValues("/analytics/anomalies", r.Method, "200").Inc()
	h.respondJSON(w, anomalies, http.StatusOK)
}

// DetectHandler обрабатывает POST /analytics/detect - разовая детекция
// по произвольным записям из тела запроса, без сохранения
func (h *Handler) DetectHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/analytics/detect", r.Method))
	defer timer.ObserveDuration()

	method, err := anomaly.ParseMethod(r.URL.Query().Get("method"))
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/detect", r.Method, "400").Inc()
		return
	}
	window, err := queryInt(r, "window", anomaly.DefaultWindow, 2, 240)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/detect", r.Method, "400").Inc()
		return
	}
	zthr, err := queryFloat(r, "zthr", anomaly.DefaultZThreshold, 0.5, 10)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/detect", r.Method, "400").Inc()
		return
	}
	iqrk, err := queryFloat(r, "iqrk", anomaly.DefaultIQRK, 0.1, 6)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/detect", r.Method, "400").Inc()
		return
	}

	var records []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		h.respondError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/detect", r.Method, "400").Inc()
		return
	}

	if len(records) == 0 {
		metrics.RequestsTotal.WithLabelValues("/analytics/detect", r.Method, "200").Inc()
		h.respondJSON(w, map[string]interface{}{
			"processed":       0,
			"anomalies_found": 0,
			"results":         []anomaly.Row{},
		}, http.StatusOK)
		return
	}

	readings, err := anomaly.FromRecords(records)
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/detect", r.Method, "400").Inc()
		return
	}

	start := time.Now()
	rows, err := anomaly.Detect(readings, anomaly.Options{
		Window:     window,
		Method:     method,
		ZThreshold: zthr,
		IQRK:       iqrk,
	})
	if err != nil {
		h.respondError(w, err.Error(), http.StatusBadRequest)
		metrics.RequestsTotal.WithLabelValues("/analytics/detect", r.Method, "400").Inc()
		return
	}
	metrics.ObserveAnalysis(time.Since(start).Seconds(), len(rows))

	anomaliesFound := 0
	for i := range rows {
		if rows[i].IsAnomaly {
			anomaliesFound++
		}
	}

	response := map[string]interface{}{
		"processed":       len(rows),
		"anomalies_found": anomaliesFound,
		"results":         rows,
	}

	metrics.RequestsTotal.WithLabelValues("/analytics/detect", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if err := h.store.Ping(r.Context()); err != nil {
		dbStatus = "disconnected"
	}

	redisStatus := "disconnected"
	if h.cache != nil && h.cache.Ping() == nil {
		redisStatus = "connected"
	}

	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
		Redis:     redisStatus,
		Uptime:    time.Since(h.startTime).String(),
	}

	h.respondJSON(w, status, http.StatusOK)
}

// StatsHandler обрабатывает GET /stats - статистика сервиса
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues("/stats", r.Method))
	defer timer.ObserveDuration()

	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	total, err := h.store.CountReadings(r.Context(), "")
	if err != nil {
		h.respondError(w, "Failed to count readings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var anomaliesCount int64
	if h.cache != nil {
		anomaliesCount, _ = h.cache.GetCounter("anomalies:total")
	}

	response := models.StatsResponse{
		TotalReadings:  total,
		AnomaliesCount: anomaliesCount,
	}

	metrics.RequestsTotal.WithLabelValues("/stats", r.Method, "200").Inc()
	h.respondJSON(w, response, http.StatusOK)
}

// queryInt читает целочисленный параметр запроса с границами
func queryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %q must be an integer", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("parameter %q must be between %d and %d", name, min, max)
	}
	return v, nil
}

// queryFloat читает вещественный параметр запроса с границами
func queryFloat(r *http.Request, name string, def, min, max float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %q must be a number", name)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("parameter %q must be between %g and %g", name, min, max)
	}
	return v, nil
}

// queryTime читает временной параметр запроса в формате RFC3339
func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parameter %q must be an RFC3339 timestamp", name)
	}
	return t.UTC(), nil
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
