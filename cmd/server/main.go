// Package main запускает сервис учета показаний расходомеров
// Сервис реализует:
// - HTTP API для приема и выборки показаний
// - Хранение сырых показаний в SQLite
// - Детекцию аномалий по z-score или IQR (скользящее окно по расходомеру)
// - Фоновый анализ с оповещениями по WebSocket
// - Кэширование в Redis
// - Экспорт метрик в Prometheus
package main

import (
	"context"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aquaflow-service/internal/anomaly"
	"aquaflow-service/internal/cache"
	"aquaflow-service/internal/handlers"
	"aquaflow-service/internal/metrics"
	"aquaflow-service/internal/monitor"
	"aquaflow-service/internal/store"
	"aquaflow-service/internal/ws"
)

// Config содержит конфигурацию сервиса
type Config struct {
	ServerAddr    string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MonitorInterval time.Duration
	MonitorLookback int
	AnalysisWindow  int
	AnalysisMethod  string
	ZThreshold      float64
	IQRK            float64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func main() {
	log.Println("Starting Aquaflow Service...")
	log.Printf("Go version: %s", runtime.Version())
	log.Printf("NumCPU: %d", runtime.NumCPU())

	// Загружаем конфигурацию
	cfg := loadConfig()

	// Открываем базу показаний
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open readings store: %v", err)
	}
	log.Printf("Readings store opened at %s", cfg.DBPath)

	// Инициализируем Redis кэш с повторами
	var redisCache *cache.RedisCache
	for i := 0; i < 5; i++ {
		redisCache, err = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			log.Printf("Connected to Redis at %s", cfg.RedisAddr)
			break
		}
		log.Printf("Redis connection attempt %d failed: %v", i+1, err)
		if i < 4 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis, running without cache: %v", err)
		redisCache = nil
	}

	// Лента оповещений и фоновый анализ
	hub := ws.NewHub()
	mon := monitor.New(st, redisCache, hub, monitor.Config{
		Interval:   cfg.MonitorInterval,
		Lookback:   cfg.MonitorLookback,
		Window:     cfg.AnalysisWindow,
		Method:     anomaly.Method(cfg.AnalysisMethod),
		ZThreshold: cfg.ZThreshold,
		IQRK:       cfg.IQRK,
	})
	mon.Start()

	// Создаем обработчики
	handler := handlers.NewHandler(st, redisCache)

	// Настраиваем маршруты
	router := mux.NewRouter()

	// API эндпоинты
	router.HandleFunc("/readings", handler.CreateReadingHandler).Methods("POST")
	router.HandleFunc("/readings", handler.ListReadingsHandler).Methods("GET")
	router.HandleFunc("/readings/batch", handler.BatchReadingsHandler).Methods("POST")
	router.HandleFunc("/readings/count", handler.CountReadingsHandler).Methods("GET")
	router.HandleFunc("/readings/latest", handler.LatestReadingsHandler).Methods("GET")
	router.HandleFunc("/analytics/anomalies", handler.AnomaliesHandler).Methods("GET")
	router.HandleFunc("/analytics/detect", handler.DetectHandler).Methods("POST")
	router.HandleFunc("/health", handler.HealthHandler).Methods("GET")
	router.HandleFunc("/stats", handler.StatsHandler).Methods("GET")
	router.HandleFunc("/ws/alerts", hub.HandleAlerts)

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler())

	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	// Middleware для логирования и метрик
	router.Use(loggingMiddleware)
	router.Use(metricsMiddleware)

	// Создаем HTTP сервер с настройками таймаутов
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Горутина для обновления служебных метрик
	go updateMetricsLoop()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Server listening on %s", cfg.ServerAddr)
		log.Printf("Endpoints:")
		log.Printf("  POST /readings            - Submit a meter reading")
		log.Printf("  POST /readings/batch      - Submit batch readings")
		log.Printf("  GET  /readings            - List stored readings")
		log.Printf("  GET  /readings/count      - Count stored readings")
		log.Printf("  GET  /readings/latest     - Latest readings from cache")
		log.Printf("  GET  /analytics/anomalies - Detected anomalies")
		log.Printf("  POST /analytics/detect    - Ad-hoc anomaly detection")
		log.Printf("  GET  /ws/alerts           - WebSocket anomaly feed")
		log.Printf("  GET  /health              - Health check")
		log.Printf("  GET  /stats               - Service statistics")
		log.Printf("  GET  /metrics             - Prometheus metrics")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Ожидаем сигнал завершения
	<-stop
	log.Println("Shutting down server...")

	// Контекст с таймаутом для завершения
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Останавливаем фоновый анализ и ленту оповещений
	mon.Stop()
	hub.Close()

	// Закрываем Redis
	if redisCache != nil {
		redisCache.Close()
	}

	// Завершаем HTTP сервер
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Закрываем базу после остановки обработчиков
	if err := st.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}

	log.Println("Server stopped")
}

// loadConfig загружает конфигурацию из переменных окружения
func loadConfig() Config {
	return Config{
		ServerAddr:    getEnv("SERVER_ADDR", ":8080"),
		DBPath:        getEnv("DB_PATH", "data.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MonitorInterval: getEnvDuration("MONITOR_INTERVAL", 30*time.Second),
		MonitorLookback: getEnvInt("MONITOR_LOOKBACK", 1000),
		AnalysisWindow:  getEnvInt("ANALYSIS_WINDOW", anomaly.DefaultWindow),
		AnalysisMethod:  getEnv("ANALYSIS_METHOD", string(anomaly.MethodZScore)),
		ZThreshold:      getEnvFloat("Z_THRESHOLD", anomaly.DefaultZThreshold),
		IQRK:            getEnvFloat("IQR_K", anomaly.DefaultIQRK),

		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvFloat получает вещественную переменную окружения
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration получает переменную окружения с длительностью
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loggingMiddleware логирует HTTP запросы
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

// metricsMiddleware обновляет метрики для каждого запроса
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.CurrentRPS.Inc()
		next.ServeHTTP(w, r)
	})
}

// updateMetricsLoop периодически обновляет служебные метрики Prometheus
func updateMetricsLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
	}
}
