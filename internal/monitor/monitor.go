// Package monitor реализует фоновый цикл анализа показаний:
// периодически читает последние показания из базы, прогоняет детектор
// и рассылает оповещения о новых аномалиях
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"aquaflow-service/internal/anomaly"
	"aquaflow-service/internal/cache"
	"aquaflow-service/internal/metrics"
	"aquaflow-service/internal/store"
	"aquaflow-service/internal/ws"
)

// Config параметры фонового анализа
type Config struct {
	// Interval период между прогонами детектора
	Interval time.Duration
	// Lookback сколько последних показаний анализировать за прогон
	Lookback int
	// Window размер скользящего окна
	Window int
	// Method метод детекции
	Method anomaly.Method
	// ZThreshold порог |z| для zscore
	ZThreshold float64
	// IQRK множитель IQR
	IQRK float64
}

// Monitor фоновой анализатор показаний
type Monitor struct {
	store *store.Store
	cache *cache.RedisCache
	hub   *ws.Hub
	cfg   Config

	// lastAlert метка времени последней аномалии по каждому расходомеру,
	// чтобы не оповещать повторно о тех же точках при пересекающихся прогонах
	mu        sync.Mutex
	lastAlert map[string]time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New создает монитор. cache может быть nil, сервис работает без Redis.
func New(st *store.Store, ca *cache.RedisCache, hub *ws.Hub, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 1000
	}
	return &Monitor{
		store:     st,
		cache:     ca,
		hub:       hub,
		cfg:       cfg,
		lastAlert: make(map[string]time.Time),
		stopChan:  make(chan struct{}),
	}
}

// Start запускает фоновый цикл анализа
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.runOnce()
			case <-m.stopChan:
				return
			}
		}
	}()
	log.Printf("Monitor started: interval=%v, lookback=%d, method=%s, window=%d",
		m.cfg.Interval, m.cfg.Lookback, m.cfg.Method, m.cfg.Window)
}

// Stop останавливает фоновый цикл
func (m *Monitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}

// runOnce выполняет один прогон: выборка, детекция, оповещения
func (m *Monitor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Interval)
	defer cancel()

	readings, err := m.store.ListReadings(ctx, store.Filter{Limit: m.cfg.Lookback})
	if err != nil {
		log.Printf("Monitor: failed to load readings: %v", err)
		return
	}
	if len(readings) == 0 {
		return
	}

	input := make([]anomaly.Reading, 0, len(readings))
	for _, r := range readings {
		input = append(input, anomaly.Reading{
			MeterCode: r.MeterCode,
			FlowLPM:   r.FlowLPM,
			TS:        r.TS,
		})
	}

	start := time.Now()
	rows, err := anomaly.Detect(input, anomaly.Options{
		Window:     m.cfg.Window,
		Method:     m.cfg.Method,
		ZThreshold: m.cfg.ZThreshold,
		IQRK:       m.cfg.IQRK,
	})
	if err != nil {
		log.Printf("Monitor: detection failed: %v", err)
		return
	}
	metrics.ObserveAnalysis(time.Since(start).Seconds(), len(rows))

	for i := range rows {
		row := &rows[i]
		if !row.IsAnomaly || row.TS == nil || row.FlowLPM == nil {
			continue
		}
		if !m.markAlerted(row.MeterCode, *row.TS) {
			continue
		}

		metrics.AnomaliesDetected.Inc()
		if m.cache != nil {
			if _, err := m.cache.IncrementCounter("anomalies:total"); err != nil {
				log.Printf("Monitor: failed to increment anomaly counter: %v", err)
			}
		}

		alert := ws.Alert{
			ID:          uuid.NewString(),
			MeterCode:   row.MeterCode,
			TS:          *row.TS,
			FlowLPM:     *row.FlowLPM,
			ZScore:      row.ZScore,
			RollingLow:  row.RollingLow,
			RollingHigh: row.RollingHigh,
			Method:      string(row.Method),
			DetectedAt:  time.Now().UTC(),
		}
		m.hub.Broadcast(alert)

		if row.ZScore != nil {
			log.Printf("ANOMALY DETECTED: meter=%s, flow=%.3f, z_score=%.2f, ts=%s",
				row.MeterCode, *row.FlowLPM, *row.ZScore, row.TS.Format(time.RFC3339))
		} else {
			log.Printf("ANOMALY DETECTED: meter=%s, flow=%.3f, bounds=[%.3f, %.3f], ts=%s",
				row.MeterCode, *row.FlowLPM, *row.RollingLow, *row.RollingHigh, row.TS.Format(time.RFC3339))
		}
	}
}

// markAlerted возвращает true, если точка новее последней аномалии
// расходомера, и запоминает ее
func (m *Monitor) markAlerted(meterCode string, ts time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastAlert[meterCode]; ok && !ts.After(last) {
		return false
	}
	m.lastAlert[meterCode] = ts
	return true
}
