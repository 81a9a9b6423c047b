// Package main запускает симулятор расходомеров: периодически отправляет
// показания со случайным расходом и редкими всплесками в HTTP API сервиса
package main

import (
	"bytes"
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"aquaflow-service/internal/models"
)

// Config конфигурация симулятора
type Config struct {
	APIBase  string
	Meters   []string
	Interval time.Duration
	// SpikeChance вероятность аномального всплеска расхода
	SpikeChance float64
}

func main() {
	cfg := loadConfig()

	log.Printf("Starting sensor simulator: api=%s, meters=%v, interval=%v",
		cfg.APIBase, cfg.Meters, cfg.Interval)

	client := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sendReading(client, cfg)
		case <-stop:
			log.Println("Simulator stopped")
			return
		}
	}
}

// sendReading генерирует и отправляет одно показание
func sendReading(client *http.Client, cfg Config) {
	meter := cfg.Meters[rand.Intn(len(cfg.Meters))]
	pressure := round3(1.5 + rand.Float64()*2.0)
	temp := round2(18.0 + rand.Float64()*12.0)

	reading := models.Reading{
		MeterCode:    meter,
		FlowLPM:      genFlowLPM(cfg.SpikeChance),
		PressureBar:  &pressure,
		TemperatureC: &temp,
		TS:           time.Now().UTC(),
	}

	data, err := json.Marshal(reading)
	if err != nil {
		log.Printf("ERROR: failed to marshal reading: %v", err)
		return
	}

	resp, err := client.Post(cfg.APIBase+"/readings", "application/json", bytes.NewReader(data))
	if err != nil {
		log.Printf("ERROR: failed to send reading: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		log.Printf("ERROR: unexpected status %d for meter %s", resp.StatusCode, meter)
		return
	}
	log.Printf("OK: %s %s flow=%.3f L/min", reading.TS.Format(time.RFC3339), meter, reading.FlowLPM)
}

// genFlowLPM генерирует расход 12-30 л/мин с редким всплеском,
// имитирующим утечку или прорыв
func genFlowLPM(spikeChance float64) float64 {
	base := 12.0 + rand.Float64()*18.0
	if rand.Float64() < spikeChance {
		base *= 1.8 + rand.Float64()*0.7
	}
	return round3(base)
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// loadConfig загружает конфигурацию из переменных окружения
func loadConfig() Config {
	meters := strings.Split(getEnv("SIM_METERS", "SETOR-A-01,SETOR-A-02,SETOR-B-01"), ",")
	for i := range meters {
		meters[i] = strings.TrimSpace(meters[i])
	}

	interval := 5 * time.Second
	if v := os.Getenv("SIM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}

	spike := 0.05
	if v := os.Getenv("SIM_SPIKE_CHANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			spike = f
		}
	}

	return Config{
		APIBase:     strings.TrimRight(getEnv("API_BASE", "http://127.0.0.1:8080"), "/"),
		Meters:      meters,
		Interval:    interval,
		SpikeChance: spike,
	}
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
