// Package models содержит структуры данных показаний расходомеров и API
package models

import (
	"errors"
	"time"
)

// Reading представляет одно показание расходомера
type Reading struct {
	ID           int64     `json:"id,omitempty"`
	MeterCode    string    `json:"meter_code"`
	FlowLPM      float64   `json:"flow_lpm"`
	PressureBar  *float64  `json:"pressure_bar,omitempty"`
	TemperatureC *float64  `json:"temperature_c,omitempty"`
	TS           time.Time `json:"ts,omitempty"`
}

// Validate проверяет показание перед сохранением
func (r *Reading) Validate() error {
	if r.MeterCode == "" {
		return errors.New("meter_code is required")
	}
	if len(r.MeterCode) > 64 {
		return errors.New("meter_code must be at most 64 characters")
	}
	if r.FlowLPM <= 0 {
		return errors.New("flow_lpm must be positive")
	}
	if r.PressureBar != nil && *r.PressureBar <= 0 {
		return errors.New("pressure_bar must be positive")
	}
	if r.TemperatureC != nil && (*r.TemperatureC <= -50 || *r.TemperatureC >= 100) {
		return errors.New("temperature_c must be between -50 and 100")
	}
	return nil
}

// ReadingBatch представляет пакет показаний для массовой загрузки
type ReadingBatch struct {
	Readings []Reading `json:"readings"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Redis     string    `json:"redis"`
	Uptime    string    `json:"uptime"`
}

// StatsResponse содержит статистику сервиса
type StatsResponse struct {
	TotalReadings  int64 `json:"total_readings"`
	AnomaliesCount int64 `json:"anomalies_count"`
}
