package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"aquaflow-service/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 2, 16, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		r := models.Reading{
			MeterCode: "SETOR-A-01",
			FlowLPM:   12.5 + float64(i),
			TS:        base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.InsertReading(ctx, &r); err != nil {
			t.Fatalf("InsertReading failed: %v", err)
		}
		if r.ID == 0 {
			t.Error("Expected assigned ID after insert")
		}
	}

	readings, err := s.ListReadings(ctx, Filter{Limit: 10})
	if err != nil {
		t.Fatalf("ListReadings failed: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(readings))
	}

	// Newest first
	if !readings[0].TS.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Expected newest reading first, got %v", readings[0].TS)
	}
	if readings[0].FlowLPM != 14.5 {
		t.Errorf("Expected flow 14.5, got %v", readings[0].FlowLPM)
	}
}

func TestStore_DefaultTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := models.Reading{MeterCode: "M-1", FlowLPM: 10}
	before := time.Now().UTC()
	if err := s.InsertReading(ctx, &r); err != nil {
		t.Fatalf("InsertReading failed: %v", err)
	}
	if r.TS.Before(before.Add(-time.Second)) || r.TS.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("Expected server-side timestamp, got %v", r.TS)
	}
}

func TestStore_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 2, 16, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		meter := "A"
		if i%2 == 1 {
			meter = "B"
		}
		r := models.Reading{MeterCode: meter, FlowLPM: 10, TS: base.Add(time.Duration(i) * time.Minute)}
		if err := s.InsertReading(ctx, &r); err != nil {
			t.Fatalf("InsertReading failed: %v", err)
		}
	}

	byMeter, err := s.ListReadings(ctx, Filter{MeterCode: "A", Limit: 10})
	if err != nil {
		t.Fatalf("ListReadings failed: %v", err)
	}
	if len(byMeter) != 3 {
		t.Errorf("Expected 3 readings for meter A, got %d", len(byMeter))
	}

	since, err := s.ListReadings(ctx, Filter{Since: base.Add(3 * time.Minute), Limit: 10})
	if err != nil {
		t.Fatalf("ListReadings failed: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("Expected 2 readings since cutoff (inclusive), got %d", len(since))
	}

	limited, err := s.ListReadings(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("ListReadings failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected limit to cap results, got %d", len(limited))
	}
}

func TestStore_InsertBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 11, 2, 16, 0, 0, 0, time.UTC)

	pressure := 2.5
	batch := []models.Reading{
		{MeterCode: "A", FlowLPM: 11, PressureBar: &pressure, TS: base},
		{MeterCode: "A", FlowLPM: 12, TS: base.Add(time.Minute)},
		{MeterCode: "B", FlowLPM: 13, TS: base.Add(2 * time.Minute)},
	}

	stored, err := s.InsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if stored != 3 {
		t.Errorf("Expected 3 stored, got %d", stored)
	}

	count, err := s.CountReadings(ctx, "")
	if err != nil {
		t.Fatalf("CountReadings failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected count 3, got %d", count)
	}

	countA, err := s.CountReadings(ctx, "A")
	if err != nil {
		t.Fatalf("CountReadings failed: %v", err)
	}
	if countA != 2 {
		t.Errorf("Expected count 2 for meter A, got %d", countA)
	}

	// Optional fields survive the round trip
	readings, err := s.ListReadings(ctx, Filter{MeterCode: "A", Limit: 10})
	if err != nil {
		t.Fatalf("ListReadings failed: %v", err)
	}
	oldest := readings[len(readings)-1]
	if oldest.PressureBar == nil || *oldest.PressureBar != 2.5 {
		t.Errorf("Expected pressure 2.5, got %v", oldest.PressureBar)
	}
	if oldest.TemperatureC != nil {
		t.Errorf("Expected nil temperature, got %v", oldest.TemperatureC)
	}
}

func TestStore_Ping(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
