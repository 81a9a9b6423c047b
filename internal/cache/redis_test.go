package cache

import (
	"os"
	"testing"
	"time"

	"aquaflow-service/internal/models"
)

// newTestCache connects to a local Redis on a dedicated test database.
// Skips the test when no Redis is reachable.
func newTestCache(t *testing.T) *RedisCache {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := NewRedisCache(addr, os.Getenv("REDIS_PASSWORD"), 15)
	if err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	if err := c.FlushDB(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}
	t.Cleanup(func() {
		c.FlushDB()
		c.Close()
	})
	return c
}

func TestCacheReadingAndLatest(t *testing.T) {
	c := newTestCache(t)
	base := time.Date(2025, 11, 2, 16, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		m := models.Reading{
			MeterCode: "SETOR-A-01",
			FlowLPM:   10.0 + float64(i),
			TS:        base.Add(time.Duration(i) * time.Minute),
		}
		if err := c.CacheReading(m); err != nil {
			t.Fatalf("CacheReading failed: %v", err)
		}
	}

	readings, err := c.GetLatestReadings(2)
	if err != nil {
		t.Fatalf("GetLatestReadings failed: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("Expected 2 readings, got %d", len(readings))
	}
	// Most recently cached first
	if readings[0].FlowLPM != 12.0 {
		t.Errorf("Expected newest reading first, got flow %v", readings[0].FlowLPM)
	}
}

func TestAnomaliesResponseCache(t *testing.T) {
	c := newTestCache(t)

	payload := []map[string]any{{"meter_code": "A", "is_anomaly": true}}
	if err := c.CacheAnomalies("zscore:20:3:2::0:200", payload); err != nil {
		t.Fatalf("CacheAnomalies failed: %v", err)
	}

	var cached []map[string]any
	ok, err := c.GetAnomalies("zscore:20:3:2::0:200", &cached)
	if err != nil {
		t.Fatalf("GetAnomalies failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if len(cached) != 1 || cached[0]["meter_code"] != "A" {
		t.Errorf("Unexpected cached payload: %v", cached)
	}

	// Unknown key is a miss, not an error
	ok, err = c.GetAnomalies("no-such-key", &cached)
	if err != nil {
		t.Fatalf("GetAnomalies failed on miss: %v", err)
	}
	if ok {
		t.Error("Expected cache miss for unknown key")
	}
}

func TestCounters(t *testing.T) {
	c := newTestCache(t)

	if _, err := c.IncrementCounter("anomalies:total"); err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}
	n, err := c.IncrementCounter("anomalies:total")
	if err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected counter 2, got %d", n)
	}

	val, err := c.GetCounter("anomalies:total")
	if err != nil {
		t.Fatalf("GetCounter failed: %v", err)
	}
	if val != 2 {
		t.Errorf("Expected counter value 2, got %d", val)
	}

	missing, err := c.GetCounter("no-such-counter")
	if err != nil {
		t.Fatalf("GetCounter failed for missing key: %v", err)
	}
	if missing != 0 {
		t.Errorf("Expected 0 for missing counter, got %d", missing)
	}
}
