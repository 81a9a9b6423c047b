package anomaly

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestFromRecords_MissingField(t *testing.T) {
	records := []map[string]any{
		{"meter_code": "A", "ts": "2025-11-02T16:00:00Z"},
		{"meter_code": "B", "ts": "2025-11-02T16:01:00Z", "extra": 1},
	}

	_, err := FromRecords(records)
	if err == nil {
		t.Fatal("Expected schema error for missing flow_lpm")
	}

	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("Expected *SchemaError, got %T", err)
	}
	if !reflect.DeepEqual(schemaErr.Missing, []string{"flow_lpm"}) {
		t.Errorf("Expected missing [flow_lpm], got %v", schemaErr.Missing)
	}
	if !reflect.DeepEqual(schemaErr.Present, []string{"extra", "meter_code", "ts"}) {
		t.Errorf("Expected present fields sorted, got %v", schemaErr.Present)
	}
}

func TestFromRecords_EmptyInput(t *testing.T) {
	_, err := FromRecords(nil)

	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("Expected *SchemaError for empty input, got %v", err)
	}
	if len(schemaErr.Missing) != 3 {
		t.Errorf("Expected all three fields missing, got %v", schemaErr.Missing)
	}
}

func TestFromRecords_Coercion(t *testing.T) {
	records := []map[string]any{
		{"meter_code": "A", "flow_lpm": 12.5, "ts": "2025-11-02T16:00:00Z"},
		{"meter_code": "A", "flow_lpm": "13.25", "ts": "2025-11-02 16:01:00"},
		{"meter_code": 7, "flow_lpm": "not-a-number", "ts": "garbage"},
		{"meter_code": nil, "flow_lpm": nil, "ts": nil},
	}

	readings, err := FromRecords(records)
	if err != nil {
		t.Fatalf("FromRecords failed: %v", err)
	}
	if len(readings) != 4 {
		t.Fatalf("Expected 4 readings, got %d", len(readings))
	}

	if readings[0].FlowLPM != 12.5 {
		t.Errorf("Expected 12.5, got %v", readings[0].FlowLPM)
	}
	want := time.Date(2025, 11, 2, 16, 0, 0, 0, time.UTC)
	if !readings[0].TS.Equal(want) {
		t.Errorf("Expected %v, got %v", want, readings[0].TS)
	}

	// Strings parse as numbers, naive timestamps are taken as UTC
	if readings[1].FlowLPM != 13.25 {
		t.Errorf("Expected parsed 13.25, got %v", readings[1].FlowLPM)
	}
	if !readings[1].TS.Equal(want.Add(time.Minute)) {
		t.Errorf("Expected naive timestamp in UTC, got %v", readings[1].TS)
	}

	// Malformed cells degrade, they never fail the call
	if readings[2].MeterCode != "7" {
		t.Errorf("Expected numeric meter code as text, got %q", readings[2].MeterCode)
	}
	if !math.IsNaN(readings[2].FlowLPM) {
		t.Errorf("Expected NaN for malformed value, got %v", readings[2].FlowLPM)
	}
	if !readings[2].TS.IsZero() {
		t.Errorf("Expected zero time for malformed timestamp, got %v", readings[2].TS)
	}

	if readings[3].MeterCode != "" {
		t.Errorf("Expected empty meter code for nil, got %q", readings[3].MeterCode)
	}
	if !math.IsNaN(readings[3].FlowLPM) {
		t.Error("Expected NaN for nil value")
	}
}

func TestFromRecords_ThenDetect(t *testing.T) {
	// Loose records flow end to end through the detector
	records := make([]map[string]any, 0, 25)
	for i := 0; i < 24; i++ {
		records = append(records, map[string]any{
			"meter_code": "A",
			"flow_lpm":   10.0 + float64(i%5)*0.1,
			"ts":         t0.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
		})
	}
	records = append(records, map[string]any{
		"meter_code": "A",
		"flow_lpm":   25.0,
		"ts":         t0.Add(24 * time.Minute).Format(time.RFC3339),
	})

	readings, err := FromRecords(records)
	if err != nil {
		t.Fatalf("FromRecords failed: %v", err)
	}
	rows, err := Detect(readings, Options{Window: 20, ZThreshold: 3.0})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !rows[len(rows)-1].IsAnomaly {
		t.Error("Expected spike from loose records to be flagged")
	}
}
