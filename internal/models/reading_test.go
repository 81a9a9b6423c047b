package models

import (
	"strings"
	"testing"
)

func fptr(v float64) *float64 { return &v }

func TestReading_Validate(t *testing.T) {
	tests := []struct {
		name    string
		reading Reading
		wantErr string
	}{
		{
			name:    "valid minimal",
			reading: Reading{MeterCode: "SETOR-A-01", FlowLPM: 12.3},
		},
		{
			name: "valid with optional fields",
			reading: Reading{
				MeterCode:    "SETOR-A-01",
				FlowLPM:      12.3,
				PressureBar:  fptr(2.5),
				TemperatureC: fptr(21.0),
			},
		},
		{
			name:    "missing meter code",
			reading: Reading{FlowLPM: 12.3},
			wantErr: "meter_code is required",
		},
		{
			name:    "meter code too long",
			reading: Reading{MeterCode: strings.Repeat("x", 65), FlowLPM: 12.3},
			wantErr: "at most 64",
		},
		{
			name:    "zero flow",
			reading: Reading{MeterCode: "A", FlowLPM: 0},
			wantErr: "flow_lpm must be positive",
		},
		{
			name:    "negative flow",
			reading: Reading{MeterCode: "A", FlowLPM: -1},
			wantErr: "flow_lpm must be positive",
		},
		{
			name:    "non-positive pressure",
			reading: Reading{MeterCode: "A", FlowLPM: 1, PressureBar: fptr(0)},
			wantErr: "pressure_bar must be positive",
		},
		{
			name:    "temperature out of range",
			reading: Reading{MeterCode: "A", FlowLPM: 1, TemperatureC: fptr(150)},
			wantErr: "temperature_c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.reading.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected valid reading, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
