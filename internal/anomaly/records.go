package anomaly

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RequiredFields обязательные поля входной записи
var RequiredFields = []string{"meter_code", "flow_lpm", "ts"}

// timeLayouts поддерживаемые форматы временной метки.
// Метки без зоны интерпретируются как UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FromRecords приводит произвольные JSON-записи к показаниям детектора.
//
// Схема проверяется по объединению ключей всех записей: если обязательное
// поле отсутствует во всех записях (в том числе при пустом входе),
// возвращается *SchemaError с именами отсутствующих и фактических полей.
// Некорректные отдельные значения не являются ошибкой: значение расхода
// становится NaN, а временная метка нулевой.
func FromRecords(records []map[string]any) ([]Reading, error) {
	present := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			present[k] = struct{}{}
		}
	}

	var missing []string
	for _, f := range RequiredFields {
		if _, ok := present[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		fields := make([]string, 0, len(present))
		for k := range present {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		return nil, &SchemaError{Missing: missing, Present: fields}
	}

	readings := make([]Reading, 0, len(records))
	for _, rec := range records {
		readings = append(readings, Reading{
			MeterCode: coerceString(rec["meter_code"]),
			FlowLPM:   coerceFloat(rec["flow_lpm"]),
			TS:        coerceTime(rec["ts"]),
		})
	}
	return readings, nil
}

// coerceString приводит значение к тексту; nil дает пустую строку
func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// coerceFloat приводит значение к числу; все некорректное дает NaN
func coerceFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

// coerceTime приводит значение к моменту времени в UTC;
// все некорректное дает нулевое время
func coerceTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}
