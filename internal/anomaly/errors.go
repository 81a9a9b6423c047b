package anomaly

import "fmt"

// SchemaError возвращается, когда во входных записях отсутствуют
// обязательные поля. Содержит имена отсутствующих и фактических полей.
type SchemaError struct {
	Missing []string
	Present []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("input records are missing required fields %v; fields present: %v",
		e.Missing, e.Present)
}

// InvalidMethodError возвращается при неизвестном методе детекции.
// Содержит переданное значение и список допустимых методов.
type InvalidMethodError struct {
	Value    string
	Accepted []string
}

func (e *InvalidMethodError) Error() string {
	return fmt.Sprintf("invalid method %q: accepted methods are %v", e.Value, e.Accepted)
}
