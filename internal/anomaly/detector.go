// Package anomaly реализует статистическую детекцию аномалий во временных
// рядах показаний расходомеров. Поддерживаются два взаимозаменяемых метода:
// rolling z-score (скользящее среднее и популяционное отклонение) и
// rolling IQR (межквартильный размах со скользящими квартилями).
// Детектор является чистой функцией: он не делает I/O и не хранит
// состояния между вызовами; входная коллекция никогда не изменяется.
package anomaly

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Method задает алгоритм детекции аномалий
type Method string

const (
	// MethodZScore детекция по скользящему z-score
	MethodZScore Method = "zscore"
	// MethodIQR детекция по скользящему межквартильному размаху
	MethodIQR Method = "iqr"
)

const (
	// DefaultWindow размер скользящего окна по умолчанию (20 наблюдений)
	DefaultWindow = 20
	// DefaultZThreshold порог |z| для метода zscore (> 3σ)
	DefaultZThreshold = 3.0
	// DefaultIQRK множитель IQR для границ допуска
	DefaultIQRK = 1.5
)

// acceptedMethods список допустимых значений параметра method
var acceptedMethods = []string{string(MethodZScore), string(MethodIQR)}

// ParseMethod нормализует и проверяет значение параметра method.
// Пустая строка дает метод по умолчанию (zscore); неизвестное
// значение дает *InvalidMethodError.
func ParseMethod(value string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(value)))
	switch m {
	case "":
		return MethodZScore, nil
	case MethodZScore, MethodIQR:
		return m, nil
	}
	return "", &InvalidMethodError{Value: value, Accepted: acceptedMethods}
}

// Reading одно показание расходомера на входе детектора.
// FlowLPM может быть NaN (некорректное значение на входе),
// TS может быть нулевым (некорректная временная метка).
type Reading struct {
	MeterCode string    `json:"meter_code"`
	FlowLPM   float64   `json:"flow_lpm"`
	TS        time.Time `json:"ts"`
}

// Row показание, обогащенное скользящими статистиками и флагом аномалии.
// Неопределенные статистики представлены nil-указателями, а не
// значениями-заглушками; потребитель обязан проверять определенность.
type Row struct {
	MeterCode   string     `json:"meter_code"`
	FlowLPM     *float64   `json:"flow_lpm"`
	TS          *time.Time `json:"ts"`
	RollingMean *float64   `json:"rolling_mean"`
	RollingStd  *float64   `json:"rolling_std"`
	ZScore      *float64   `json:"zscore"`
	RollingLow  *float64   `json:"rolling_low,omitempty"`
	RollingHigh *float64   `json:"rolling_high,omitempty"`
	IsAnomaly   bool       `json:"is_anomaly"`
	Method      Method     `json:"method"`
}

// Options параметры детекции
type Options struct {
	// Window число последних наблюдений (включая текущее), необходимых
	// для вычисления статистики; минимум 2
	Window int
	// Method алгоритм детекции: zscore или iqr
	Method Method
	// ZThreshold порог |z| для метода zscore
	ZThreshold float64
	// IQRK множитель IQR для метода iqr
	IQRK float64
}

// withDefaults заполняет нулевые и некорректные параметры значениями по умолчанию
func (o Options) withDefaults() Options {
	if o.Window < 2 {
		o.Window = DefaultWindow
	}
	if o.Method == "" {
		o.Method = MethodZScore
	}
	if o.ZThreshold <= 0 {
		o.ZThreshold = DefaultZThreshold
	}
	if o.IQRK <= 0 {
		o.IQRK = DefaultIQRK
	}
	return o
}

// strategy вычисляет статистики заполненного окна и помечает точку.
// Общий каркас (разбиение на группы, сортировка, проход окном) один,
// добавление нового метода сводится к новой стратегии.
type strategy interface {
	enrich(row *Row, w *SlidingWindow, value float64)
}

// Detect выполняет детекцию аномалий по каждому расходомеру независимо.
//
// Строки группируются по MeterCode, внутри группы стабильно сортируются
// по TS по возрастанию (строки с одинаковой меткой сохраняют исходный
// относительный порядок, некорректные метки уходят в конец). По каждой
// группе скользит окно размера opts.Window; статистики определены только
// для полностью заполненного окна без некорректных значений.
//
// Результат упорядочен по коду расходомера, затем по времени. Входной
// срез не изменяется. Единственная фатальная ошибка это неизвестный метод
// (*InvalidMethodError); некорректные отдельные значения дают строки с
// неопределенными статистиками и IsAnomaly=false.
func Detect(readings []Reading, opts Options) ([]Row, error) {
	opts = opts.withDefaults()

	method, err := ParseMethod(string(opts.Method))
	if err != nil {
		return nil, err
	}
	var st strategy
	switch method {
	case MethodIQR:
		st = iqrStrategy{k: opts.IQRK}
	default:
		st = zscoreStrategy{threshold: opts.ZThreshold}
	}

	// Разбиение на группы по расходомеру с сохранением исходного порядка
	groups := make(map[string][]int)
	meters := make([]string, 0)
	for i := range readings {
		code := readings[i].MeterCode
		if _, ok := groups[code]; !ok {
			meters = append(meters, code)
		}
		groups[code] = append(groups[code], i)
	}
	sort.Strings(meters)

	// Стабильная сортировка каждой группы по времени
	for _, code := range meters {
		sortByTime(readings, groups[code])
	}

	// Группы независимы: обрабатываем параллельно, каждая пишет
	// только в свой срез результата
	parts := make([][]Row, len(meters))
	var wg sync.WaitGroup
	for pi := range meters {
		wg.Add(1)
		go func(pi int) {
			defer wg.Done()
			parts[pi] = detectGroup(readings, groups[meters[pi]], st, method, opts.Window)
		}(pi)
	}
	wg.Wait()

	out := make([]Row, 0, len(readings))
	for _, part := range parts {
		out = append(out, part...)
	}
	return out, nil
}

// sortByTime стабильно сортирует индексы группы по возрастанию TS.
// Нулевые (некорректные) метки времени помещаются в конец группы.
func sortByTime(readings []Reading, idxs []int) {
	sort.SliceStable(idxs, func(i, j int) bool {
		a := readings[idxs[i]].TS
		b := readings[idxs[j]].TS
		if a.IsZero() {
			return false
		}
		if b.IsZero() {
			return true
		}
		return a.Before(b)
	})
}

// detectGroup прогоняет скользящее окно по одной группе показаний
func detectGroup(readings []Reading, idxs []int, st strategy, method Method, window int) []Row {
	w := NewSlidingWindow(window)
	rows := make([]Row, 0, len(idxs))

	for _, i := range idxs {
		r := readings[i]
		w.Add(r.FlowLPM)

		row := Row{
			MeterCode: r.MeterCode,
			Method:    method,
		}
		if !math.IsNaN(r.FlowLPM) {
			v := r.FlowLPM
			row.FlowLPM = &v
		}
		if !r.TS.IsZero() {
			ts := r.TS.UTC()
			row.TS = &ts
		}

		if w.Complete() {
			st.enrich(&row, w, r.FlowLPM)
		}
		rows = append(rows, row)
	}
	return rows
}

// zscoreStrategy помечает точку аномальной при |z| строго больше порога.
// При нулевом отклонении z-score не определен и точка не помечается.
type zscoreStrategy struct {
	threshold float64
}

func (s zscoreStrategy) enrich(row *Row, w *SlidingWindow, value float64) {
	mean := w.Mean()
	std := w.StdDev()
	row.RollingMean = &mean
	row.RollingStd = &std

	if std > 0 {
		z := (value - mean) / std
		row.ZScore = &z
		row.IsAnomaly = math.Abs(z) > s.threshold
	}
}

// iqrStrategy помечает точку аномальной вне границ [Q1-k*IQR, Q3+k*IQR].
// Среднее, отклонение и z-score для этого метода не определены;
// вместо них выставляются границы допуска для диагностики.
type iqrStrategy struct {
	k float64
}

func (s iqrStrategy) enrich(row *Row, w *SlidingWindow, value float64) {
	vals := w.Values()
	sort.Float64s(vals)

	q1 := quantile(vals, 0.25)
	q3 := quantile(vals, 0.75)
	iqr := q3 - q1
	low := q1 - s.k*iqr
	high := q3 + s.k*iqr

	row.RollingLow = &low
	row.RollingHigh = &high
	row.IsAnomaly = value < low || value > high
}
