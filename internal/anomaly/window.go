package anomaly

import "math"

// SlidingWindow реализует скользящее окно фиксированного размера
// на кольцевом буфере с инкрементальными суммами.
// NaN-значения учитываются отдельным счетчиком и не попадают в суммы:
// пока в окне есть хотя бы один NaN, статистики считаются неопределенными.
type SlidingWindow struct {
	values []float64
	size   int
	index  int
	count  int
	nans   int
	sum    float64
	sumSq  float64
}

// NewSlidingWindow создает новое скользящее окно заданного размера
func NewSlidingWindow(size int) *SlidingWindow {
	return &SlidingWindow{
		values: make([]float64, size),
		size:   size,
	}
}

// Add добавляет новое значение в окно, вытесняя самое старое
func (sw *SlidingWindow) Add(value float64) {
	if sw.count >= sw.size {
		// Удаляем старое значение из статистики
		oldValue := sw.values[sw.index]
		if math.IsNaN(oldValue) {
			sw.nans--
		} else {
			sw.sum -= oldValue
			sw.sumSq -= oldValue * oldValue
		}
	} else {
		sw.count++
	}

	sw.values[sw.index] = value
	if math.IsNaN(value) {
		sw.nans++
	} else {
		sw.sum += value
		sw.sumSq += value * value
	}

	sw.index = (sw.index + 1) % sw.size
}

// Complete сообщает, заполнено ли окно целиком валидными значениями.
// Только в этом состоянии статистики окна определены.
func (sw *SlidingWindow) Complete() bool {
	return sw.count == sw.size && sw.nans == 0
}

// Mean возвращает среднее значение окна
func (sw *SlidingWindow) Mean() float64 {
	n := sw.count - sw.nans
	if n == 0 {
		return 0
	}
	return sw.sum / float64(n)
}

// StdDev возвращает популяционное стандартное отклонение
// (делитель равен размеру окна, а не размеру минус один)
func (sw *SlidingWindow) StdDev() float64 {
	n := sw.count - sw.nans
	if n == 0 {
		return 0
	}
	mean := sw.sum / float64(n)
	variance := sw.sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Count возвращает количество элементов в окне
func (sw *SlidingWindow) Count() int {
	return sw.count
}

// Values возвращает копию текущего содержимого окна.
// Порядок элементов не хронологический и значим только для квантилей.
func (sw *SlidingWindow) Values() []float64 {
	out := make([]float64, sw.count)
	copy(out, sw.values[:sw.count])
	return out
}

// quantile вычисляет квантиль q отсортированного ряда
// линейной интерполяцией между порядковыми статистиками:
// h = q*(n-1), результат = x[floor(h)] + frac*(x[floor(h)+1]-x[floor(h)])
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}

	h := q * float64(n-1)
	lo := int(math.Floor(h))
	frac := h - float64(lo)
	if lo+1 >= n {
		return sorted[n-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
