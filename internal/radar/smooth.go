package radar

import "sort"

// Window is a fixed-capacity ring buffer of metric values. Once full, each
// push overwrites the oldest value.
type Window struct {
	buf   []float64
	count uint64
}

// NewWindow creates a ring buffer holding the last capacity values.
func NewWindow(capacity int) *Window {
	return &Window{buf: make([]float64, capacity)}
}

// Push appends a value, overwriting the oldest one when full.
func (w *Window) Push(v float64) {
	w.buf[w.count%uint64(len(w.buf))] = v
	w.count++
}

// Len returns the number of values currently held.
func (w *Window) Len() int {
	if w.count < uint64(len(w.buf)) {
		return int(w.count)
	}
	return len(w.buf)
}

// Count returns the total number of values pushed since creation.
func (w *Window) Count() uint64 {
	return w.count
}

// Values returns a copy of the held values in unspecified order.
func (w *Window) Values() []float64 {
	out := make([]float64, w.Len())
	copy(out, w.buf[:w.Len()])
	return out
}

// Last returns up to n of the most recent values, newest first.
func (w *Window) Last(n int) []float64 {
	if n > w.Len() {
		n = w.Len()
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		idx := (w.count - 1 - uint64(i)) % uint64(len(w.buf))
		out = append(out, w.buf[idx])
	}
	return out
}

// TrimMean returns the mean of values after discarding fraction/2 of the
// sorted values from each end. A fraction of 0.5 drops the lowest and
// highest quartiles. An empty slice yields 0.
func TrimMean(values []float64, fraction float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	trim := int(float64(len(sorted)) * fraction / 2)
	sum := 0.0
	count := 0
	for i := trim; i < len(sorted)-trim; i++ {
		sum += sorted[i]
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Median returns the middle order statistic; for an even-length slice it is
// the average of the two middle values. An empty slice yields 0.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Reading is one smoothed metric pair, produced per pushed sample once the
// smoother has warmed up.
type Reading struct {
	Wander float64
	Jitter float64
}

// Smoother aggregates a rolling window of raw samples into one smoothed
// reading per push. Wander uses a trimmed mean (resists momentary spikes
// while tracking slow drift); jitter uses a median (rejects single-sample
// glitches without smearing a genuine motion burst). No reading is emitted
// until minSamples raw samples have accumulated.
type Smoother struct {
	wander     *Window
	jitter     *Window
	minSamples uint64
}

// NewSmoother creates a smoother over the last capacity samples that stays
// silent until minSamples have been pushed.
func NewSmoother(capacity, minSamples int) *Smoother {
	return &Smoother{
		wander:     NewWindow(capacity),
		jitter:     NewWindow(capacity),
		minSamples: uint64(minSamples),
	}
}

// Push adds a raw sample. The returned bool is false during cold start,
// before minSamples samples have been seen.
func (s *Smoother) Push(raw Sample) (Reading, bool) {
	s.wander.Push(raw.Wander)
	s.jitter.Push(raw.Jitter)

	if s.wander.Count() < s.minSamples {
		return Reading{}, false
	}
	return Reading{
		Wander: TrimMean(s.wander.Values(), 0.5),
		Jitter: Median(s.jitter.Values()),
	}, true
}

// RecentJitter returns up to n of the most recent raw jitter samples,
// newest first.
func (s *Smoother) RecentJitter(n int) []float64 {
	return s.jitter.Last(n)
}
