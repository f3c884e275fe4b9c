package fusion

import (
	"math"

	"github.com/relabs-tech/presence_fusion/internal/radar"
)

// Baseline accumulates raw samples captured while the space is known to be
// empty and derives fresh detection thresholds from them.
type Baseline struct {
	wander []float64
	jitter []float64
}

// Add records one raw sample.
func (b *Baseline) Add(s radar.Sample) {
	b.wander = append(b.wander, s.Wander)
	b.jitter = append(b.jitter, s.Jitter)
}

// Count returns the number of accumulated samples.
func (b *Baseline) Count() int {
	return len(b.wander)
}

// Reset discards the accumulated samples.
func (b *Baseline) Reset() {
	b.wander = b.wander[:0]
	b.jitter = b.jitter[:0]
}

// Thresholds derives per-metric detection thresholds as mean + 2 stddev of
// the empty-room baseline: quiet readings stay below, a person's effect on
// the channel rises above. Returns zeros when no samples were accumulated.
func (b *Baseline) Thresholds() (wander, jitter float64) {
	return meanPlus2Sigma(b.wander), meanPlus2Sigma(b.jitter)
}

func meanPlus2Sigma(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))

	return mean + 2*math.Sqrt(variance)
}
