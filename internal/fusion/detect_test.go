package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/presence_fusion/internal/radar"
)

func sample(wander, jitter float64) radar.Sample {
	return radar.Sample{Wander: wander, Jitter: jitter}
}

func TestDetect(t *testing.T) {
	t.Parallel()

	t.Run("scaled value above threshold detects", func(t *testing.T) {
		t.Parallel()
		assert.True(t, Detect(0.1, 0.15, 0.01))
	})

	t.Run("scaled value below threshold does not", func(t *testing.T) {
		t.Parallel()
		assert.False(t, Detect(0.05, 0.15, 0.01))
	})

	t.Run("uncalibrated threshold never detects", func(t *testing.T) {
		t.Parallel()
		assert.False(t, Detect(1000, 5.0, 0))
		assert.False(t, Detect(1000, 5.0, Epsilon))
	})

	t.Run("threshold just above epsilon is live", func(t *testing.T) {
		t.Parallel()
		assert.True(t, Detect(1.0, 1.0, Epsilon+1e-9))
	})
}

func TestBaselineThresholds(t *testing.T) {
	t.Parallel()

	t.Run("empty baseline yields zeros", func(t *testing.T) {
		t.Parallel()
		var b Baseline
		w, j := b.Thresholds()
		assert.Equal(t, 0.0, w)
		assert.Equal(t, 0.0, j)
	})

	t.Run("constant samples yield the mean", func(t *testing.T) {
		t.Parallel()
		var b Baseline
		for i := 0; i < 10; i++ {
			b.Add(sample(0.002, 0.0005))
		}
		w, j := b.Thresholds()
		assert.InDelta(t, 0.002, w, 1e-12)
		assert.InDelta(t, 0.0005, j, 1e-12)
	})

	t.Run("spread pushes thresholds above the mean", func(t *testing.T) {
		t.Parallel()
		var b Baseline
		b.Add(sample(0.001, 0.0001))
		b.Add(sample(0.003, 0.0003))
		w, j := b.Thresholds()
		assert.Greater(t, w, 0.002)
		assert.Greater(t, j, 0.0002)
	})

	t.Run("reset clears accumulated samples", func(t *testing.T) {
		t.Parallel()
		var b Baseline
		b.Add(sample(1, 1))
		b.Reset()
		assert.Equal(t, 0, b.Count())
	})
}
