package fusion

// Epsilon is the threshold floor. A threshold at or below it means
// "uncalibrated" and must never detect, otherwise a zeroed threshold would
// lock the system into a permanent false positive.
const Epsilon = 0.0001

// Detect is the single detection law for both metrics: a smoothed value,
// scaled by the link's sensitivity, has to exceed the global threshold.
// Lower sensitivity means a bigger signal change is needed to trigger.
func Detect(value, sensitivity, threshold float64) bool {
	if threshold <= Epsilon {
		return false
	}
	return value*sensitivity > threshold
}
