package radar

// Sample is one raw metric pair emitted by the CSI front end for a single
// channel measurement. Wander tracks slow signal variation (presence,
// breathing-scale movement); Jitter tracks fast variation (gross motion).
// Both are non-negative with a noise floor near zero.
type Sample struct {
	Wander float64 `json:"wander"`
	Jitter float64 `json:"jitter"`
}

// Source is anything that can provide raw metric samples over time:
// the serial-attached front end, a mock for development, a replay, etc.
type Source interface {
	Next() (Sample, error)
}
