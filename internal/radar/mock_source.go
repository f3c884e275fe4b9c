// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package radar

import (
	"math"
	"time"
)

type mockSource struct {
	start time.Time
}

// NewMockSource creates a mock metric source that wiggles around the noise
// floor of an empty room. Useful for running the stack without a front end.
func NewMockSource() Source {
	return &mockSource{start: time.Now()}
}

func (m *mockSource) Next() (Sample, error) {
	elapsed := time.Since(m.start).Seconds()

	return Sample{
		Wander: 0.0001 + 0.00005*math.Abs(math.Sin(elapsed*0.3)),
		Jitter: 0.00005 + 0.00002*math.Abs(math.Sin(elapsed*1.7)),
	}, nil
}
