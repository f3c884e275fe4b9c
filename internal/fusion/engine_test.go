// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package fusion

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/presence_fusion/internal/settings"
	"github.com/relabs-tech/presence_fusion/internal/wire"
)

// fakeClock lets tests drive liveness timeouts and the calibration
// deadline deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory settings store.
type memStore struct {
	mu    sync.Mutex
	s     settings.Settings
	have  bool
	saves int
}

func (m *memStore) Load() (settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.have {
		return settings.Settings{}, errors.New("no settings")
	}
	return m.s, nil
}

func (m *memStore) Save(s settings.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	m.have = true
	m.saves++
	return nil
}

// frameRecorder captures broadcast command frames.
type frameRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *frameRecorder) record(frame []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, frame)
	r.mu.Unlock()
}

func (r *frameRecorder) types() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, 0, len(r.frames))
	for _, f := range r.frames {
		out = append(out, f[0])
	}
	return out
}

func newTestEngine(clk *fakeClock, store settings.Store, rec *frameRecorder) *Engine {
	cfg := Config{
		Links: 3,
		Now:   clk.Now,
		Store: store,
	}
	if rec != nil {
		cfg.Broadcast = rec.record
	}
	return New(cfg)
}

// warmUp pushes identical samples until the local smoother emits readings.
func warmUp(e *Engine, wander, jitter float64) {
	for i := 0; i < MinSamples; i++ {
		e.IngestLocal(sample(wander, jitter))
	}
}

func TestEngineLocalDetection(t *testing.T) {
	t.Parallel()

	t.Run("cold start keeps link inactive", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		e.SetThresholds(0.001, 0.0003)
		for i := 0; i < MinSamples-1; i++ {
			e.IngestLocal(sample(0.1, 0.01))
		}
		snap := e.Snapshot()
		assert.False(t, snap.Links[0].Active)
		assert.False(t, snap.Occupied)
	})

	t.Run("strong local signal confirms alone", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		e.SetThresholds(0.001, 0.0003)
		warmUp(e, 0.1, 0.01)

		snap := e.Snapshot()
		require.True(t, snap.Links[0].Active)
		assert.True(t, snap.Links[0].Occupied)
		assert.True(t, snap.Occupied, "a lone active link confirms alone")
		assert.True(t, snap.Moving)
	})

	t.Run("quiet signal stays clear", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		e.SetThresholds(0.001, 0.0003)
		warmUp(e, 0.0005, 0.0001)

		snap := e.Snapshot()
		assert.True(t, snap.Links[0].Active)
		assert.False(t, snap.Occupied)
		assert.False(t, snap.Moving)
	})

	t.Run("uncalibrated thresholds never detect", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		warmUp(e, 100, 100)
		assert.False(t, e.Snapshot().Occupied)
	})
}

func TestEngineQuorum(t *testing.T) {
	t.Parallel()

	t.Run("two concurring links required when two or more alive", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		e.SetThresholds(0.001, 0.0003)

		// Local quiet, one remote detecting: 2 active, 1 detection.
		warmUp(e, 0.0005, 0.0001)
		e.UpdateRemote(wire.Report{NodeID: 1, Occupied: true})
		assert.False(t, e.Snapshot().Occupied)

		// Second remote concurs: quorum met.
		e.UpdateRemote(wire.Report{NodeID: 2, Occupied: true})
		assert.True(t, e.Snapshot().Occupied)
	})

	t.Run("moving requires a motion quorum on top of occupancy", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		e.SetThresholds(0.001, 0.0003)

		e.UpdateRemote(wire.Report{NodeID: 1, Occupied: true, Moving: true})
		e.UpdateRemote(wire.Report{NodeID: 2, Occupied: true})
		snap := e.Snapshot()
		assert.True(t, snap.Occupied)
		assert.False(t, snap.Moving, "one moving link out of two is below quorum")

		e.UpdateRemote(wire.Report{NodeID: 2, Occupied: true, Moving: true})
		snap = e.Snapshot()
		assert.True(t, snap.Moving)
	})

	t.Run("remote verdicts are trusted verbatim", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		e.SetThresholds(0.001, 0.0003)

		// The remote's raw metrics are far below the master's thresholds;
		// its pre-computed verdict must count anyway.
		e.UpdateRemote(wire.Report{NodeID: 1, Occupied: true, Wander: 1e-7, Jitter: 1e-8})
		assert.True(t, e.Snapshot().Occupied)
	})

	t.Run("reports from unknown nodes are dropped", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		e.SetThresholds(0.001, 0.0003)

		e.UpdateRemote(wire.Report{NodeID: 0, Occupied: true})
		e.UpdateRemote(wire.Report{NodeID: 7, Occupied: true})
		snap := e.Snapshot()
		for _, l := range snap.Links {
			assert.False(t, l.Active)
		}
	})
}

func TestEngineLiveness(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	e := newTestEngine(clk, nil, nil)
	e.SetThresholds(0.001, 0.0003)

	e.UpdateRemote(wire.Report{NodeID: 1, Occupied: true})
	e.UpdateRemote(wire.Report{NodeID: 2, Occupied: true})
	require.True(t, e.Snapshot().Occupied)

	// A silent link drops out of the vote after the liveness timeout.
	clk.Advance(DefaultLivenessTimeout)
	e.UpdateRemote(wire.Report{NodeID: 1, Occupied: true})

	snap := e.Tick()
	assert.True(t, snap.Links[1].Active)
	assert.False(t, snap.Links[2].Active)
	assert.True(t, snap.Occupied, "the surviving link confirms alone")

	clk.Advance(DefaultLivenessTimeout)
	snap = e.Tick()
	assert.False(t, snap.Links[1].Active)
	assert.False(t, snap.Occupied)
}

func TestEngineCalibration(t *testing.T) {
	t.Parallel()

	t.Run("start is idempotent and broadcast", func(t *testing.T) {
		t.Parallel()
		rec := &frameRecorder{}
		e := newTestEngine(newFakeClock(), nil, rec)

		assert.True(t, e.StartCalibration())
		assert.False(t, e.StartCalibration(), "second start while running is a no-op")
		assert.Equal(t, []byte{wire.CmdStartCalibration}, rec.types())
	})

	t.Run("stop when idle is a no-op", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		e.SetThresholds(0.01, 0.001)

		th, stopped := e.StopCalibration()
		assert.False(t, stopped)
		assert.Equal(t, Thresholds{Wander: 0.01, Jitter: 0.001}, th)
	})

	t.Run("verdict is neutralized while calibrating", func(t *testing.T) {
		t.Parallel()
		clk := newFakeClock()
		e := newTestEngine(clk, nil, nil)
		e.SetThresholds(0.001, 0.0003)

		e.UpdateRemote(wire.Report{NodeID: 1, Occupied: true, Moving: true})
		e.UpdateRemote(wire.Report{NodeID: 2, Occupied: true, Moving: true})
		require.True(t, e.Snapshot().Occupied)

		e.StartCalibration()
		snap := e.Snapshot()
		assert.True(t, snap.Calibrating)
		assert.False(t, snap.Occupied)
		assert.False(t, snap.Moving)
		assert.Equal(t, 30, snap.CalibrationSecondsRemaining)

		clk.Advance(10 * time.Second)
		assert.Equal(t, 20, e.Snapshot().CalibrationSecondsRemaining)
	})

	t.Run("stop derives thresholds from the baseline and persists", func(t *testing.T) {
		t.Parallel()
		store := &memStore{}
		rec := &frameRecorder{}
		clk := newFakeClock()
		e := newTestEngine(clk, store, rec)

		e.StartCalibration()
		for i := 0; i < 20; i++ {
			e.IngestLocal(sample(0.002, 0.0004))
		}
		th, stopped := e.StopCalibration()
		require.True(t, stopped)
		assert.InDelta(t, 0.002, th.Wander, 1e-9)
		assert.InDelta(t, 0.0004, th.Jitter, 1e-9)
		assert.Contains(t, rec.types(), wire.CmdStopCalibration)

		store.mu.Lock()
		defer store.mu.Unlock()
		require.True(t, store.have)
		assert.InDelta(t, 0.002, store.s.WanderThreshold, 1e-9)
	})

	t.Run("stop with an empty baseline keeps previous thresholds", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)
		e.SetThresholds(0.01, 0.001)

		e.StartCalibration()
		th, stopped := e.StopCalibration()
		require.True(t, stopped)
		assert.Equal(t, Thresholds{Wander: 0.01, Jitter: 0.001}, th)
	})

	t.Run("unstopped session auto-stops on the publisher tick", func(t *testing.T) {
		t.Parallel()
		clk := newFakeClock()
		rec := &frameRecorder{}
		e := newTestEngine(clk, nil, rec)

		e.StartCalibration()
		clk.Advance(DefaultCalibrationDuration - time.Millisecond)
		assert.True(t, e.Tick().Calibrating)

		clk.Advance(time.Millisecond)
		snap := e.Tick()
		assert.False(t, snap.Calibrating)
		assert.Contains(t, rec.types(), wire.CmdStopCalibration)
	})
}

func TestEngineSensitivity(t *testing.T) {
	t.Parallel()

	t.Run("rejects out-of-range values", func(t *testing.T) {
		t.Parallel()
		e := newTestEngine(newFakeClock(), nil, nil)

		assert.Error(t, e.SetSensitivity(0, 0.0001, 0.2))
		assert.Error(t, e.SetSensitivity(0, 0.15, 6.0))
		assert.Error(t, e.SetSensitivity(-1, 0.15, 0.2))
		assert.Error(t, e.SetSensitivity(3, 0.15, 0.2))

		// Prior values retained.
		snap := e.Snapshot()
		assert.Equal(t, settings.DefaultWanderSensitivity, snap.Links[0].WanderSensitivity)
	})

	t.Run("remote link tuning is forwarded", func(t *testing.T) {
		t.Parallel()
		rec := &frameRecorder{}
		e := newTestEngine(newFakeClock(), nil, rec)

		require.NoError(t, e.SetSensitivity(2, 0.5, 0.4))
		require.Len(t, rec.frames, 1)

		cmd, err := wire.DecodeCommand(rec.frames[0])
		require.NoError(t, err)
		assert.Equal(t, wire.CmdSetSensitivity, cmd.Type)
		assert.Equal(t, uint8(2), cmd.NodeID)
		assert.Equal(t, float32(0.5), cmd.Wander)
	})

	t.Run("local link tuning is not broadcast", func(t *testing.T) {
		t.Parallel()
		rec := &frameRecorder{}
		e := newTestEngine(newFakeClock(), nil, rec)

		require.NoError(t, e.SetSensitivity(0, 0.5, 0.4))
		assert.Empty(t, rec.frames)
		assert.Equal(t, 0.5, e.Snapshot().Links[0].WanderSensitivity)
	})
}

func TestEnginePersistence(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	clk := newFakeClock()

	e := newTestEngine(clk, store, nil)
	e.SetThresholds(0.0042, 0.0007)
	require.NoError(t, e.SetSensitivity(1, 0.3, 0.25))

	// A fresh engine over the same store comes back calibrated and tuned.
	e2 := newTestEngine(clk, store, nil)
	snap := e2.Snapshot()
	assert.Equal(t, 0.0042, snap.WanderThreshold)
	assert.Equal(t, 0.0007, snap.JitterThreshold)
	assert.Equal(t, 0.3, snap.Links[1].WanderSensitivity)
	assert.Equal(t, 0.25, snap.Links[1].JitterSensitivity)
}

// TestEngineScenario walks the full life of a deployment: quiet room,
// calibration, a person walking in, links dying and the room emptying.
func TestEngineScenario(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	store := &memStore{}
	rec := &frameRecorder{}
	e := newTestEngine(clk, store, rec)

	// Calibrate against an empty room.
	require.True(t, e.StartCalibration())
	for i := 0; i < 50; i++ {
		e.IngestLocal(sample(0.0008, 0.00015))
		clk.Advance(100 * time.Millisecond)
	}
	th, stopped := e.StopCalibration()
	require.True(t, stopped)
	require.Greater(t, th.Wander, Epsilon)

	// Quiet room stays clear.
	warmUp(e, 0.0008, 0.00015)
	assert.False(t, e.Snapshot().Occupied)

	// A person walks in: local link and one remote both trip. The trimmed
	// mean needs the window flooded before it follows the new level.
	for i := 0; i < SmoothingWindow; i++ {
		e.IngestLocal(sample(0.05, 0.008))
	}
	e.UpdateRemote(wire.Report{NodeID: 1, Occupied: true, Moving: true})
	snap := e.Snapshot()
	assert.True(t, snap.Occupied)
	assert.True(t, snap.Moving)

	// The remote dies; the local link keeps confirming alone.
	clk.Advance(DefaultLivenessTimeout)
	warmUp(e, 0.05, 0.008)
	snap = e.Tick()
	assert.False(t, snap.Links[1].Active)
	assert.True(t, snap.Occupied)

	// The person leaves.
	for i := 0; i < SmoothingWindow; i++ {
		e.IngestLocal(sample(0.0008, 0.00015))
	}
	assert.False(t, e.Snapshot().Occupied)
}
