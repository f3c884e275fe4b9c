// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


// Package fusion combines the detection results of several independent
// sensing links into one occupancy/motion verdict, and runs the online
// recalibration procedure that rewrites detection thresholds without
// taking the system down.
package fusion

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/presence_fusion/internal/radar"
	"github.com/relabs-tech/presence_fusion/internal/settings"
	"github.com/relabs-tech/presence_fusion/internal/wire"
)

// Defaults mirroring the deployed node firmware.
const (
	DefaultLinkCount           = 3
	DefaultLivenessTimeout     = 3000 * time.Millisecond
	DefaultCalibrationDuration = 30 * time.Second

	// Smoothing window over raw samples and the cold-start minimum before
	// the local link produces readings.
	SmoothingWindow = 25
	MinSamples      = 5

	// Sensitivity multipliers outside this range are rejected. Very low
	// values are allowed for fine-tuning away false positives.
	MinSensitivity = 0.001
	MaxSensitivity = 5.0
)

// Link is the mutable per-link record. Link 0 is the local link whose
// detections the engine computes itself; higher ids are remote links whose
// detection booleans arrive pre-computed in their reports, because each
// physical link has signal characteristics only a link-local calibration
// captures correctly.
type Link struct {
	ID                int
	Remote            bool
	Active            bool
	LastUpdate        time.Time
	Wander            float64
	Jitter            float64
	PresenceDetected  bool
	MotionDetected    bool
	WanderSensitivity float64
	JitterSensitivity float64
	RSSI              int8
}

// Thresholds are the global detection thresholds shared by all centrally
// detected links. Zero means uncalibrated.
type Thresholds struct {
	Wander float64
	Jitter float64
}

// FusedState is the voted global verdict.
type FusedState struct {
	Occupied bool
	Moving   bool
}

// LinkSnapshot is one link's row in a published snapshot.
type LinkSnapshot struct {
	Active            bool    `json:"active"`
	Occupied          bool    `json:"occupied"`
	Moving            bool    `json:"moving"`
	Wander            float64 `json:"wander"`
	Jitter            float64 `json:"jitter"`
	WanderSensitivity float64 `json:"w_sens"`
	JitterSensitivity float64 `json:"j_sens"`
	RSSI              int8    `json:"rssi"`
}

// Snapshot is the full published state. While calibrating, the global
// verdict is frozen to a neutral all-clear and Calibrating is set instead.
type Snapshot struct {
	Occupied                    bool           `json:"occupied"`
	Moving                      bool           `json:"moving"`
	Calibrating                 bool           `json:"calibrating"`
	CalibrationSecondsRemaining int            `json:"calib_remaining"`
	WanderThreshold             float64        `json:"wander_th"`
	JitterThreshold             float64        `json:"jitter_th"`
	Links                       []LinkSnapshot `json:"links"`
}

// Config wires an Engine to its collaborators. Zero values fall back to the
// deployment defaults above.
type Config struct {
	Links               int
	LivenessTimeout     time.Duration
	CalibrationDuration time.Duration

	// Store persists thresholds and sensitivities. Loaded once at
	// construction; written back on every mutation, outside the engine lock.
	Store settings.Store

	// Publish receives a snapshot every time the fused state is recomputed.
	Publish func(Snapshot)

	// Broadcast sends a command frame to all remote links, fire-and-forget.
	Broadcast func(frame []byte)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine owns the link set, the global thresholds, the calibration session
// and the fused verdict as a single aggregate behind one lock. All event
// sources (local samples, remote reports, configuration calls, the
// publisher tick) serialize through it; readers only ever see snapshots
// taken under the lock.
type Engine struct {
	mu sync.Mutex

	links      []Link
	thresholds Thresholds
	fused      FusedState

	calibrating      bool
	calibrationStart time.Time
	baseline         Baseline

	smoother *radar.Smoother

	livenessTimeout     time.Duration
	calibrationDuration time.Duration

	store     settings.Store
	publish   func(Snapshot)
	broadcast func([]byte)
	now       func() time.Time
}

// New creates an engine, loading persisted thresholds and sensitivities.
// A missing or unreadable settings file falls back to defaults: first boot
// is not an error.
func New(cfg Config) *Engine {
	if cfg.Links <= 0 {
		cfg.Links = DefaultLinkCount
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = DefaultLivenessTimeout
	}
	if cfg.CalibrationDuration <= 0 {
		cfg.CalibrationDuration = DefaultCalibrationDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Publish == nil {
		cfg.Publish = func(Snapshot) {}
	}
	if cfg.Broadcast == nil {
		cfg.Broadcast = func([]byte) {}
	}

	e := &Engine{
		links:               make([]Link, cfg.Links),
		smoother:            radar.NewSmoother(SmoothingWindow, MinSamples),
		livenessTimeout:     cfg.LivenessTimeout,
		calibrationDuration: cfg.CalibrationDuration,
		store:               cfg.Store,
		publish:             cfg.Publish,
		broadcast:           cfg.Broadcast,
		now:                 cfg.Now,
	}

	loaded := settings.Defaults(cfg.Links)
	if cfg.Store != nil {
		if s, err := cfg.Store.Load(); err != nil {
			log.Printf("fusion: no saved settings, using defaults: %v", err)
		} else {
			loaded = s
		}
	}
	e.thresholds = Thresholds{Wander: loaded.WanderThreshold, Jitter: loaded.JitterThreshold}
	for i := range e.links {
		e.links[i].ID = i
		e.links[i].Remote = i > 0
		e.links[i].WanderSensitivity = settings.DefaultWanderSensitivity
		e.links[i].JitterSensitivity = settings.DefaultJitterSensitivity
		if i < len(loaded.Links) {
			e.links[i].WanderSensitivity = loaded.Links[i].WanderSensitivity
			e.links[i].JitterSensitivity = loaded.Links[i].JitterSensitivity
		}
	}
	return e
}

// SetPublish replaces the publish hook. Intended for wiring during startup,
// before traffic flows.
func (e *Engine) SetPublish(fn func(Snapshot)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn == nil {
		fn = func(Snapshot) {}
	}
	e.publish = fn
}

// SetBroadcast replaces the command broadcast hook.
func (e *Engine) SetBroadcast(fn func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn == nil {
		fn = func([]byte) {}
	}
	e.broadcast = fn
}

// IngestLocal feeds one raw sample from the local link's front end. During
// calibration the sample also accumulates into the baseline. Smoothed
// readings update link 0 and trigger a re-vote; nothing happens during the
// smoother's cold start.
func (e *Engine) IngestLocal(raw radar.Sample) {
	e.mu.Lock()
	if e.calibrating {
		e.baseline.Add(raw)
	}

	reading, ok := e.smoother.Push(raw)
	if !ok {
		e.mu.Unlock()
		return
	}

	l := &e.links[0]
	l.Wander = reading.Wander
	l.Jitter = reading.Jitter
	l.Active = true
	l.LastUpdate = e.now()

	snap := e.fuseLocked()
	pub := e.publish
	e.mu.Unlock()

	pub(snap)
}

// UpdateRemote applies a remote link's report verbatim: the remote node has
// already run detection against its own calibration, and re-deriving it
// here with the master's thresholds would be wrong.
func (e *Engine) UpdateRemote(rep wire.Report) {
	if int(rep.NodeID) < 1 || int(rep.NodeID) >= len(e.links) {
		log.Printf("fusion: dropping report from unknown node %d", rep.NodeID)
		return
	}

	e.mu.Lock()
	l := &e.links[rep.NodeID]
	l.Active = true
	l.PresenceDetected = rep.Occupied
	l.MotionDetected = rep.Moving
	l.Wander = float64(rep.Wander)
	l.Jitter = float64(rep.Jitter)
	l.RSSI = rep.RSSI
	l.LastUpdate = e.now()

	snap := e.fuseLocked()
	pub := e.publish
	e.mu.Unlock()

	pub(snap)
}

// StartCalibration begins a calibration session and broadcasts the start
// command to remote links. Returns false without side effects if a session
// is already running.
func (e *Engine) StartCalibration() bool {
	e.mu.Lock()
	if e.calibrating {
		e.mu.Unlock()
		return false
	}
	e.calibrating = true
	e.calibrationStart = e.now()
	e.baseline.Reset()
	snap := e.fuseLocked()
	pub, bcast := e.publish, e.broadcast
	e.mu.Unlock()

	bcast(wire.EncodeStartCalibration())
	pub(snap)
	log.Printf("fusion: calibration started (%v)", e.calibrationDuration)
	return true
}

// StopCalibration ends the session: derives thresholds from the baseline,
// persists them and broadcasts the stop command so each remote link
// recalibrates against its own baseline. A stop when idle is a no-op
// returning the current thresholds and false.
func (e *Engine) StopCalibration() (Thresholds, bool) {
	e.mu.Lock()
	if !e.calibrating {
		th := e.thresholds
		e.mu.Unlock()
		return th, false
	}
	e.calibrating = false
	if e.baseline.Count() > 0 {
		w, j := e.baseline.Thresholds()
		e.thresholds = Thresholds{Wander: w, Jitter: j}
	} else {
		log.Printf("fusion: calibration ended with no baseline samples, keeping previous thresholds")
	}
	th := e.thresholds
	saved := e.settingsLocked()
	snap := e.fuseLocked()
	pub, bcast := e.publish, e.broadcast
	e.mu.Unlock()

	bcast(wire.EncodeStopCalibration())
	e.persist(saved)
	pub(snap)
	log.Printf("fusion: calibration done: wander_th=%.6f jitter_th=%.6f", th.Wander, th.Jitter)
	return th, true
}

// SetSensitivity tunes one link's multipliers, persisting them and, for a
// remote link, forwarding the targeted sensitivity command. Values outside
// the sane range are rejected and the prior values retained.
func (e *Engine) SetSensitivity(link int, wanderSens, jitterSens float64) error {
	if link < 0 || link >= len(e.links) {
		return fmt.Errorf("invalid link index %d", link)
	}
	if wanderSens < MinSensitivity || wanderSens > MaxSensitivity {
		return fmt.Errorf("wander sensitivity %.4f out of range [%g, %g]", wanderSens, MinSensitivity, MaxSensitivity)
	}
	if jitterSens < MinSensitivity || jitterSens > MaxSensitivity {
		return fmt.Errorf("jitter sensitivity %.4f out of range [%g, %g]", jitterSens, MinSensitivity, MaxSensitivity)
	}

	e.mu.Lock()
	e.links[link].WanderSensitivity = wanderSens
	e.links[link].JitterSensitivity = jitterSens
	saved := e.settingsLocked()
	snap := e.fuseLocked()
	pub, bcast := e.publish, e.broadcast
	e.mu.Unlock()

	if link > 0 {
		bcast(wire.EncodeSetSensitivity(uint8(link), float32(wanderSens), float32(jitterSens)))
	}
	e.persist(saved)
	pub(snap)
	log.Printf("fusion: link %d sensitivity set: wander=%.3f jitter=%.3f", link, wanderSens, jitterSens)
	return nil
}

// SetThresholds overrides the global thresholds, persists them and tells
// remote links to adopt the same override. Setting a threshold to 0 marks
// that metric uncalibrated until a new value is established.
func (e *Engine) SetThresholds(wander, jitter float64) {
	e.mu.Lock()
	e.thresholds = Thresholds{Wander: wander, Jitter: jitter}
	saved := e.settingsLocked()
	snap := e.fuseLocked()
	pub, bcast := e.publish, e.broadcast
	e.mu.Unlock()

	bcast(wire.EncodeSetThresholds(float32(wander), float32(jitter)))
	e.persist(saved)
	pub(snap)
	log.Printf("fusion: thresholds overridden: wander_th=%.6f jitter_th=%.6f", wander, jitter)
}

// Tick is the fixed-period publisher beat. It is the sole owner of the
// calibration deadline: an unstopped session ends here once the target
// duration elapses. It also sweeps link liveness and re-publishes.
func (e *Engine) Tick() Snapshot {
	e.mu.Lock()
	expired := e.calibrating && e.now().Sub(e.calibrationStart) >= e.calibrationDuration
	e.mu.Unlock()

	if expired {
		log.Printf("fusion: calibration auto-stop after %v", e.calibrationDuration)
		e.StopCalibration()
	}

	e.mu.Lock()
	snap := e.fuseLocked()
	pub := e.publish
	e.mu.Unlock()

	pub(snap)
	return snap
}

// Snapshot returns the current published state without re-publishing.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fuseLocked()
}

// fuseLocked re-votes the fused verdict from the live link set and returns
// the snapshot. Caller holds e.mu.
//
// A link that has not reported within the liveness timeout drops out of
// the vote. Two concurring links are required while two or more are alive;
// a lone surviving link confirms alone rather than going blind.
func (e *Engine) fuseLocked() Snapshot {
	now := e.now()
	detectionCount := 0
	motionCount := 0
	activeCount := 0

	for i := range e.links {
		l := &e.links[i]
		if l.Active && now.Sub(l.LastUpdate) >= e.livenessTimeout {
			l.Active = false
		}
		if !l.Active {
			continue
		}
		activeCount++

		if !l.Remote {
			if e.calibrating {
				l.PresenceDetected = false
				l.MotionDetected = false
			} else {
				l.PresenceDetected = Detect(l.Wander, l.WanderSensitivity, e.thresholds.Wander)
				l.MotionDetected = Detect(l.Jitter, l.JitterSensitivity, e.thresholds.Jitter)
			}
		}

		if l.PresenceDetected || l.MotionDetected {
			detectionCount++
		}
		if l.MotionDetected {
			motionCount++
		}
	}

	quorum := 1
	if activeCount >= 2 {
		quorum = 2
	}
	occupied := detectionCount >= quorum
	e.fused = FusedState{
		Occupied: occupied,
		Moving:   occupied && motionCount >= quorum,
	}

	return e.snapshotLocked(now)
}

func (e *Engine) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{
		Occupied:        e.fused.Occupied,
		Moving:          e.fused.Moving,
		Calibrating:     e.calibrating,
		WanderThreshold: e.thresholds.Wander,
		JitterThreshold: e.thresholds.Jitter,
		Links:           make([]LinkSnapshot, len(e.links)),
	}
	if e.calibrating {
		snap.Occupied = false
		snap.Moving = false
		remaining := e.calibrationDuration - now.Sub(e.calibrationStart)
		if remaining < 0 {
			remaining = 0
		}
		snap.CalibrationSecondsRemaining = int(remaining / time.Second)
	}
	for i := range e.links {
		l := &e.links[i]
		snap.Links[i] = LinkSnapshot{
			Active:            l.Active,
			Occupied:          l.PresenceDetected,
			Moving:            l.MotionDetected,
			Wander:            l.Wander,
			Jitter:            l.Jitter,
			WanderSensitivity: l.WanderSensitivity,
			JitterSensitivity: l.JitterSensitivity,
			RSSI:              l.RSSI,
		}
	}
	return snap
}

func (e *Engine) settingsLocked() settings.Settings {
	s := settings.Settings{
		WanderThreshold: e.thresholds.Wander,
		JitterThreshold: e.thresholds.Jitter,
		Links:           make([]settings.LinkSettings, len(e.links)),
	}
	for i := range e.links {
		s.Links[i] = settings.LinkSettings{
			WanderSensitivity: e.links[i].WanderSensitivity,
			JitterSensitivity: e.links[i].JitterSensitivity,
		}
	}
	return s
}

// persist writes settings back to the store, outside the engine lock.
func (e *Engine) persist(s settings.Settings) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(s); err != nil {
		log.Printf("fusion: failed to save settings: %v", err)
	}
}
