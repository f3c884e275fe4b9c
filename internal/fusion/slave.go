package fusion

import (
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/presence_fusion/internal/radar"
	"github.com/relabs-tech/presence_fusion/internal/settings"
	"github.com/relabs-tech/presence_fusion/internal/wire"
)

// Slave-node defaults. Thresholds start nonzero so a never-calibrated node
// does not sit in the permanently-uncalibrated state; a calibration run
// replaces them with values measured on its own link.
const (
	DefaultSlaveWanderThreshold = 0.01
	DefaultSlaveJitterThreshold = 0.001

	// Motion is confirmed when at least this many of the recent raw jitter
	// samples are outliers, over a window of motionWindow samples.
	motionWindow   = 5
	motionOutliers = 2

	// Raw jitter below this never counts as a motion outlier, whatever the
	// window median says.
	jitterNoiseFloor = 0.0002

	// DefaultReportInterval caps how often a slave reports to the master.
	DefaultReportInterval = 100 * time.Millisecond
)

// Slave runs detection for one remote link against thresholds calibrated
// on that link, and builds the report frames sent to the master. The
// master trusts these verdicts verbatim.
type Slave struct {
	mu sync.Mutex

	nodeID     uint8
	smoother   *radar.Smoother
	thresholds Thresholds
	wanderSens float64
	jitterSens float64

	calibrating bool
	baseline    Baseline

	occupied bool
	moving   bool

	store          settings.Store
	start          time.Time
	now            func() time.Time
	reportInterval time.Duration
	lastReport     time.Time
}

// SlaveConfig wires a Slave to its collaborators.
type SlaveConfig struct {
	NodeID uint8
	Store  settings.Store
	// ReportInterval caps the report rate to the master; zero means the
	// default.
	ReportInterval time.Duration
	Now            func() time.Time
}

// NewSlave creates a slave detector, loading its own persisted calibration.
func NewSlave(cfg SlaveConfig) *Slave {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	s := &Slave{
		nodeID:         cfg.NodeID,
		smoother:       radar.NewSmoother(SmoothingWindow, MinSamples),
		thresholds:     Thresholds{Wander: DefaultSlaveWanderThreshold, Jitter: DefaultSlaveJitterThreshold},
		wanderSens:     settings.DefaultWanderSensitivity,
		jitterSens:     settings.DefaultJitterSensitivity,
		store:          cfg.Store,
		start:          cfg.Now(),
		now:            cfg.Now,
		reportInterval: cfg.ReportInterval,
	}
	if cfg.Store != nil {
		if saved, err := cfg.Store.Load(); err != nil {
			log.Printf("slave: no saved settings, using defaults: %v", err)
		} else {
			s.thresholds = Thresholds{Wander: saved.WanderThreshold, Jitter: saved.JitterThreshold}
			if len(saved.Links) > 0 {
				s.wanderSens = saved.Links[0].WanderSensitivity
				s.jitterSens = saved.Links[0].JitterSensitivity
			}
		}
	}
	return s
}

// Ingest feeds one raw sample from this node's front end. When a report is
// due for the master, it is returned with ok=true. No reports are produced
// during cold start or while calibrating, and at most one per report
// interval otherwise.
func (s *Slave) Ingest(raw radar.Sample) (wire.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calibrating {
		s.baseline.Add(raw)
	}

	reading, ok := s.smoother.Push(raw)
	if !ok {
		return wire.Report{}, false
	}

	s.occupied = Detect(reading.Wander, s.wanderSens, s.thresholds.Wander)
	s.moving = s.detectMotionLocked(reading.Jitter)

	if s.calibrating {
		return wire.Report{}, false
	}

	now := s.now()
	if now.Sub(s.lastReport) < s.reportInterval {
		return wire.Report{}, false
	}
	s.lastReport = now

	return wire.Report{
		NodeID:    s.nodeID,
		Occupied:  s.occupied,
		Moving:    s.moving,
		Wander:    float32(reading.Wander),
		Jitter:    float32(reading.Jitter),
		Timestamp: uint32(now.Sub(s.start).Milliseconds()),
	}, true
}

// detectMotionLocked confirms motion only when enough of the recent raw
// jitter samples are outliers: either past the calibrated threshold, or
// clearly above the window median and the noise floor. Single-sample
// glitches never clear the bar.
func (s *Slave) detectMotionLocked(jitterMedian float64) bool {
	if s.thresholds.Jitter <= Epsilon {
		return false
	}
	outliers := 0
	for _, j := range s.smoother.RecentJitter(motionWindow) {
		if j*s.jitterSens > s.thresholds.Jitter ||
			(j*s.jitterSens > jitterMedian && j > jitterNoiseFloor) {
			outliers++
		}
	}
	return outliers >= motionOutliers
}

// HandleFrame processes one inbound frame from the bus. Non-command bytes
// belong to the front-end data stream and are ignored silently; malformed
// commands are dropped; unknown command bytes in the reserved range are
// logged and ignored. Repeated start or stop commands are no-ops, so
// at-most-once delivery with duplicates cannot corrupt state.
func (s *Slave) HandleFrame(frame []byte) {
	if !wire.IsCommand(frame) {
		return
	}
	cmd, err := wire.DecodeCommand(frame)
	if err != nil {
		log.Printf("slave: dropping malformed command: %v", err)
		return
	}

	switch cmd.Type {
	case wire.CmdStartCalibration:
		s.startCalibration()
	case wire.CmdStopCalibration:
		s.stopCalibration()
	case wire.CmdSetThresholds:
		s.setThresholds(float64(cmd.Wander), float64(cmd.Jitter))
	case wire.CmdSetSensitivity:
		if cmd.NodeID != s.nodeID {
			return
		}
		s.setSensitivity(float64(cmd.Wander), float64(cmd.Jitter))
	default:
		log.Printf("slave: ignoring unknown command 0x%02x", cmd.Type)
	}
}

func (s *Slave) startCalibration() {
	s.mu.Lock()
	if s.calibrating {
		s.mu.Unlock()
		return
	}
	s.calibrating = true
	s.baseline.Reset()
	s.mu.Unlock()
	log.Printf("slave: calibration started")
}

func (s *Slave) stopCalibration() {
	s.mu.Lock()
	if !s.calibrating {
		s.mu.Unlock()
		return
	}
	s.calibrating = false
	if s.baseline.Count() > 0 {
		w, j := s.baseline.Thresholds()
		s.thresholds = Thresholds{Wander: w, Jitter: j}
	} else {
		log.Printf("slave: calibration ended with no baseline samples, keeping previous thresholds")
	}
	th := s.thresholds
	saved := s.settingsLocked()
	s.mu.Unlock()

	s.persist(saved)
	log.Printf("slave: calibration done: wander_th=%.6f jitter_th=%.6f", th.Wander, th.Jitter)
}

func (s *Slave) setThresholds(wander, jitter float64) {
	s.mu.Lock()
	s.thresholds = Thresholds{Wander: wander, Jitter: jitter}
	saved := s.settingsLocked()
	s.mu.Unlock()

	s.persist(saved)
	log.Printf("slave: thresholds updated: wander_th=%.6f jitter_th=%.6f", wander, jitter)
}

func (s *Slave) setSensitivity(wanderSens, jitterSens float64) {
	if wanderSens < MinSensitivity || wanderSens > MaxSensitivity ||
		jitterSens < MinSensitivity || jitterSens > MaxSensitivity {
		log.Printf("slave: rejecting out-of-range sensitivity wander=%.4f jitter=%.4f", wanderSens, jitterSens)
		return
	}

	s.mu.Lock()
	s.wanderSens = wanderSens
	s.jitterSens = jitterSens
	saved := s.settingsLocked()
	s.mu.Unlock()

	s.persist(saved)
	log.Printf("slave: sensitivity updated: wander=%.3f jitter=%.3f", wanderSens, jitterSens)
}

// Status returns the current local verdict for LED rendering.
func (s *Slave) Status() (occupied, moving, calibrating bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupied, s.moving, s.calibrating
}

// Thresholds returns the node's current calibration.
func (s *Slave) Thresholds() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholds
}

// Sensitivity returns the node's current multipliers.
func (s *Slave) Sensitivity() (wander, jitter float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wanderSens, s.jitterSens
}

func (s *Slave) settingsLocked() settings.Settings {
	return settings.Settings{
		WanderThreshold: s.thresholds.Wander,
		JitterThreshold: s.thresholds.Jitter,
		Links: []settings.LinkSettings{{
			WanderSensitivity: s.wanderSens,
			JitterSensitivity: s.jitterSens,
		}},
	}
}

func (s *Slave) persist(saved settings.Settings) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(saved); err != nil {
		log.Printf("slave: failed to save settings: %v", err)
	}
}
