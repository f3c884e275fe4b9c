// Package settings persists detection thresholds and per-link sensitivity
// across restarts.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default per-link sensitivity multipliers.
const (
	DefaultWanderSensitivity = 0.15
	DefaultJitterSensitivity = 0.20
)

// LinkSettings holds one link's tunable sensitivity multipliers.
type LinkSettings struct {
	WanderSensitivity float64 `json:"wander_sens"`
	JitterSensitivity float64 `json:"jitter_sens"`
}

// Settings is everything the engine persists. Thresholds of 0 mean
// "uncalibrated": detection stays suppressed until a calibration run or an
// explicit override establishes nonzero values.
type Settings struct {
	WanderThreshold float64        `json:"wander_th"`
	JitterThreshold float64        `json:"jitter_th"`
	Links           []LinkSettings `json:"links"`
}

// Defaults returns factory settings for the given link count.
func Defaults(links int) Settings {
	s := Settings{Links: make([]LinkSettings, links)}
	for i := range s.Links {
		s.Links[i] = LinkSettings{
			WanderSensitivity: DefaultWanderSensitivity,
			JitterSensitivity: DefaultJitterSensitivity,
		}
	}
	return s
}

// Store loads and saves settings. Save must be all-or-nothing per call: a
// concurrent reader never observes a partially written file.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// FileStore persists settings as a JSON file, written atomically via a
// temp file and rename.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the settings file. A missing file returns an error the caller
// is expected to treat as "fall back to defaults" (first boot).
func (f *FileStore) Load() (Settings, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings file: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings file %s: %w", f.path, err)
	}
	return s, nil
}

// Save writes the settings file atomically.
func (f *FileStore) Save(s Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return filepath.Clean(f.path)
}
