package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker          string
	MQTTClientIDMaster  string
	MQTTClientIDSlave   string
	MQTTClientIDConsole string
	MQTTClientIDDisplay string

	// Topics
	TopicReport  string // slave -> master binary report frames
	TopicCommand string // master -> slaves binary command frames
	TopicStatus  string // master -> subscribers JSON snapshots

	// Node identity (slaves only; the master is always link 0)
	NodeID    int
	LinkCount int

	// CSI front end
	SampleSerialPort string // empty = mock source
	SampleBaudRate   int
	SampleInterval   int // milliseconds, mock source tick

	// Timing
	PublishInterval     int // milliseconds
	ReportInterval      int // milliseconds, slave report rate cap
	LivenessTimeout     int // milliseconds
	CalibrationDuration int // milliseconds

	// Persistence
	SettingsFile string

	// Web Server
	WebServerPort int
	WebStaticDir  string

	// Status LED (empty = disabled)
	LEDPin string

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: unexported so other packages cannot access it directly.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock for
//     initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// defaults returns a Config pre-filled with deployment defaults; the config
// file overrides them.
func defaults() *Config {
	return &Config{
		MQTTClientIDMaster:    "presence-master",
		MQTTClientIDSlave:     "presence-slave",
		MQTTClientIDConsole:   "presence-console",
		MQTTClientIDDisplay:   "presence-display",
		TopicReport:           "presence/report",
		TopicCommand:          "presence/command",
		TopicStatus:           "presence/status",
		NodeID:                1,
		LinkCount:             3,
		SampleBaudRate:        115200,
		SampleInterval:        100,
		PublishInterval:       250,
		ReportInterval:        100,
		LivenessTimeout:       3000,
		CalibrationDuration:   30000,
		SettingsFile:          "presence_settings.json",
		WebServerPort:         8080,
		WebStaticDir:          "web",
		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 250,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_MASTER":
		c.MQTTClientIDMaster = value
	case "MQTT_CLIENT_ID_SLAVE":
		c.MQTTClientIDSlave = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_REPORT":
		c.TopicReport = value
	case "TOPIC_COMMAND":
		c.TopicCommand = value
	case "TOPIC_STATUS":
		c.TopicStatus = value

	// Node identity
	case "NODE_ID":
		id, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid NODE_ID %q: %w", value, err)
		}
		c.NodeID = id
	case "LINK_COUNT":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid LINK_COUNT %q: %w", value, err)
		}
		if n < 1 {
			return fmt.Errorf("LINK_COUNT must be at least 1, got %d", n)
		}
		c.LinkCount = n

	// CSI front end
	case "SAMPLE_SERIAL_PORT":
		c.SampleSerialPort = value
	case "SAMPLE_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_BAUD_RATE %q: %w", value, err)
		}
		c.SampleBaudRate = rate
	case "SAMPLE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_INTERVAL %q: %w", value, err)
		}
		c.SampleInterval = interval

	// Timing
	case "PUBLISH_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PUBLISH_INTERVAL %q: %w", value, err)
		}
		c.PublishInterval = interval
	case "REPORT_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid REPORT_INTERVAL %q: %w", value, err)
		}
		c.ReportInterval = interval
	case "LIVENESS_TIMEOUT":
		timeout, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid LIVENESS_TIMEOUT %q: %w", value, err)
		}
		c.LivenessTimeout = timeout
	case "CALIBRATION_DURATION":
		duration, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CALIBRATION_DURATION %q: %w", value, err)
		}
		c.CalibrationDuration = duration

	// Persistence
	case "SETTINGS_FILE":
		c.SettingsFile = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port
	case "WEB_STATIC_DIR":
		c.WebStaticDir = value

	// Status LED
	case "LED_PIN":
		c.LEDPin = value

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set and consistent.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.NodeID < 1 || c.NodeID >= c.LinkCount {
		return fmt.Errorf("NODE_ID must be in [1, %d), got %d", c.LinkCount, c.NodeID)
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("PUBLISH_INTERVAL must be positive")
	}
	if c.CalibrationDuration <= 0 {
		return fmt.Errorf("CALIBRATION_DURATION must be positive")
	}
	if c.LivenessTimeout <= 0 {
		return fmt.Errorf("LIVENESS_TIMEOUT must be positive")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
