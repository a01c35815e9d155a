// Package config loads the manager's JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"m3dmanager/host/serial"
	"m3dmanager/protocol"
)

// USBConfig identifies the printer during discovery
type USBConfig struct {
	VID string `json:"vid"`
	PID string `json:"pid"`
}

// Config holds connection and transfer settings. Durations are in
// milliseconds.
type Config struct {
	Port   string `json:"port"`
	Driver string `json:"driver"`
	Baud   int    `json:"baud"`

	ReadPollMS        int `json:"read_poll_ms"`
	ResponseTimeoutMS int `json:"response_timeout_ms"`
	ProbeTimeoutMS    int `json:"probe_timeout_ms"`
	SwitchTimeoutMS   int `json:"switch_timeout_ms"`
	ProbeIntervalMS   int `json:"probe_interval_ms"`

	MaxResends int `json:"max_resends"`
	ChunkSize  int `json:"chunk_size"`

	USB   USBConfig `json:"usb"`
	Debug bool      `json:"debug"`
}

// MaxChunkSize leaves room for the write opcode and chunk index
const MaxChunkSize = protocol.MaxPayload - 3

// LoadConfig parses a JSON configuration and fills in defaults
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config

	// Unset max_resends means the default, an explicit 0 disables resends
	config.MaxResends = -1

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Load reads a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *Config) {
	if config.Driver == "" {
		config.Driver = serial.DriverNative
	}
	if config.Baud == 0 {
		config.Baud = 115200
	}

	if config.ReadPollMS == 0 {
		config.ReadPollMS = 50
	}
	if config.ResponseTimeoutMS == 0 {
		config.ResponseTimeoutMS = 2000
	}
	if config.ProbeTimeoutMS == 0 {
		config.ProbeTimeoutMS = 1000
	}
	if config.SwitchTimeoutMS == 0 {
		config.SwitchTimeoutMS = 15000
	}
	if config.ProbeIntervalMS == 0 {
		config.ProbeIntervalMS = 250
	}

	if config.MaxResends < 0 {
		config.MaxResends = 5
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 128
	}

	if config.USB.VID == "" && config.USB.PID == "" {
		config.USB.VID = serial.DefaultVID
		config.USB.PID = serial.DefaultPID
	}
}

// Default returns the built-in configuration
func Default() *Config {
	config := &Config{MaxResends: -1}
	applyDefaults(config)
	return config
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.ChunkSize < 1 || c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk_size must be between 1 and %d, got %d", MaxChunkSize, c.ChunkSize)
	}
	if c.Baud < 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	for name, v := range map[string]int{
		"read_poll_ms":        c.ReadPollMS,
		"response_timeout_ms": c.ResponseTimeoutMS,
		"probe_timeout_ms":    c.ProbeTimeoutMS,
		"switch_timeout_ms":   c.SwitchTimeoutMS,
		"probe_interval_ms":   c.ProbeIntervalMS,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}
	return nil
}

// Filter returns the USB discovery filter
func (c *Config) Filter() serial.USBFilter {
	return serial.USBFilter{VID: c.USB.VID, PID: c.USB.PID}
}

func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMS) * time.Millisecond
}

func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

func (c *Config) SwitchTimeout() time.Duration {
	return time.Duration(c.SwitchTimeoutMS) * time.Millisecond
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMS) * time.Millisecond
}
