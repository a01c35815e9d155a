package printer

import (
	"time"

	"github.com/rs/zerolog"

	"m3dmanager/config"
	"m3dmanager/host/serial"
)

// maxProbeInterval caps the rediscovery backoff
const maxProbeInterval = 2 * time.Second

// settings holds the session configuration
type settings struct {
	log zerolog.Logger

	driver   string
	baud     int
	readPoll int // ms

	responseTimeout time.Duration
	probeTimeout    time.Duration
	switchTimeout   time.Duration
	probeInterval   time.Duration

	maxResends int
	chunkSize  int

	progress ProgressCallback
}

func defaultSettings() settings {
	s := settings{log: zerolog.Nop()}
	s.apply(config.Default())
	return s
}

func (s *settings) apply(cfg *config.Config) {
	s.driver = cfg.Driver
	s.baud = cfg.Baud
	s.readPoll = cfg.ReadPollMS
	s.responseTimeout = cfg.ResponseTimeout()
	s.probeTimeout = cfg.ProbeTimeout()
	s.switchTimeout = cfg.SwitchTimeout()
	s.probeInterval = cfg.ProbeInterval()
	s.maxResends = cfg.MaxResends
	s.chunkSize = cfg.ChunkSize
}

func (s *settings) serial(device string) *serial.Config {
	return &serial.Config{
		Device:      device,
		Baud:        s.baud,
		ReadTimeout: s.readPoll,
		Driver:      s.driver,
	}
}

// Option configures a Session
type Option func(*settings)

// WithConfig applies every setting from a loaded configuration. Options
// given after it override individual values.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) {
		if cfg != nil {
			s.apply(cfg)
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) {
		s.log = log
	}
}

// WithBaud sets the serial baud rate
func WithBaud(baud int) Option {
	return func(s *settings) {
		if baud > 0 {
			s.baud = baud
		}
	}
}

// WithResponseTimeout bounds a single ReceiveResponse call
func WithResponseTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.responseTimeout = d
		}
	}
}

// WithProbeTimeout bounds the identify handshake on one port
func WithProbeTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithMaxResends sets how many consecutive resends one request may need
func WithMaxResends(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxResends = n
		}
	}
}

// WithSwitchTimeout bounds waiting for the printer to re-enumerate after
// a mode switch
func WithSwitchTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.switchTimeout = d
		}
	}
}

// WithProbeInterval sets the first rediscovery poll interval. It doubles
// after every empty poll up to two seconds.
func WithProbeInterval(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.probeInterval = d
		}
	}
}

// WithChunkSize sets the firmware bytes carried per write request
func WithChunkSize(size int) Option {
	return func(s *settings) {
		if size > 0 && size <= config.MaxChunkSize {
			s.chunkSize = size
		}
	}
}

// WithProgressCallback reports firmware installation progress
func WithProgressCallback(cb ProgressCallback) Option {
	return func(s *settings) {
		s.progress = cb
	}
}
