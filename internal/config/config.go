package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
}

// Profile represents a per-profile config.toml with everything the sync
// core needs: endpoints, queue bounds and the timing knobs. The reference
// durations are deliberate ordering buffers, not protocol requirements, so
// they are configuration rather than constants.
type Profile struct {
	UserID      string `toml:"user_id"`
	SocketURL   string `toml:"socket_url"`
	RestURL     string `toml:"rest_url"`
	MetricsAddr string `toml:"metrics_addr"`

	QueueCapacity int `toml:"queue_capacity"`
	PageSize      int `toml:"page_size"`

	Timing Timing `toml:"timing"`
	Retry  Retry  `toml:"retry"`
}

// Timing holds the sync core's delay windows, in milliseconds.
type Timing struct {
	DebounceMS   int `toml:"debounce_ms"`
	StaggerMS    int `toml:"stagger_ms"`
	AckTimeoutMS int `toml:"ack_timeout_ms"`
}

// Retry bounds the chat-list fetch retry policy.
type Retry struct {
	MaxAttempts    int `toml:"max_attempts"`
	InitialDelayMS int `toml:"initial_delay_ms"`
	MaxDelayMS     int `toml:"max_delay_ms"`
}

// DefaultProfile returns a profile with the reference timings.
func DefaultProfile() Profile {
	return Profile{
		SocketURL:     "wss://chat.nortia.app/socket",
		RestURL:       "https://api.nortia.app/v1",
		MetricsAddr:   "127.0.0.1:9464",
		QueueCapacity: 256,
		PageSize:      50,
		Timing: Timing{
			DebounceMS:   100,
			StaggerMS:    50,
			AckTimeoutMS: 5000,
		},
		Retry: Retry{
			MaxAttempts:    5,
			InitialDelayMS: 2000,
			MaxDelayMS:     32000,
		},
	}
}

// Debounce returns the coalescer window.
func (t Timing) Debounce() time.Duration { return time.Duration(t.DebounceMS) * time.Millisecond }

// Stagger returns the inbound insert/auto-read ordering buffer.
func (t Timing) Stagger() time.Duration { return time.Duration(t.StaggerMS) * time.Millisecond }

// AckTimeout returns the outbound delivery acknowledgment timeout.
func (t Timing) AckTimeout() time.Duration { return time.Duration(t.AckTimeoutMS) * time.Millisecond }

// InitialDelay returns the first retry delay.
func (r Retry) InitialDelay() time.Duration { return time.Duration(r.InitialDelayMS) * time.Millisecond }

// MaxDelay returns the retry delay cap.
func (r Retry) MaxDelay() time.Duration { return time.Duration(r.MaxDelayMS) * time.Millisecond }

// Load reads the global config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config to the given path, creating parent dirs.
func Save(path string, cfg *Config) error {
	return write(path, cfg)
}

// LoadProfile reads a profile config from the given path. A missing file
// yields the defaults; present fields override them.
func LoadProfile(path string) (*Profile, error) {
	prof := DefaultProfile()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &prof, nil
	}
	if _, err := toml.DecodeFile(path, &prof); err != nil {
		return nil, err
	}
	return &prof, nil
}

// SaveProfile writes a profile config to the given path.
func SaveProfile(path string, prof *Profile) error {
	return write(path, prof)
}

func write(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
