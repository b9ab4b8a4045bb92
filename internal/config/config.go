package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	ModeToggle     = "Toggle"
	ModePushToTalk = "PushToTalk"
)

type Config struct {
	LogLevel     string       `json:"log_level"`
	Hotkey       string       `json:"hotkey"`
	HotkeyDarwin string       `json:"hotkey_darwin"`
	Mode         string       `json:"mode"` // "Toggle" or "PushToTalk"
	Audio        AudioConfig  `json:"audio"`
	Looper       LooperConfig `json:"looper"`
	Mixer        MixerConfig  `json:"mixer"`
	MetricsAddr  string       `json:"metrics_addr"` // empty disables /metrics
}

type AudioConfig struct {
	DeviceID   string `json:"device_id"`
	SampleRate int    `json:"sample_rate"`
	ChunkMS    int    `json:"chunk_ms"`
	BitDepth   int    `json:"bit_depth"` // 16 or 32
}

type LooperConfig struct {
	CaptureSeconds  int `json:"capture_seconds"`
	SnapshotSeconds int `json:"snapshot_seconds"`
}

// MixerConfig holds the UI controls, each 0..100.
type MixerConfig struct {
	Pan        int `json:"pan"`
	InputGain  int `json:"input_gain"`
	OutputGain int `json:"output_gain"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		Hotkey:       "Alt+Space",
		HotkeyDarwin: "Alt+Space", // Option+Space
		Mode:         ModeToggle,
		Audio: AudioConfig{
			DeviceID:   "",
			SampleRate: 48000,
			ChunkMS:    20,
			BitDepth:   16,
		},
		Looper: LooperConfig{
			CaptureSeconds:  60,
			SnapshotSeconds: 30,
		},
		Mixer: MixerConfig{
			Pan:        50,
			InputGain:  100,
			OutputGain: 100,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path. A missing file yields defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Validate()
	return cfg, nil
}

// Validate replaces out-of-range values with defaults and clamps the mixer
// controls.
func (c *Config) Validate() {
	def := Default()

	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = def.LogLevel
	}
	if c.Mode != ModeToggle && c.Mode != ModePushToTalk {
		c.Mode = def.Mode
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = def.Audio.SampleRate
	}
	if c.Audio.ChunkMS <= 0 {
		c.Audio.ChunkMS = def.Audio.ChunkMS
	}
	if c.Audio.BitDepth != 16 && c.Audio.BitDepth != 32 {
		c.Audio.BitDepth = def.Audio.BitDepth
	}
	if c.Looper.CaptureSeconds <= 0 {
		c.Looper.CaptureSeconds = def.Looper.CaptureSeconds
	}
	if c.Looper.SnapshotSeconds < 0 {
		c.Looper.SnapshotSeconds = def.Looper.SnapshotSeconds
	}
	c.Mixer.Pan = clamp(c.Mixer.Pan, 0, 100)
	c.Mixer.InputGain = clamp(c.Mixer.InputGain, 0, 100)
	c.Mixer.OutputGain = clamp(c.Mixer.OutputGain, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveTo(configPath())
}

func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

// Path returns the default config file location.
func Path() string {
	return configPath()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "jammin", "config.json")
}
