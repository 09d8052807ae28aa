// Package config loads the autodj configuration file.
//
// The file lives under os.UserConfigDir():
//
//	~/Library/Application Support/autodj/config.yaml   (macOS)
//	~/.config/autodj/config.yaml                       (Linux)
//	%AppData%/autodj/config.yaml                       (Windows)
//
// AUTODJ_CONFIG_DIR overrides the directory. Missing keys keep their
// defaults, so an empty or absent file is a valid configuration. The Gemini
// API key is never stored here; it comes from GEMINI_API_KEY.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/autodj/pkg/control"
	"github.com/haivivi/autodj/pkg/inference"
	"github.com/haivivi/autodj/pkg/jsontime"
	"github.com/haivivi/autodj/pkg/resilience"
	"github.com/haivivi/autodj/pkg/sink"
	"github.com/haivivi/autodj/pkg/smoothing"
)

const (
	appDir   = "autodj"
	fileName = "config.yaml"
	stateDir = "state"

	// EnvDir overrides the configuration directory.
	EnvDir = "AUTODJ_CONFIG_DIR"
	// EnvAPIKey holds the Gemini API key.
	EnvAPIKey = "GEMINI_API_KEY"
)

// Config is the content of config.yaml.
type Config struct {
	Model string `yaml:"model"`
	// SystemInstruction replaces the built-in instruction when set.
	SystemInstruction string `yaml:"system_instruction,omitempty"`
	// Prompt is pushed to the session after the first connect.
	Prompt      string `yaml:"prompt,omitempty"`
	SkipPriming bool   `yaml:"skip_priming,omitempty"`

	Tick      jsontime.Duration `yaml:"tick"`
	Heartbeat jsontime.Duration `yaml:"heartbeat"`
	Deadzone  float64           `yaml:"deadzone"`
	Policy    PolicyConfig      `yaml:"policy"`

	Smoothing   SmoothingConfig   `yaml:"smoothing"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Compression CompressionConfig `yaml:"compression"`

	Bridge  BridgeConfig `yaml:"bridge"`
	Audio   AudioConfig  `yaml:"audio"`
	Metrics MetricsConfig `yaml:"metrics"`

	// StateDir holds the resumption handle database. Relative paths are
	// resolved against the config directory.
	StateDir string `yaml:"state_dir"`

	// path is where the config was loaded from.
	path string
}

// PolicyConfig selects how a new frame combines with the committed one.
type PolicyConfig struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight,omitempty"`
}

// SmoothingConfig holds the output trajectory timings.
type SmoothingConfig struct {
	Ramp         jsontime.Duration `yaml:"ramp"`
	Hold         jsontime.Duration `yaml:"hold"`
	FallbackRamp jsontime.Duration `yaml:"fallback_ramp"`
}

// ReconnectConfig holds the reconnect backoff.
type ReconnectConfig struct {
	Initial     jsontime.Duration `yaml:"initial"`
	Multiplier  float64           `yaml:"multiplier"`
	Max         jsontime.Duration `yaml:"max"`
	Jitter      float64           `yaml:"jitter,omitempty"`
	GoAwayDelay jsontime.Duration `yaml:"go_away_delay"`
}

// CompressionConfig holds the context window compression thresholds in
// tokens.
type CompressionConfig struct {
	Trigger int64 `yaml:"trigger"`
	Target  int64 `yaml:"target"`
}

// BridgeConfig configures the websocket sink.
type BridgeConfig struct {
	URL          string            `yaml:"url,omitempty"`
	Encoding     string            `yaml:"encoding,omitempty"`
	WriteTimeout jsontime.Duration `yaml:"write_timeout,omitempty"`
	Ranges       sink.Ranges       `yaml:"ranges,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address, e.g. ":9464". Empty disables it.
	Addr string `yaml:"addr,omitempty"`
}

// AudioConfig configures live audio forwarding.
type AudioConfig struct {
	// Input is a file of raw 16-bit PCM, or "-" for stdin. Empty disables
	// audio forwarding.
	Input      string `yaml:"input,omitempty"`
	SampleRate int    `yaml:"sample_rate"`
	Stereo     bool   `yaml:"stereo,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sm := smoothing.DefaultConfig()
	bo := resilience.DefaultBackoff()
	return &Config{
		Model:     inference.DefaultModel,
		Tick:      jsontime.Of(50 * time.Millisecond),
		Heartbeat: jsontime.Of(2 * time.Second),
		Deadzone:  control.DefaultDeadzone,
		Policy:    PolicyConfig{Name: "replace"},
		Smoothing: SmoothingConfig{
			Ramp:         jsontime.Of(sm.Ramp),
			Hold:         jsontime.Of(sm.Hold),
			FallbackRamp: jsontime.Of(sm.FallbackRamp),
		},
		Reconnect: ReconnectConfig{
			Initial:     jsontime.Of(bo.Initial),
			Multiplier:  bo.Multiplier,
			Max:         jsontime.Of(bo.Max),
			GoAwayDelay: jsontime.Of(resilience.DefaultGoAwayDelay),
		},
		Compression: CompressionConfig{
			Trigger: inference.DefaultCompressionTrigger,
			Target:  inference.DefaultCompressionTarget,
		},
		Audio:    AudioConfig{SampleRate: 16000},
		StateDir: stateDir,
	}
}

// Dir returns the configuration directory.
func Dir() (string, error) {
	if d := os.Getenv(EnvDir); d != "" {
		return d, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory: %w", err)
	}
	return filepath.Join(base, appDir), nil
}

// DefaultPath returns the path of config.yaml in Dir.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// Load reads the config at path over the defaults. An empty path uses
// DefaultPath. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if c.Tick.Duration() <= 0 {
		return errors.New("tick must be positive")
	}
	if c.Deadzone < 0 || c.Deadzone >= 1 {
		return fmt.Errorf("deadzone %v outside [0, 1)", c.Deadzone)
	}
	switch c.Policy.Name {
	case "", "replace":
	case "blend":
		if c.Policy.Weight <= 0 || c.Policy.Weight > 1 {
			return fmt.Errorf("blend weight %v outside (0, 1]", c.Policy.Weight)
		}
	default:
		return fmt.Errorf("unknown policy %q", c.Policy.Name)
	}
	for _, d := range []jsontime.Duration{c.Smoothing.Ramp, c.Smoothing.Hold, c.Smoothing.FallbackRamp} {
		if d.Duration() < 0 {
			return errors.New("smoothing durations must not be negative")
		}
	}
	if c.Reconnect.Initial.Duration() <= 0 {
		return errors.New("reconnect.initial must be positive")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate %d must be positive", c.Audio.SampleRate)
	}
	return c.Bridge.Ranges.Validate()
}

// SmoothingConfig converts the smoothing section.
func (c *Config) SmoothingConfig() smoothing.Config {
	return smoothing.Config{
		Ramp:         c.Smoothing.Ramp.Duration(),
		Hold:         c.Smoothing.Hold.Duration(),
		FallbackRamp: c.Smoothing.FallbackRamp.Duration(),
	}
}

// ResilienceConfig converts the reconnect section. The machine holds for as
// long as the smoothing engine does.
func (c *Config) ResilienceConfig() resilience.Config {
	return resilience.Config{
		Hold: c.Smoothing.Hold.Duration(),
		Backoff: resilience.BackoffConfig{
			Initial:    c.Reconnect.Initial.Duration(),
			Multiplier: c.Reconnect.Multiplier,
			Max:        c.Reconnect.Max.Duration(),
			Jitter:     c.Reconnect.Jitter,
		},
		GoAwayDelay: c.Reconnect.GoAwayDelay.Duration(),
	}
}

// Contract returns the control contract.
func (c *Config) Contract() *control.Contract {
	return &control.Contract{Deadzone: c.Deadzone}
}

// PolicyFunc resolves the configured policy.
func (c *Config) PolicyFunc() control.Policy {
	return control.PolicyByName(c.Policy.Name, c.Policy.Weight)
}

// ResolveStateDir returns StateDir as an absolute path relative to the
// directory of the config file.
func (c *Config) ResolveStateDir() string {
	if c.StateDir == "" || filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(filepath.Dir(c.path), c.StateDir)
}
