package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/ccsched/internal/statemachine"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config holds configuration for the ccsched binary.
type Config struct {
	LogLevel   string           `yaml:"log_level"`  // debug, info, warn, error
	LogFormat  string           `yaml:"log_format"` // text, json
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	FrameRate  FrameRateConfig  `yaml:"frame_rate"`
	Simulation SimulationConfig `yaml:"simulation"`
	Debug      DebugConfig      `yaml:"debug"`
	Trace      TraceConfig      `yaml:"trace"`
}

// SchedulerConfig tunes the state machine.
type SchedulerConfig struct {
	MaxFailedDrawsBeforeForced    int  `yaml:"max_failed_draws_before_forced"`
	RecreateContextBeforeTextures bool `yaml:"recreate_context_before_textures"`
	DrawOnlyInsideVSync           bool `yaml:"draw_only_inside_vsync"`
}

// FrameRateConfig drives the vsync time source.
type FrameRateConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MaxFramesPending int           `yaml:"max_frames_pending"` // 0 = unlimited
}

// SimulationConfig shapes the simulated compositor behind the scheduler.
type SimulationConfig struct {
	BeginFrameLatency  time.Duration `yaml:"begin_frame_latency"`
	ResourceRounds     int           `yaml:"resource_rounds"`
	SwapLatency        time.Duration `yaml:"swap_latency"`
	DrawFailureEvery   int           `yaml:"draw_failure_every"`   // 0 = never fail
	CommitEvery        int           `yaml:"commit_every"`         // draws between animation commits, 0 = never
	Animate            bool          `yaml:"animate"`              // request a redraw from every draw
	ContextLossEvery   time.Duration `yaml:"context_loss_every"`   // 0 = never
	RecreateFailures   int           `yaml:"recreate_failures"`    // failed attempts before a recreation succeeds
	RecreateMinBackoff time.Duration `yaml:"recreate_min_backoff"` // first retry delay
	RecreateMaxBackoff time.Duration `yaml:"recreate_max_backoff"`
}

// DebugConfig controls the debug HTTP server. An empty Addr disables it.
type DebugConfig struct {
	Addr string `yaml:"addr"`
}

// TraceConfig controls action trace persistence. An empty DBPath disables it.
type TraceConfig struct {
	DBPath        string        `yaml:"db_path"` // ":memory:" for an ephemeral trace
	Label         string        `yaml:"label"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Scheduler: SchedulerConfig{
			MaxFailedDrawsBeforeForced: statemachine.DefaultSettings().MaxFailedDrawsBeforeForced,
		},
		FrameRate: FrameRateConfig{
			Interval:         time.Second / 60,
			MaxFramesPending: 2,
		},
		Simulation: SimulationConfig{
			BeginFrameLatency:  4 * time.Millisecond,
			ResourceRounds:     1,
			SwapLatency:        8 * time.Millisecond,
			Animate:            true,
			CommitEvery:        30,
			RecreateFailures:   2,
			RecreateMinBackoff: 10 * time.Millisecond,
			RecreateMaxBackoff: 500 * time.Millisecond,
		},
		Debug: DebugConfig{Addr: ":9090"},
		Trace: TraceConfig{
			DBPath:        ":memory:",
			Label:         "run",
			BufferSize:    4096,
			FlushInterval: 250 * time.Millisecond,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CCSCHED_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("CCSCHED_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("CCSCHED_LOG_FORMAT"); ok && v != "" {
		c.LogFormat = v
	}
	if v, ok := lookup("CCSCHED_DEBUG_ADDR"); ok {
		c.Debug.Addr = v
	}
	if v, ok := lookup("CCSCHED_TRACE_DB"); ok {
		c.Trace.DBPath = v
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		bad("log_format %q (want text or json)", c.LogFormat)
	}
	if c.Scheduler.MaxFailedDrawsBeforeForced < 0 {
		bad("scheduler.max_failed_draws_before_forced must not be negative")
	}
	if c.FrameRate.Interval <= 0 {
		bad("frame_rate.interval must be positive")
	}
	if c.FrameRate.MaxFramesPending < 0 {
		bad("frame_rate.max_frames_pending must not be negative")
	}
	sim := c.Simulation
	if sim.BeginFrameLatency < 0 || sim.SwapLatency < 0 || sim.ContextLossEvery < 0 {
		bad("simulation latencies must not be negative")
	}
	if sim.ResourceRounds < 0 || sim.DrawFailureEvery < 0 || sim.CommitEvery < 0 || sim.RecreateFailures < 0 {
		bad("simulation counts must not be negative")
	}
	if sim.RecreateMinBackoff <= 0 || sim.RecreateMaxBackoff < sim.RecreateMinBackoff {
		bad("simulation.recreate_min_backoff must be positive and not above recreate_max_backoff")
	}
	if c.Trace.DBPath != "" {
		if c.Trace.BufferSize <= 0 {
			bad("trace.buffer_size must be positive")
		}
		if c.Trace.FlushInterval <= 0 {
			bad("trace.flush_interval must be positive")
		}
	}
	return errors.Join(errs...)
}

// Settings maps the scheduler section onto state machine settings.
func (c Config) Settings() statemachine.Settings {
	return statemachine.Settings{
		MaxFailedDrawsBeforeForced:    c.Scheduler.MaxFailedDrawsBeforeForced,
		RecreateContextBeforeTextures: c.Scheduler.RecreateContextBeforeTextures,
		DrawOnlyInsideVSync:           c.Scheduler.DrawOnlyInsideVSync,
	}
}

// YAML renders the config as it would be written to a file.
func (c Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
