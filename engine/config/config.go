package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/vkframes/engine/core"
	"github.com/spaghettifunk/vkframes/engine/math"
)

const (
	DefaultMaxConcurrentSubmits = 8
	DefaultMaxTimestampQueries  = 100

	maxConcurrentSubmitsLimit = 64
	maxTimestampQueriesLimit  = 4096
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Frame     FrameConfig     `toml:"frame"`
	Profiling ProfilingConfig `toml:"profiling"`
	Sim       SimConfig       `toml:"sim"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type FrameConfig struct {
	// Size of the submission ring, i.e. how many submissions may be in flight.
	MaxConcurrentSubmits int `toml:"max_concurrent_submits"`
	// Timestamp queries available per frame. Each profiling group uses two.
	MaxTimestampQueries int `toml:"max_timestamp_queries"`
	// 0 waits forever.
	FenceTimeoutMS int64 `toml:"fence_timeout_ms"`
}

type ProfilingConfig struct {
	Enabled bool `toml:"enabled"`
}

// SimConfig drives the simulated device used by the headless soak driver.
type SimConfig struct {
	Images            int     `toml:"images"`
	LatencyUS         int64   `toml:"latency_us"`
	TimestampPeriodNS float64 `toml:"timestamp_period_ns"`
	Frames            int     `toml:"frames"`
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Frame: FrameConfig{
			MaxConcurrentSubmits: DefaultMaxConcurrentSubmits,
			MaxTimestampQueries:  DefaultMaxTimestampQueries,
		},
		Profiling: ProfilingConfig{Enabled: true},
		Sim: SimConfig{
			Images:            3,
			LatencyUS:         2000,
			TimestampPeriodNS: 1,
		},
	}
}

// FenceTimeout returns the configured fence wait bound, 0 meaning unbounded.
func (c FrameConfig) FenceTimeout() time.Duration {
	return time.Duration(c.FenceTimeoutMS) * time.Millisecond
}

// Validate clamps every numeric setting into its supported range and fills
// unset values with defaults.
func (c *Config) Validate() {
	if c.Frame.MaxConcurrentSubmits == 0 {
		c.Frame.MaxConcurrentSubmits = DefaultMaxConcurrentSubmits
	}
	if c.Frame.MaxTimestampQueries == 0 {
		c.Frame.MaxTimestampQueries = DefaultMaxTimestampQueries
	}
	c.Frame.MaxConcurrentSubmits = math.Clamp(c.Frame.MaxConcurrentSubmits, 1, maxConcurrentSubmitsLimit)
	c.Frame.MaxTimestampQueries = math.Clamp(c.Frame.MaxTimestampQueries, 2, maxTimestampQueriesLimit)
	c.Frame.FenceTimeoutMS = math.Clamp(c.Frame.FenceTimeoutMS, 0, int64(time.Hour/time.Millisecond))

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	c.Sim.Images = math.Clamp(c.Sim.Images, 1, 8)
	c.Sim.LatencyUS = math.Clamp(c.Sim.LatencyUS, 0, int64(time.Second/time.Microsecond))
	if c.Sim.TimestampPeriodNS <= 0 {
		c.Sim.TimestampPeriodNS = 1
	}
	c.Sim.Frames = math.Clamp(c.Sim.Frames, 0, 1<<30)
}

// Parse decodes a TOML document on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Validate()
	return cfg, nil
}

// Load reads and parses the TOML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		core.LogError("config %s: %s", path, err)
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as TOML to path.
func Save(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
