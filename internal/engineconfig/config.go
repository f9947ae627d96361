// Package engineconfig loads the tunables that govern the change-detection
// and dispatch engine from a YAML document.
package engineconfig

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig enumerates every tunable named in the configuration surface.
// Unknown YAML keys are ignored (with a warning); missing fields fall back
// to Default().
type EngineConfig struct {
	SampleInterval      float64 `yaml:"sample_interval"`
	ChangeThreshold     float64 `yaml:"change_threshold"`
	MinChangeInterval   float64 `yaml:"min_change_interval"`
	MaxGap              float64 `yaml:"max_gap"`
	EarlyExitSimilarity float64 `yaml:"early_exit_similarity"`
	Alpha               float64 `yaml:"alpha"`
	BlurKernel          int     `yaml:"blur_kernel"`

	KeyframeMaxWidth int     `yaml:"keyframe_max_width"`
	JPEGQuality      float64 `yaml:"jpeg_quality"`
	JPEGQualityLive  float64 `yaml:"jpeg_quality_live"`

	WindowDuration      float64 `yaml:"window_duration"`
	FirstWindowDuration float64 `yaml:"first_window_duration"`

	DispatchBatchSize int `yaml:"dispatch_batch_size"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	RateLimitPerHour   int `yaml:"rate_limit_per_hour"`

	SinkQueueDepth int `yaml:"sink_queue_depth"`
	DedupCacheSize int `yaml:"dedup_cache_size"`
}

// Default returns the numbers spelled out in the configuration section of
// the spec. Every loader starts here so a YAML file only needs to override
// what it cares about.
func Default() EngineConfig {
	return EngineConfig{
		SampleInterval:      0.3,
		ChangeThreshold:     0.10,
		MinChangeInterval:   0.5,
		MaxGap:              10.0,
		EarlyExitSimilarity: 0.95,
		Alpha:               0.4,
		BlurKernel:          5,

		KeyframeMaxWidth: 512,
		JPEGQuality:      0.6,
		JPEGQualityLive:  0.8,

		WindowDuration:      6.0,
		FirstWindowDuration: 2.0,

		DispatchBatchSize: 5,

		RateLimitPerMinute: 30,
		RateLimitPerHour:   500,

		SinkQueueDepth: 16,
		DedupCacheSize: 4096,
	}
}

// Load reads a YAML file, applying it on top of Default(). A missing file
// is not an error — the caller gets the defaults.
func Load(path string) (EngineConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("engineconfig: read %s: %w", path, err)
	}

	// Decode into a generic map first so unrecognized keys can be warned
	// about without failing the load — same "unknown fields ignored with a
	// warning" contract as the Policy surface.
	var raw_ map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &raw_); err != nil {
		return cfg, fmt.Errorf("engineconfig: parse %s: %w", path, err)
	}
	for k := range raw_ {
		if !knownKeys[k] {
			log.Printf("[CONFIG] warning: unrecognized key %q in %s, ignoring", k, path)
		}
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("engineconfig: decode %s: %w", path, err)
	}
	return cfg, nil
}

var knownKeys = map[string]bool{
	"sample_interval": true, "change_threshold": true, "min_change_interval": true,
	"max_gap": true, "early_exit_similarity": true, "alpha": true, "blur_kernel": true,
	"keyframe_max_width": true, "jpeg_quality": true, "jpeg_quality_live": true,
	"window_duration": true, "first_window_duration": true, "dispatch_batch_size": true,
	"rate_limit_per_minute": true, "rate_limit_per_hour": true,
	"sink_queue_depth": true, "dedup_cache_size": true,
}
