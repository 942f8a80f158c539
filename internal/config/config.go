// Package config provides the configuration structure for the resonator
// bridge.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Fallback values applied to fields the TOML file omits. They match the
// defaults the bridge has always shipped with.
const (
	DefaultHost       = "127.0.0.1"
	DefaultPort       = 8976
	DefaultSampleRate = 48000
	DefaultBufferSize = 48000

	defaultDevice         = "cpu"
	defaultTimeoutSeconds = 300

	defaultGuidanceScale   = 15.0
	defaultNumSteps        = 20
	defaultSeed            = -1
	defaultInputStrength   = 0.6
	defaultShift           = 5.0
	defaultInferMethod     = "ode"
	defaultEntropy         = 0.25
	defaultGranularity     = 0.45
	defaultAudioDuration   = 10.0
	defaultDenoiseStrength = 1.0
)

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ModelConfig holds the checkpoint, device policy and runner configuration.
type ModelConfig struct {
	// Path points at the checkpoint directory or repo ID. Empty keeps the
	// bridge in passthrough mode.
	Path string `toml:"path"`

	// Device is the requested compute device: cpu, mps, cuda or auto.
	Device string `toml:"device"`

	// AllowedDevices restricts which devices resolution may pick. Empty
	// allows everything the policy's safety gates permit.
	AllowedDevices []string `toml:"allowed_devices"`

	// AllowUnsafeMPS opts into the Metal backend despite its known
	// instability with this model family.
	AllowUnsafeMPS bool `toml:"allow_unsafe_mps"`

	RunnerURL      string `toml:"runner_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// AudioConfig holds the bridge's audio constants.
type AudioConfig struct {
	SampleRate int `toml:"sample_rate"`
	BufferSize int `toml:"buffer_size"`
}

// DefaultsConfig holds the generation defaults applied to requests that omit
// a field.
type DefaultsConfig struct {
	Prompt          string  `toml:"prompt"`
	GuidanceScale   float64 `toml:"guidance_scale"`
	NumSteps        int     `toml:"num_steps"`
	Seed            int64   `toml:"seed"`
	InputStrength   float64 `toml:"input_strength"`
	Shift           float64 `toml:"shift"`
	InferMethod     string  `toml:"infer_method"`
	Entropy         float64 `toml:"entropy"`
	Granularity     float64 `toml:"granularity"`
	AudioDuration   float64 `toml:"audio_duration"`
	DenoiseStrength float64 `toml:"denoise_strength"`
}

// NATSConfig holds the optional job transport configuration. An empty URL
// disables the NATS worker entirely.
type NATSConfig struct {
	URL                    string `toml:"url"`
	InferSubject           string `toml:"infer_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// PathsConfig holds the file path configuration.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// SentryConfig holds the optional crash reporting configuration. An empty DSN
// disables reporting.
type SentryConfig struct {
	DSN         string `toml:"dsn"`
	Environment string `toml:"environment"`
}

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Model    ModelConfig    `toml:"model"`
	Audio    AudioConfig    `toml:"audio"`
	Defaults DefaultsConfig `toml:"defaults"`
	NATS     NATSConfig     `toml:"nats"`
	Paths    PathsConfig    `toml:"paths"`
	Sentry   SentryConfig   `toml:"sentry"`
}

// Load loads the configuration for the resonator bridge. Fields absent from
// the TOML file keep the shipped defaults.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	err := configurator.Load(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration the bridge runs with when nothing is
// overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Model: ModelConfig{
			Path:           "",
			Device:         defaultDevice,
			AllowedDevices: nil,
			AllowUnsafeMPS: false,
			RunnerURL:      "",
			TimeoutSeconds: defaultTimeoutSeconds,
		},
		Audio: AudioConfig{
			SampleRate: DefaultSampleRate,
			BufferSize: DefaultBufferSize,
		},
		Defaults: DefaultsConfig{
			Prompt:          "",
			GuidanceScale:   defaultGuidanceScale,
			NumSteps:        defaultNumSteps,
			Seed:            defaultSeed,
			InputStrength:   defaultInputStrength,
			Shift:           defaultShift,
			InferMethod:     defaultInferMethod,
			Entropy:         defaultEntropy,
			Granularity:     defaultGranularity,
			AudioDuration:   defaultAudioDuration,
			DenoiseStrength: defaultDenoiseStrength,
		},
		NATS:   NATSConfig{URL: "", InferSubject: "", AudioObjectStoreBucket: ""},
		Paths:  PathsConfig{BaseLogsDir: ""},
		Sentry: SentryConfig{DSN: "", Environment: ""},
	}
}
