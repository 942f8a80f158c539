// Package config_test tests the configuration loading for the resonator
// bridge.
package config_test

import (
	"testing"

	"github.com/book-expert/resonator-bridge/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalFullConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[server]
host = "0.0.0.0"
port = 9100

[model]
path = "/models/ace-step-turbo"
device = "auto"
allowed_devices = ["cpu", "cuda"]
allow_unsafe_mps = false
runner_url = "http://127.0.0.1:8190"
timeout_seconds = 120

[audio]
sample_rate = 48000
buffer_size = 48000

[defaults]
prompt = "tape hiss and bowed metal"
guidance_scale = 12.5
num_steps = 30
seed = 7
input_strength = 0.5
shift = 4.0
infer_method = "sde"
entropy = 0.3
granularity = 0.5
audio_duration = 8.0
denoise_strength = 0.9

[nats]
url = "nats://127.0.0.1:4222"
infer_subject = "resonator.infer"
audio_object_store_bucket = "RESONATOR_AUDIO"

[paths]
base_logs_dir = "/var/log/resonator-bridge"

[sentry]
dsn = "https://key@sentry.example/1"
environment = "dev"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/models/ace-step-turbo", cfg.Model.Path)
	assert.Equal(t, "auto", cfg.Model.Device)
	assert.Equal(t, []string{"cpu", "cuda"}, cfg.Model.AllowedDevices)
	assert.False(t, cfg.Model.AllowUnsafeMPS)
	assert.Equal(t, "http://127.0.0.1:8190", cfg.Model.RunnerURL)
	assert.Equal(t, 120, cfg.Model.TimeoutSeconds)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 48000, cfg.Audio.BufferSize)
	assert.Equal(t, "tape hiss and bowed metal", cfg.Defaults.Prompt)
	assert.InEpsilon(t, 12.5, cfg.Defaults.GuidanceScale, 0.001)
	assert.Equal(t, 30, cfg.Defaults.NumSteps)
	assert.Equal(t, int64(7), cfg.Defaults.Seed)
	assert.InEpsilon(t, 0.5, cfg.Defaults.InputStrength, 0.001)
	assert.InEpsilon(t, 4.0, cfg.Defaults.Shift, 0.001)
	assert.Equal(t, "sde", cfg.Defaults.InferMethod)
	assert.InEpsilon(t, 0.3, cfg.Defaults.Entropy, 0.001)
	assert.InEpsilon(t, 0.5, cfg.Defaults.Granularity, 0.001)
	assert.InEpsilon(t, 8.0, cfg.Defaults.AudioDuration, 0.001)
	assert.InEpsilon(t, 0.9, cfg.Defaults.DenoiseStrength, 0.001)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "resonator.infer", cfg.NATS.InferSubject)
	assert.Equal(t, "RESONATOR_AUDIO", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "/var/log/resonator-bridge", cfg.Paths.BaseLogsDir)
	assert.Equal(t, "https://key@sentry.example/1", cfg.Sentry.DSN)
	assert.Equal(t, "dev", cfg.Sentry.Environment)
}

func TestDefaultsSurviveSparseConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[model]
path = "/models/checkpoint"

[paths]
base_logs_dir = "/tmp/logs"
`

	cfg := config.Default()

	err := toml.Unmarshal([]byte(tomlData), cfg)
	require.NoError(t, err)

	assert.Equal(t, "/models/checkpoint", cfg.Model.Path)
	assert.Equal(t, config.DefaultHost, cfg.Server.Host)
	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, config.DefaultSampleRate, cfg.Audio.SampleRate)
	assert.Equal(t, "cpu", cfg.Model.Device)
	assert.InEpsilon(t, 15.0, cfg.Defaults.GuidanceScale, 0.001)
	assert.Equal(t, 20, cfg.Defaults.NumSteps)
	assert.Equal(t, int64(-1), cfg.Defaults.Seed)
	assert.Equal(t, "ode", cfg.Defaults.InferMethod)
	assert.InEpsilon(t, 1.0, cfg.Defaults.DenoiseStrength, 0.001)
}

func TestDefaultMatchesShippedValues(t *testing.T) {
	t.Parallel()

	cfg := config.Default()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8976, cfg.Server.Port)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 48000, cfg.Audio.BufferSize)
	assert.InEpsilon(t, 0.6, cfg.Defaults.InputStrength, 0.001)
	assert.InEpsilon(t, 5.0, cfg.Defaults.Shift, 0.001)
	assert.InEpsilon(t, 0.25, cfg.Defaults.Entropy, 0.001)
	assert.InEpsilon(t, 0.45, cfg.Defaults.Granularity, 0.001)
	assert.InEpsilon(t, 10.0, cfg.Defaults.AudioDuration, 0.001)
	assert.Empty(t, cfg.NATS.URL, "worker transport is off by default")
	assert.Empty(t, cfg.Sentry.DSN, "crash reporting is off by default")
}
