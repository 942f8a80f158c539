package core

import "time"

// Device identifies a compute device the model may run on.
type Device string

// Devices understood by the bridge. DeviceNone is reported while no model is
// loaded; DeviceAuto is only ever a request, never a resolved state.
const (
	DeviceCPU  Device = "cpu"
	DeviceMPS  Device = "mps"
	DeviceCUDA Device = "cuda"
	DeviceAuto Device = "auto"
	DeviceNone Device = "none"
)

// ModelType classifies a model checkpoint by its training variant.
type ModelType string

// Model variants, detected from the checkpoint path. Unknown is reported
// before any load attempt has inspected a path.
const (
	ModelTypeBase    ModelType = "base"
	ModelTypeTurbo   ModelType = "turbo"
	ModelTypeSFT     ModelType = "sft"
	ModelTypeUnknown ModelType = "unknown"
)

// ModelStatus is the lifecycle state of the managed model.
type ModelStatus string

// Lifecycle states. Unloaded transitions to Loaded or Error on the first load
// attempt; Error is not terminal, a reload may recover.
const (
	StatusUnloaded ModelStatus = "unloaded"
	StatusLoaded   ModelStatus = "loaded"
	StatusError    ModelStatus = "error"
)

// Outcome describes how a processing request was resolved.
type Outcome string

// Processing outcomes. Every passthrough outcome returns the input unchanged.
const (
	OutcomeGenerated              Outcome = "generated"
	OutcomePassthroughUnloaded    Outcome = "passthrough_unloaded"
	OutcomePassthroughNoOp        Outcome = "passthrough_noop"
	OutcomePassthroughEngineError Outcome = "passthrough_engine_error"
)

// AudioBuffer is a mono audio signal with its sample rate.
type AudioBuffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the play time of the buffer.
func (b *AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}

	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// DurationMs returns the play time of the buffer in milliseconds.
func (b *AudioBuffer) DurationMs() float64 {
	if b.SampleRate <= 0 {
		return 0
	}

	return float64(len(b.Samples)) / float64(b.SampleRate) * 1000.0
}

// GenerationParams is the fully mapped parameter set handed to the inference
// engine. The JSON tags define the runner wire format.
type GenerationParams struct {
	Prompt        string  `json:"prompt"`
	Lyrics        string  `json:"lyrics"`
	AudioDuration float64 `json:"audio_duration"`

	// EffectiveSteps is the denoise-scaled step count. Zero means the request
	// resolved to a no-op and must not reach the engine.
	EffectiveSteps int `json:"infer_step"`

	GuidanceScale         float64 `json:"guidance_scale"`
	MinGuidanceScale      float64 `json:"min_guidance_scale"`
	GuidanceInterval      float64 `json:"guidance_interval"`
	GuidanceIntervalDecay float64 `json:"guidance_interval_decay"`
	OmegaScale            float64 `json:"omega_scale"`
	RetakeVariance        float64 `json:"retake_variance"`
	InputStrength         float64 `json:"ref_audio_strength"`

	Scheduler string `json:"scheduler_type"`
	CFGType   string `json:"cfg_type"`

	UseERGTag       bool `json:"use_erg_tag"`
	UseERGLyric     bool `json:"use_erg_lyric"`
	UseERGDiffusion bool `json:"use_erg_diffusion"`

	// Seed below zero means "derive from the clock at delegation time".
	Seed int64 `json:"seed"`
}

// ProcessResult is the explicit outcome of one processing request. Audio is
// never nil: on any passthrough outcome it is the input buffer itself.
type ProcessResult struct {
	Audio   *AudioBuffer
	Outcome Outcome

	// Err holds the engine failure behind OutcomePassthroughEngineError and is
	// nil for every other outcome.
	Err error
}

// Generated reports whether the engine actually transformed the audio.
func (r ProcessResult) Generated() bool {
	return r.Outcome == OutcomeGenerated
}

// ModelState is a read-only snapshot of the model manager, safe to serialize
// into health and status responses.
type ModelState struct {
	Status         ModelStatus
	ModelType      ModelType
	Device         Device
	ModelPath      string
	LoadError      string
	InferenceCount uint64
}

// Loaded reports whether the model is ready to serve inference.
func (s ModelState) Loaded() bool {
	return s.Status == StatusLoaded
}
