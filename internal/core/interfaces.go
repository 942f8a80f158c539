// Package core defines the shared types and interfaces for the resonator bridge.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// InferenceEngine defines the interface for an external generative model
// runner. HealthCheck is the load-time acquisition probe; Infer transforms the
// given buffer according to the mapped parameters and returns the generated
// audio, already coerced to mono float samples.
type InferenceEngine interface {
	HealthCheck(ctx context.Context) error
	Infer(ctx context.Context, audio *AudioBuffer, params GenerationParams) (*AudioBuffer, error)
}

// DeviceProber reports which compute devices the model runner can execute on.
// It backs "auto" device resolution; probing must never mutate runner state.
type DeviceProber interface {
	AvailableDevices(ctx context.Context) ([]Device, error)
}

// AudioProcessor is the slice of the model manager the request transports
// depend on: run one buffer through the model and read the current state.
type AudioProcessor interface {
	Process(ctx context.Context, audio *AudioBuffer, params GenerationParams) ProcessResult
	Snapshot() ModelState
}
