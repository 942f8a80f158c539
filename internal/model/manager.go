// Package model manages the lifecycle of the external generative model: load
// attempts, device resolution, processing delegation and the passthrough
// degradation path when no model is available.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/resonator-bridge/internal/core"
)

// seedModulus bounds clock-derived seeds to the 32-bit range the runner
// accepts.
const seedModulus = int64(1) << 32

const (
	logFmtModelLoaded     = "Model loaded: type=%s device=%s path=%s"
	logFmtLoadFailed      = "Model load failed, staying in passthrough mode: %v"
	logFmtInferenceFailed = "Inference failed, passing input through unchanged: %v"
	logFmtNoOpRequest     = "Denoise strength resolved to zero steps, passing input through"
	logFmtUnloadedRequest = "No model loaded, passing input through"
	logFmtSeedFromClock   = "Seed not set, derived %d from the clock"
)

const (
	keywordModelTurbo = "turbo"
	keywordModelSFT   = "sft"
)

// ErrModelPathEmpty indicates a load attempt without a checkpoint path.
var ErrModelPathEmpty = errors.New("model path cannot be empty")

// Manager owns the model state machine. All methods are safe for concurrent
// use; at most one engine inference is in flight at any time.
type Manager struct {
	engine core.InferenceEngine
	prober core.DeviceProber
	policy DevicePolicy
	log    *logger.Logger

	// stateMu guards every field below it. inferMu serializes engine
	// delegation and is never held together with stateMu, so state snapshots
	// stay responsive during long inferences. loadMu makes load attempts
	// mutually exclusive.
	stateMu sync.Mutex
	loadMu  sync.Mutex
	inferMu sync.Mutex

	status         core.ModelStatus
	device         core.Device
	modelType      core.ModelType
	modelPath      string
	loadError      string
	inferenceCount uint64
}

// NewManager creates a manager in the unloaded state. The engine and prober
// are typically the same runner client; the prober may be nil, in which case
// automatic device resolution only ever yields the CPU.
func NewManager(
	inferenceEngine core.InferenceEngine,
	prober core.DeviceProber,
	policy DevicePolicy,
	log *logger.Logger,
) *Manager {
	return &Manager{
		engine: inferenceEngine,
		prober: prober,
		policy: policy,
		log:    log,

		status:    core.StatusUnloaded,
		device:    core.DeviceNone,
		modelType: core.ModelTypeUnknown,
	}
}

// Load attempts to bring the model online. It resolves the requested device
// against the device policy, verifies the runner is reachable and records the
// outcome. A failed load leaves the bridge in passthrough mode and is
// reported, not fatal; calling Load again is the reload path and resets the
// inference count.
func (m *Manager) Load(ctx context.Context, modelPath string, requested core.Device) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if modelPath == "" {
		m.recordLoadFailure("", core.ModelTypeUnknown, ErrModelPathEmpty)

		return ErrModelPathEmpty
	}

	// The type is recorded even when the load fails, so diagnostics name the
	// checkpoint that refused to come up.
	modelType := detectModelType(modelPath)

	device := resolveDevice(ctx, requested, m.policy, m.prober, m.log)

	healthErr := m.engine.HealthCheck(ctx)
	if healthErr != nil {
		loadErr := fmt.Errorf("model runner unavailable: %w", healthErr)
		m.recordLoadFailure(modelPath, modelType, loadErr)

		return loadErr
	}

	m.stateMu.Lock()
	m.status = core.StatusLoaded
	m.device = device
	m.modelType = modelType
	m.modelPath = modelPath
	m.loadError = ""
	m.inferenceCount = 0
	m.stateMu.Unlock()

	m.log.Info(logFmtModelLoaded, modelType, device, modelPath)

	return nil
}

// Process runs one request through the manager. It never returns an error:
// every failure mode degrades to passing the input buffer through unchanged,
// with the reason recorded in the result. The inference count moves only when
// the engine actually generated audio.
func (m *Manager) Process(
	ctx context.Context,
	audio *core.AudioBuffer,
	parameters core.GenerationParams,
) core.ProcessResult {
	if !m.Snapshot().Loaded() {
		m.log.Info(logFmtUnloadedRequest)

		return core.ProcessResult{Audio: audio, Outcome: core.OutcomePassthroughUnloaded}
	}

	if parameters.EffectiveSteps <= 0 {
		m.log.Info(logFmtNoOpRequest)

		return core.ProcessResult{Audio: audio, Outcome: core.OutcomePassthroughNoOp}
	}

	if parameters.Seed < 0 {
		parameters.Seed = time.Now().UnixMilli() % seedModulus
		m.log.Info(logFmtSeedFromClock, parameters.Seed)
	}

	m.inferMu.Lock()
	generated, inferErr := m.engine.Infer(ctx, audio, parameters)
	m.inferMu.Unlock()

	if inferErr != nil {
		m.log.Warn(logFmtInferenceFailed, inferErr)

		return core.ProcessResult{
			Audio:   audio,
			Outcome: core.OutcomePassthroughEngineError,
			Err:     inferErr,
		}
	}

	m.stateMu.Lock()
	m.inferenceCount++
	m.stateMu.Unlock()

	return core.ProcessResult{Audio: generated, Outcome: core.OutcomeGenerated}
}

// Snapshot returns a consistent copy of the current model state.
func (m *Manager) Snapshot() core.ModelState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	return core.ModelState{
		Status:         m.status,
		ModelType:      m.modelType,
		Device:         m.device,
		ModelPath:      m.modelPath,
		LoadError:      m.loadError,
		InferenceCount: m.inferenceCount,
	}
}

func (m *Manager) recordLoadFailure(modelPath string, modelType core.ModelType, loadErr error) {
	m.stateMu.Lock()
	m.status = core.StatusError
	m.device = core.DeviceNone
	m.modelType = modelType
	m.modelPath = modelPath
	m.loadError = loadErr.Error()
	m.stateMu.Unlock()

	m.log.Error(logFmtLoadFailed, loadErr)
}

// detectModelType classifies a checkpoint by keywords in its path, defaulting
// to the base variant.
func detectModelType(modelPath string) core.ModelType {
	lowered := strings.ToLower(modelPath)

	switch {
	case strings.Contains(lowered, keywordModelTurbo):
		return core.ModelTypeTurbo
	case strings.Contains(lowered, keywordModelSFT):
		return core.ModelTypeSFT
	default:
		return core.ModelTypeBase
	}
}
