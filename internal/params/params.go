// Package params maps the bridge's user-facing generation controls onto the
// parameter set the inference engine understands. Every function here is pure;
// out-of-range inputs saturate at the documented bounds instead of failing.
package params

import (
	"math"

	"github.com/book-expert/resonator-bridge/internal/core"
)

// Inference methods selectable through the controls.
const (
	MethodODE = "ode"
	MethodSDE = "sde"
)

// Fixed engine settings that the controls do not expose.
const (
	SchedulerEuler     = "euler"
	CFGTypeAPG         = "apg"
	InstrumentalLyrics = "[inst]"
)

const (
	shiftMin    = 1.0
	shiftMax    = 10.0
	intervalMin = 0.1
	intervalMax = 0.9

	entropyMin = 0.0
	entropyMax = 1.0
	omegaMin   = 1.0
	omegaMax   = 20.0

	decayMin = 0.0
	decayMax = 1.0

	denoiseMin = 0.0
	denoiseMax = 1.0

	retakeVarianceSDE = 0.5
	retakeVarianceODE = 0.0

	minGuidanceFloor    = 1.0
	minGuidanceFraction = 0.2
)

// Controls are the user-facing generation knobs accepted by the bridge.
type Controls struct {
	Prompt          string
	GuidanceScale   float64
	NumSteps        int
	Seed            int64
	InputStrength   float64
	Shift           float64
	InferMethod     string
	Entropy         float64
	Granularity     float64
	AudioDuration   float64
	DenoiseStrength float64
}

// Map converts the controls into the full engine parameter set.
func Map(controls Controls) core.GenerationParams {
	return core.GenerationParams{
		Prompt:                controls.Prompt,
		Lyrics:                InstrumentalLyrics,
		AudioDuration:         controls.AudioDuration,
		EffectiveSteps:        EffectiveSteps(controls.NumSteps, controls.DenoiseStrength),
		GuidanceScale:         controls.GuidanceScale,
		MinGuidanceScale:      MinGuidanceScale(controls.GuidanceScale),
		GuidanceInterval:      GuidanceIntervalFromShift(controls.Shift),
		GuidanceIntervalDecay: DecayFromGranularity(controls.Granularity),
		OmegaScale:            OmegaFromEntropy(controls.Entropy),
		RetakeVariance:        RetakeVarianceFromMethod(controls.InferMethod),
		InputStrength:         controls.InputStrength,
		Scheduler:             SchedulerEuler,
		CFGType:               CFGTypeAPG,
		UseERGTag:             true,
		UseERGLyric:           true,
		UseERGDiffusion:       true,
		Seed:                  controls.Seed,
	}
}

// GuidanceIntervalFromShift maps shift in [1, 10] linearly onto the guidance
// interval range [0.1, 0.9].
func GuidanceIntervalFromShift(shift float64) float64 {
	shift = clamp(shift, shiftMin, shiftMax)

	return intervalMin + (shift-shiftMin)/(shiftMax-shiftMin)*(intervalMax-intervalMin)
}

// OmegaFromEntropy maps entropy in [0, 1] linearly onto the omega scale range
// [1, 20].
func OmegaFromEntropy(entropy float64) float64 {
	entropy = clamp(entropy, entropyMin, entropyMax)

	return omegaMin + entropy*(omegaMax-omegaMin)
}

// DecayFromGranularity passes granularity through as the guidance interval
// decay, clamped to [0, 1].
func DecayFromGranularity(granularity float64) float64 {
	return clamp(granularity, decayMin, decayMax)
}

// RetakeVarianceFromMethod selects the retake variance for the inference
// method: the stochastic method gets 0.5, everything else 0.
func RetakeVarianceFromMethod(method string) float64 {
	if method == MethodSDE {
		return retakeVarianceSDE
	}

	return retakeVarianceODE
}

// EffectiveSteps scales the step count by the denoise strength. A strength of
// zero returns zero, which marks the request as a no-op that must bypass the
// engine; any positive strength yields at least one step.
func EffectiveSteps(numSteps int, denoiseStrength float64) int {
	denoiseStrength = clamp(denoiseStrength, denoiseMin, denoiseMax)
	if denoiseStrength == 0 {
		return 0
	}

	scaled := int(math.Round(float64(numSteps) * denoiseStrength))
	if scaled < 1 {
		return 1
	}

	return scaled
}

// MinGuidanceScale derives the minimum guidance scale as one fifth of the
// guidance scale, floored at 1.0.
func MinGuidanceScale(guidanceScale float64) float64 {
	return math.Max(minGuidanceFloor, guidanceScale*minGuidanceFraction)
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}

	if value > high {
		return high
	}

	return value
}
