// Package params_test tests the control-to-engine parameter mapping.
package params_test

import (
	"testing"

	"github.com/book-expert/resonator-bridge/internal/params"
	"github.com/stretchr/testify/assert"
)

func TestGuidanceIntervalFromShift(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		shift float64
		want  float64
	}{
		{name: "lower bound", shift: 1.0, want: 0.1},
		{name: "upper bound", shift: 10.0, want: 0.9},
		{name: "midpoint", shift: 5.5, want: 0.5},
		{name: "clamped below", shift: -3.0, want: 0.1},
		{name: "clamped above", shift: 42.0, want: 0.9},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := params.GuidanceIntervalFromShift(testCase.shift)
			assert.InDelta(t, testCase.want, got, 1e-9)
		})
	}
}

func TestOmegaFromEntropy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		entropy float64
		want    float64
	}{
		{name: "zero entropy", entropy: 0.0, want: 1.0},
		{name: "full entropy", entropy: 1.0, want: 20.0},
		{name: "default entropy", entropy: 0.25, want: 5.75},
		{name: "clamped below", entropy: -0.5, want: 1.0},
		{name: "clamped above", entropy: 1.5, want: 20.0},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := params.OmegaFromEntropy(testCase.entropy)
			assert.InDelta(t, testCase.want, got, 1e-9)
		})
	}
}

func TestDecayFromGranularity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.45, params.DecayFromGranularity(0.45), 1e-9)
	assert.InDelta(t, 0.0, params.DecayFromGranularity(-0.1), 1e-9)
	assert.InDelta(t, 1.0, params.DecayFromGranularity(1.5), 1e-9)
}

func TestRetakeVarianceFromMethod(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, params.RetakeVarianceFromMethod(params.MethodSDE), 1e-9)
	assert.InDelta(t, 0.0, params.RetakeVarianceFromMethod(params.MethodODE), 1e-9)
	assert.InDelta(t, 0.0, params.RetakeVarianceFromMethod(""), 1e-9)
	// Method matching is case sensitive.
	assert.InDelta(t, 0.0, params.RetakeVarianceFromMethod("SDE"), 1e-9)
}

func TestEffectiveSteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		numSteps int
		denoise  float64
		want     int
	}{
		{name: "full strength keeps all steps", numSteps: 20, denoise: 1.0, want: 20},
		{name: "zero strength is a no-op", numSteps: 20, denoise: 0.0, want: 0},
		{name: "half strength halves steps", numSteps: 20, denoise: 0.5, want: 10},
		{name: "tiny strength keeps one step", numSteps: 20, denoise: 0.01, want: 1},
		{name: "rounds to nearest", numSteps: 20, denoise: 0.44, want: 9},
		{name: "strength clamped to one", numSteps: 20, denoise: 3.0, want: 20},
		{name: "negative strength is a no-op", numSteps: 20, denoise: -1.0, want: 0},
		{name: "zero steps still yields one", numSteps: 0, denoise: 1.0, want: 1},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := params.EffectiveSteps(testCase.numSteps, testCase.denoise)
			assert.Equal(t, testCase.want, got)
		})
	}
}

func TestMinGuidanceScale(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 3.0, params.MinGuidanceScale(15.0), 1e-9)
	assert.InDelta(t, 1.0, params.MinGuidanceScale(2.0), 1e-9)
	assert.InDelta(t, 1.0, params.MinGuidanceScale(0.0), 1e-9)
	assert.InDelta(t, 2.0, params.MinGuidanceScale(10.0), 1e-9)
}

func TestMapAggregatesAllControls(t *testing.T) {
	t.Parallel()

	controls := params.Controls{
		Prompt:          "resonant metallic drone",
		GuidanceScale:   15.0,
		NumSteps:        20,
		Seed:            1234,
		InputStrength:   0.6,
		Shift:           5.5,
		InferMethod:     params.MethodSDE,
		Entropy:         0.25,
		Granularity:     0.45,
		AudioDuration:   10.0,
		DenoiseStrength: 0.5,
	}

	mapped := params.Map(controls)

	assert.Equal(t, "resonant metallic drone", mapped.Prompt)
	assert.Equal(t, params.InstrumentalLyrics, mapped.Lyrics)
	assert.InDelta(t, 10.0, mapped.AudioDuration, 1e-9)
	assert.Equal(t, 10, mapped.EffectiveSteps)
	assert.InDelta(t, 15.0, mapped.GuidanceScale, 1e-9)
	assert.InDelta(t, 3.0, mapped.MinGuidanceScale, 1e-9)
	assert.InDelta(t, 0.5, mapped.GuidanceInterval, 1e-9)
	assert.InDelta(t, 0.45, mapped.GuidanceIntervalDecay, 1e-9)
	assert.InDelta(t, 5.75, mapped.OmegaScale, 1e-9)
	assert.InDelta(t, 0.5, mapped.RetakeVariance, 1e-9)
	assert.InDelta(t, 0.6, mapped.InputStrength, 1e-9)
	assert.Equal(t, params.SchedulerEuler, mapped.Scheduler)
	assert.Equal(t, params.CFGTypeAPG, mapped.CFGType)
	assert.True(t, mapped.UseERGTag)
	assert.True(t, mapped.UseERGLyric)
	assert.True(t, mapped.UseERGDiffusion)
	assert.Equal(t, int64(1234), mapped.Seed)
}
