// Package rhythm generates Euclidean pulse patterns and synthesizes seed
// audio buffers from them.
package rhythm

import (
	"math/rand"
	"time"

	"github.com/book-expert/resonator-bridge/internal/core"
)

const millisecondsPerSecond = 1000.0

// Bjorklund distributes pulses as evenly as possible across steps and returns
// the resulting pattern, true marking a pulse. Zero or negative pulse counts
// yield an all-rest pattern; pulse counts at or above the step count fill
// every step.
func Bjorklund(pulses, steps int) []bool {
	if steps <= 0 {
		return nil
	}

	if pulses <= 0 {
		return make([]bool, steps)
	}

	if pulses >= steps {
		pattern := make([]bool, steps)
		for i := range pattern {
			pattern[i] = true
		}

		return pattern
	}

	groups := make([][]bool, pulses)
	for i := range groups {
		groups[i] = []bool{true}
	}

	remainder := make([][]bool, steps-pulses)
	for i := range remainder {
		remainder[i] = []bool{false}
	}

	// Repeatedly fold the remainder groups into the pulse groups until at
	// most one remainder group is left, then flatten.
	for len(remainder) > 1 {
		take := min(len(groups), len(remainder))

		merged := make([][]bool, take)
		for i := range take {
			merged[i] = append(append([]bool{}, groups[i]...), remainder[i]...)
		}

		if len(groups) > take {
			remainder = groups[take:]
		} else {
			remainder = remainder[take:]
		}

		groups = merged
	}

	pattern := make([]bool, 0, steps)
	for _, group := range groups {
		pattern = append(pattern, group...)
	}

	for _, group := range remainder {
		pattern = append(pattern, group...)
	}

	return pattern
}

// SeedConfig describes a seed buffer to synthesize.
type SeedConfig struct {
	SampleRate     int
	DurationSec    float64
	Pulses         int
	Steps          int
	NoiseTailMs    float64
	NoiseAmplitude float64

	// Seed below zero draws a fresh noise sequence from the clock; any other
	// value makes the output deterministic.
	Seed int64
}

// SynthesizeSeed renders the Euclidean pattern into a mono buffer: a unit
// impulse at the start of every pulse step, each followed by a Gaussian noise
// tail scaled by the configured amplitude. Tails are clipped at the buffer
// end, never wrapped.
func SynthesizeSeed(cfg SeedConfig) *core.AudioBuffer {
	total := int(cfg.DurationSec * float64(cfg.SampleRate))
	if total < 0 {
		total = 0
	}

	samples := make([]float32, total)
	buffer := &core.AudioBuffer{Samples: samples, SampleRate: cfg.SampleRate}

	if total == 0 || cfg.Steps <= 0 {
		return buffer
	}

	rngSeed := cfg.Seed
	if rngSeed < 0 {
		rngSeed = time.Now().UnixNano()
	}

	rng := rand.New(rand.NewSource(rngSeed))

	samplesPerStep := total / cfg.Steps
	tailLength := int(cfg.NoiseTailMs / millisecondsPerSecond * float64(cfg.SampleRate))

	for stepIndex, pulse := range Bjorklund(cfg.Pulses, cfg.Steps) {
		if !pulse {
			continue
		}

		position := stepIndex * samplesPerStep
		if position >= total {
			break
		}

		samples[position] = 1.0

		tailEnd := position + 1 + tailLength
		if tailEnd > total {
			tailEnd = total
		}

		for i := position + 1; i < tailEnd; i++ {
			samples[i] = float32(rng.NormFloat64() * cfg.NoiseAmplitude)
		}
	}

	return buffer
}
