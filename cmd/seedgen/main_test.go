package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/resonator-bridge/internal/rhythm"
	"github.com/book-expert/resonator-bridge/internal/wav"
)

func TestFormatPattern(t *testing.T) {
	t.Parallel()

	pattern := rhythm.Bjorklund(5, 13)
	assert.Equal(t, "x..x.x..x.x..", formatPattern(pattern))
}

func TestEncoderForKnownFormats(t *testing.T) {
	t.Parallel()

	buffer := rhythm.SynthesizeSeed(rhythm.SeedConfig{
		SampleRate:     48000,
		DurationSec:    0.1,
		Pulses:         2,
		Steps:          4,
		NoiseTailMs:    5,
		NoiseAmplitude: 0.01,
		Seed:           1,
	})

	floatEncode, err := encoderFor(formatFloat32)
	require.NoError(t, err)

	decoded, err := wav.Decode(floatEncode(buffer))
	require.NoError(t, err)
	assert.Len(t, decoded.Samples, len(buffer.Samples))

	pcmEncode, err := encoderFor(formatPCM16)
	require.NoError(t, err)

	decoded, err = wav.Decode(pcmEncode(buffer))
	require.NoError(t, err)
	assert.Len(t, decoded.Samples, len(buffer.Samples))
}

func TestEncoderForRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := encoderFor("mp3")
	require.Error(t, err)
}
