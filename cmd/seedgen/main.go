// Command seedgen synthesizes a Euclidean-rhythm seed WAV: unit impulses
// distributed by Bjorklund's algorithm, each trailed by a short burst of
// Gaussian noise.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/resonator-bridge/internal/bridgeutil"
	"github.com/book-expert/resonator-bridge/internal/core"
	"github.com/book-expert/resonator-bridge/internal/rhythm"
	"github.com/book-expert/resonator-bridge/internal/wav"
)

// Flag names.
const (
	flagOutput         = "output"
	flagDuration       = "duration"
	flagSampleRate     = "sample-rate"
	flagPulses         = "pulses"
	flagSteps          = "steps"
	flagNoiseTailMs    = "noise-tail-ms"
	flagNoiseAmplitude = "noise-amplitude"
	flagSeed           = "seed"
	flagFormat         = "format"
)

// Flag descriptions.
const (
	flagOutputDesc         = "Output file path (.wav)"
	flagDurationDesc       = "Seed duration in seconds"
	flagSampleRateDesc     = "Sample rate in Hz"
	flagPulsesDesc         = "Number of pulses to distribute"
	flagStepsDesc          = "Number of steps in the pattern"
	flagNoiseTailMsDesc    = "Noise tail length after each impulse, in milliseconds"
	flagNoiseAmplitudeDesc = "Gaussian noise amplitude for the tails"
	flagSeedDesc           = "Noise RNG seed (negative draws from the clock)"
	flagFormatDesc         = "Output sample format: float32 or pcm16"
)

// Defaults.
const (
	defaultOutput         = "seed.wav"
	defaultDuration       = 10.0
	defaultSampleRate     = 48000
	defaultPulses         = 5
	defaultSteps          = 13
	defaultNoiseTailMs    = 20.0
	defaultNoiseAmplitude = 0.01
	defaultSeed           = -1
	defaultFormat         = formatFloat32
)

// Sample formats.
const (
	formatFloat32 = "float32"
	formatPCM16   = "pcm16"
)

const outputFilePermissions = 0o600

// Messages.
const (
	errFmtUnknownFormat   = "unknown sample format %q (want %s or %s)"
	errFmtCreateOutputDir = "failed to create output directory: %w"
	errFmtWriteOutput     = "failed to write %s: %w"

	msgFmtPattern = "Pattern E(%d,%d): %s\n"
	msgFmtWritten = "Wrote %s: %s of %s audio at %d Hz (%s)\n"
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	output         string
	duration       float64
	sampleRate     int
	pulses         int
	steps          int
	noiseTailMs    float64
	noiseAmplitude float64
	seed           int64
	format         string
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	encode, err := encoderFor(flags.format)
	if err != nil {
		return err
	}

	pattern := rhythm.Bjorklund(flags.pulses, flags.steps)
	fmt.Printf(msgFmtPattern, flags.pulses, flags.steps, formatPattern(pattern))

	buffer := rhythm.SynthesizeSeed(rhythm.SeedConfig{
		SampleRate:     flags.sampleRate,
		DurationSec:    flags.duration,
		Pulses:         flags.pulses,
		Steps:          flags.steps,
		NoiseTailMs:    flags.noiseTailMs,
		NoiseAmplitude: flags.noiseAmplitude,
		Seed:           flags.seed,
	})

	return writeOutput(flags.output, encode(buffer), buffer, flags.format)
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.output, flagOutput, defaultOutput, flagOutputDesc)
	flag.Float64Var(&flags.duration, flagDuration, defaultDuration, flagDurationDesc)
	flag.IntVar(&flags.sampleRate, flagSampleRate, defaultSampleRate, flagSampleRateDesc)
	flag.IntVar(&flags.pulses, flagPulses, defaultPulses, flagPulsesDesc)
	flag.IntVar(&flags.steps, flagSteps, defaultSteps, flagStepsDesc)
	flag.Float64Var(&flags.noiseTailMs, flagNoiseTailMs, defaultNoiseTailMs, flagNoiseTailMsDesc)
	flag.Float64Var(&flags.noiseAmplitude, flagNoiseAmplitude, defaultNoiseAmplitude, flagNoiseAmplitudeDesc)
	flag.Int64Var(&flags.seed, flagSeed, defaultSeed, flagSeedDesc)
	flag.StringVar(&flags.format, flagFormat, defaultFormat, flagFormatDesc)
	flag.Parse()

	return flags
}

// encoderFor selects the WAV encoder for the requested sample format.
func encoderFor(format string) (func(*core.AudioBuffer) []byte, error) {
	switch format {
	case formatFloat32:
		return wav.Encode, nil
	case formatPCM16:
		return wav.EncodePCM16, nil
	default:
		return nil, fmt.Errorf(errFmtUnknownFormat, format, formatFloat32, formatPCM16)
	}
}

// formatPattern renders a pulse pattern as a compact bit string, "x" marking a
// pulse and "." a rest.
func formatPattern(pattern []bool) string {
	var builder strings.Builder

	for _, pulse := range pattern {
		if pulse {
			builder.WriteByte('x')
		} else {
			builder.WriteByte('.')
		}
	}

	return builder.String()
}

func writeOutput(path string, data []byte, buffer *core.AudioBuffer, format string) error {
	dir := filepath.Dir(path)
	if dir != "." {
		err := bridgeutil.EnsureDir(dir)
		if err != nil {
			return fmt.Errorf(errFmtCreateOutputDir, err)
		}
	}

	err := os.WriteFile(path, data, outputFilePermissions)
	if err != nil {
		return fmt.Errorf(errFmtWriteOutput, path, err)
	}

	fmt.Printf(
		msgFmtWritten,
		path,
		bridgeutil.FormatFileSize(int64(len(data))),
		bridgeutil.FormatDuration(buffer.Duration().Seconds()),
		buffer.SampleRate,
		format,
	)

	return nil
}
