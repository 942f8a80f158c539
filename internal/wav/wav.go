// Package wav implements the bridge's audio container codec: a strict decoder
// for float32, PCM16 and PCM24 WAV buffers, and mono encoders for the float32
// and PCM16 layouts.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/resonator-bridge/internal/core"
)

const (
	headerSize      = 44
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16

	// riffBodyBaseSize is the RIFF size field value for an empty data chunk:
	// "WAVE" plus a 16-byte fmt chunk with its header, plus the data header.
	riffBodyBaseSize = 36

	formatPCM       = 1
	formatIEEEFloat = 3

	monoChannels = 1

	bitsFloat32 = 32
	bitsPCM16   = 16
	bitsPCM24   = 24

	bytesPerFloat32 = 4
	bytesPerPCM16   = 2
	bytesPerPCM24   = 3

	pcm16Divisor = 32768.0
	pcm16Max     = 32767.0
	pcm24Divisor = 8388608.0
)

var (
	// ErrMalformedContainer indicates a container too short to hold a WAV
	// header, or a chunk whose declared size overruns the buffer.
	ErrMalformedContainer = errors.New("malformed wav container")
	// ErrInvalidMagic indicates the RIFF/WAVE magic bytes are absent.
	ErrInvalidMagic = errors.New("not a riff/wave container")
	// ErrMissingChunk indicates the container walk finished without finding a
	// required chunk.
	ErrMissingChunk = errors.New("required chunk missing")
	// ErrUnsupportedFormat indicates a sample format the codec does not decode.
	ErrUnsupportedFormat = errors.New("unsupported sample format")
)

// formatChunk is the parsed subset of the "fmt " chunk the decoder needs.
type formatChunk struct {
	audioFormat uint16
	channels    uint16
	sampleRate  uint32
	bits        uint16
}

// Decode parses a WAV container into a mono audio buffer. Multichannel input
// is mixed down by arithmetic mean per frame. Chunks other than "fmt " and
// "data" are skipped by their declared size.
func Decode(data []byte) (*core.AudioBuffer, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf(
			"%w: %d bytes is shorter than the minimal header",
			ErrMalformedContainer, len(data),
		)
	}

	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrInvalidMagic
	}

	format, pcm, err := walkChunks(data)
	if err != nil {
		return nil, err
	}

	samples, convertErr := convertSamples(format, pcm)
	if convertErr != nil {
		return nil, convertErr
	}

	return &core.AudioBuffer{
		Samples:    mixToMono(samples, int(format.channels)),
		SampleRate: int(format.sampleRate),
	}, nil
}

// walkChunks scans the chunk list after the RIFF header and returns the parsed
// fmt chunk and the raw data payload.
func walkChunks(data []byte) (*formatChunk, []byte, error) {
	var (
		format  *formatChunk
		pcm     []byte
		hasData bool
	)

	pos := riffHeaderSize
	for pos+chunkHeaderSize <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+chunkHeaderSize]))

		body := pos + chunkHeaderSize
		if chunkSize < 0 || body+chunkSize > len(data) {
			return nil, nil, fmt.Errorf(
				"%w: chunk %q declares %d bytes beyond the buffer",
				ErrMalformedContainer, chunkID, chunkSize,
			)
		}

		switch chunkID {
		case "fmt ":
			parsed, parseErr := parseFormatChunk(data[body : body+chunkSize])
			if parseErr != nil {
				return nil, nil, parseErr
			}

			format = parsed
		case "data":
			pcm = data[body : body+chunkSize]
			hasData = true
		}

		pos = body + chunkSize
		// Chunks are word aligned; odd sizes carry a pad byte.
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if format == nil {
		return nil, nil, fmt.Errorf("%w: no 'fmt ' chunk", ErrMissingChunk)
	}

	if !hasData {
		return nil, nil, fmt.Errorf("%w: no 'data' chunk", ErrMissingChunk)
	}

	return format, pcm, nil
}

func parseFormatChunk(body []byte) (*formatChunk, error) {
	if len(body) < fmtChunkMinSize {
		return nil, fmt.Errorf(
			"%w: fmt chunk holds %d of %d required bytes",
			ErrMalformedContainer, len(body), fmtChunkMinSize,
		)
	}

	parsed := &formatChunk{
		audioFormat: binary.LittleEndian.Uint16(body[0:2]),
		channels:    binary.LittleEndian.Uint16(body[2:4]),
		sampleRate:  binary.LittleEndian.Uint32(body[4:8]),
		bits:        binary.LittleEndian.Uint16(body[14:16]),
	}

	if parsed.channels == 0 {
		return nil, fmt.Errorf("%w: fmt chunk declares zero channels", ErrMalformedContainer)
	}

	return parsed, nil
}

// convertSamples turns the raw data payload into interleaved float samples.
// Trailing bytes that do not complete a sample are ignored.
func convertSamples(format *formatChunk, pcm []byte) ([]float32, error) {
	switch {
	case format.audioFormat == formatIEEEFloat && format.bits == bitsFloat32:
		return decodeFloat32(pcm), nil
	case format.audioFormat == formatPCM && format.bits == bitsPCM16:
		return decodePCM16(pcm), nil
	case format.audioFormat == formatPCM && format.bits == bitsPCM24:
		return decodePCM24(pcm), nil
	default:
		return nil, fmt.Errorf(
			"%w: format %d with %d bits per sample",
			ErrUnsupportedFormat, format.audioFormat, format.bits,
		)
	}
}

func decodeFloat32(pcm []byte) []float32 {
	count := len(pcm) / bytesPerFloat32
	samples := make([]float32, count)

	for i := range count {
		bits := binary.LittleEndian.Uint32(pcm[i*bytesPerFloat32:])
		samples[i] = math.Float32frombits(bits)
	}

	return samples
}

func decodePCM16(pcm []byte) []float32 {
	count := len(pcm) / bytesPerPCM16
	samples := make([]float32, count)

	for i := range count {
		value := int16(binary.LittleEndian.Uint16(pcm[i*bytesPerPCM16:]))
		samples[i] = float32(value) / pcm16Divisor
	}

	return samples
}

func decodePCM24(pcm []byte) []float32 {
	count := len(pcm) / bytesPerPCM24
	samples := make([]float32, count)

	for i := range count {
		base := i * bytesPerPCM24
		value := int32(pcm[base]) | int32(pcm[base+1])<<8 | int32(pcm[base+2])<<16
		// Sign extend the 24-bit two's complement value.
		if value&0x800000 != 0 {
			value -= 0x1000000
		}

		samples[i] = float32(value) / pcm24Divisor
	}

	return samples
}

// mixToMono averages interleaved channels into one. A trailing partial frame
// is dropped.
func mixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	frames := len(samples) / channels
	mono := make([]float32, frames)

	for frame := range frames {
		var sum float64

		base := frame * channels
		for ch := range channels {
			sum += float64(samples[base+ch])
		}

		mono[frame] = float32(sum / float64(channels))
	}

	return mono
}

// Encode serializes a buffer as a mono 32-bit IEEE float WAV container.
func Encode(buf *core.AudioBuffer) []byte {
	dataLen := len(buf.Samples) * bytesPerFloat32
	out := make([]byte, headerSize+dataLen)
	writeHeader(out, formatIEEEFloat, bitsFloat32, buf.SampleRate, dataLen)

	for i, sample := range buf.Samples {
		binary.LittleEndian.PutUint32(out[headerSize+i*bytesPerFloat32:], math.Float32bits(sample))
	}

	return out
}

// EncodePCM16 serializes a buffer as a mono 16-bit PCM WAV container. Samples
// are clamped to [-1, 1] before scaling, so out-of-range input cannot wrap.
func EncodePCM16(buf *core.AudioBuffer) []byte {
	dataLen := len(buf.Samples) * bytesPerPCM16
	out := make([]byte, headerSize+dataLen)
	writeHeader(out, formatPCM, bitsPCM16, buf.SampleRate, dataLen)

	for i, sample := range buf.Samples {
		clamped := sample
		if clamped > 1.0 {
			clamped = 1.0
		}

		if clamped < -1.0 {
			clamped = -1.0
		}

		value := int16(clamped * pcm16Max)
		binary.LittleEndian.PutUint16(out[headerSize+i*bytesPerPCM16:], uint16(value))
	}

	return out
}

// writeHeader fills dst[:44] with a canonical mono WAV header.
func writeHeader(dst []byte, audioFormat uint16, bitsPerSample, sampleRate, dataLen int) {
	bytesPerFrame := bitsPerSample / 8

	copy(dst[0:4], "RIFF")
	binary.LittleEndian.PutUint32(dst[4:8], uint32(riffBodyBaseSize+dataLen))
	copy(dst[8:12], "WAVE")

	copy(dst[12:16], "fmt ")
	binary.LittleEndian.PutUint32(dst[16:20], fmtChunkMinSize)
	binary.LittleEndian.PutUint16(dst[20:22], audioFormat)
	binary.LittleEndian.PutUint16(dst[22:24], monoChannels)
	binary.LittleEndian.PutUint32(dst[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(dst[28:32], uint32(sampleRate*bytesPerFrame))
	binary.LittleEndian.PutUint16(dst[32:34], uint16(bytesPerFrame))
	binary.LittleEndian.PutUint16(dst[34:36], uint16(bitsPerSample))

	copy(dst[36:40], "data")
	binary.LittleEndian.PutUint32(dst[40:44], uint32(dataLen))
}
