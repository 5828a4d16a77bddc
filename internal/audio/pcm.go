package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// captureScale maps a clamped [-1,1] sample onto the int16 wire range.
	captureScale = 0x7fff

	// playbackScale maps an int16 wire sample back onto [-1,1).
	playbackScale = 32768.0
)

// FloatToPCM16 converts normalized float samples to signed 16-bit samples.
// Each sample is clamped to [-1,1] before scaling so out-of-range input
// saturates instead of wrapping.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int16(s * captureScale)
	}
	return out
}

// PCM16ToFloat converts signed 16-bit samples to the normalized playback format.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / playbackScale
	}
	return out
}

// EncodePCM16LE serializes samples as little-endian 16-bit PCM.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16LE parses little-endian 16-bit PCM.
func DecodePCM16LE(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d bytes", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// DecodeFloat32LE parses little-endian IEEE-754 float32 samples, as delivered
// by capture devices opened in F32 mode. Trailing bytes that do not form a
// whole sample are ignored.
func DecodeFloat32LE(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

// RMS returns the root mean square of normalized samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// SamplesDuration returns the playback duration of n mono samples at rate Hz.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}
