package audio

import (
	"encoding/binary"
	"math"
)

// RMS computes the root mean square of a linear16 little-endian frame,
// normalized to [0, 1].
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < samples; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		normalized := float64(sample) / math.MaxInt16
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// Decibels converts a normalized RMS value to dBFS. Silence maps to -160 so
// threshold comparisons never divide by zero.
func Decibels(rms float64) float64 {
	if rms <= 0 {
		return -160
	}
	return 20 * math.Log10(rms)
}

// NormalizeLevel maps a dBFS value into [0, 1] for UI meters, clamping the
// useful voice range of roughly -50..0 dB.
func NormalizeLevel(db float64) float64 {
	normalized := (db + 50) / 50
	return math.Max(0.02, math.Min(1.0, normalized))
}
