// Package pcm holds the sample-layout helpers shared by the capture graph and
// the broadcast sender. All buffers are float32; byte encodings are
// little-endian.
package pcm

import (
	"encoding/binary"
	"math"
)

// BytesPerSample is the width of one float32 sample.
const BytesPerSample = 4

// Deinterleave reorders interleaved samples channel-major and encodes them as
// little-endian float32. numSamples is floor(len(samples)/channels); trailing
// samples beyond numSamples*channels are discarded.
func Deinterleave(samples []float32, channels int) (data []byte, numSamples int) {
	if channels <= 0 {
		return nil, 0
	}
	numSamples = len(samples) / channels
	data = make([]byte, numSamples*channels*BytesPerSample)
	for c := 0; c < channels; c++ {
		for i := 0; i < numSamples; i++ {
			off := (c*numSamples + i) * BytesPerSample
			binary.LittleEndian.PutUint32(data[off:], math.Float32bits(samples[i*channels+c]))
		}
	}
	return data, numSamples
}

// Interleave is the inverse of Deinterleave.
func Interleave(data []byte, channels, numSamples int) []float32 {
	if channels <= 0 || numSamples <= 0 || len(data) < channels*numSamples*BytesPerSample {
		return nil
	}
	out := make([]float32, numSamples*channels)
	for c := 0; c < channels; c++ {
		for i := 0; i < numSamples; i++ {
			off := (c*numSamples + i) * BytesPerSample
			out[i*channels+c] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		}
	}
	return out
}

// MixInto adds src to dst sample by sample (linear summation, no limiting).
// Only min(len(dst), len(src)) samples are touched.
func MixInto(dst, src []float32) {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] += src[i]
	}
}

// ApplyGain scales every sample in place.
func ApplyGain(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range samples {
		samples[i] *= gain
	}
}

// GainFromPercent converts a 0..100 percentage to a scalar, clamping out of
// range values.
func GainFromPercent(percent int) float32 {
	switch {
	case percent <= 0:
		return 0
	case percent >= 100:
		return 1
	default:
		return float32(percent) / 100
	}
}

// MonoToStereo duplicates each mono sample into an L/R pair.
func MonoToStereo(mono []float32) []float32 {
	out := make([]float32, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}
