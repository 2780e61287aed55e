package audio

import "encoding/binary"

// pcmDurationMs returns the duration in milliseconds of a buffer of
// signed 16-bit little-endian PCM samples.
func pcmDurationMs(byteLen, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / (2 * channels)
	return float64(samples) * 1000.0 / float64(sampleRate)
}

// pcmPeak returns the maximum absolute sample value in a buffer of
// signed 16-bit little-endian PCM samples. A peak of 0 means the
// buffer is pure silence.
func pcmPeak(data []byte) int {
	peak := 0
	for i := 0; i+1 < len(data); i += 2 {
		s := int(int16(binary.LittleEndian.Uint16(data[i:])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
