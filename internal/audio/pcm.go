package audio

import "math"

// pcmToFloat expands 16-bit little-endian PCM into normalized float samples.
// A trailing odd byte is dropped.
func pcmToFloat(data []byte) []float32 {
	out := make([]float32, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		v := int16(uint16(data[i]) | uint16(data[i+1])<<8)
		out = append(out, float32(v)/math.MaxInt16)
	}
	return out
}
