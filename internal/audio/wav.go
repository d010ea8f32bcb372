package audio

import (
	"encoding/binary"
	"math"
)

// Canonical 44-byte header: PCM format, mono, 16-bit.
const wavHeaderLen = 44

// SamplesToWAV wraps float samples in a minimal mono 16-bit WAV container,
// the format the transcription sidecar ingests. Samples outside [-1, 1] are
// clipped.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, wavHeaderLen+dataLen)

	le := binary.LittleEndian
	copy(buf, "RIFF")
	le.PutUint32(buf[4:], uint32(wavHeaderLen-8+dataLen))
	copy(buf[8:], "WAVEfmt ")
	le.PutUint32(buf[16:], 16)                   // fmt chunk size
	le.PutUint16(buf[20:], 1)                    // PCM
	le.PutUint16(buf[22:], 1)                    // mono
	le.PutUint32(buf[24:], uint32(sampleRate))   // sample rate
	le.PutUint32(buf[28:], uint32(sampleRate*2)) // byte rate
	le.PutUint16(buf[32:], 2)                    // block align
	le.PutUint16(buf[34:], 16)                   // bits per sample
	copy(buf[36:], "data")
	le.PutUint32(buf[40:], uint32(dataLen))

	for i, s := range samples {
		clipped := max(float32(-1), min(float32(1), s))
		le.PutUint16(buf[wavHeaderLen+i*2:], uint16(int16(clipped*math.MaxInt16)))
	}
	return buf
}
