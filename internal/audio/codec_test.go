package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePCM(t *testing.T) {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:], uint16(int16(0)))
	binary.LittleEndian.PutUint16(buf[2:], uint16(int16(16384)))
	neg := int16(-16384)
	binary.LittleEndian.PutUint16(buf[4:], uint16(neg))

	samples, rate, err := Decode(buf, CodecPCM, 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate, "pcm keeps the negotiated rate")
	require.Len(t, samples, 3)
	assert.InDelta(t, 0, samples[0], 1e-6)
	assert.InDelta(t, 0.5, samples[1], 1e-3)
	assert.InDelta(t, -0.5, samples[2], 1e-3)
}

func TestDecodePCMDropsOddByte(t *testing.T) {
	samples, _, err := Decode([]byte{0, 0, 1}, CodecPCM, 16000)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestDecodeG711(t *testing.T) {
	// 0xFF is µ-law silence, 0xD5 is A-law silence (decodes to +8).
	samples, rate, err := Decode([]byte{0xFF}, CodecG711Ulaw, 48000)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate, "g711 ignores the negotiated rate")
	assert.InDelta(t, 0, samples[0], 1e-6)

	samples, rate, err = Decode([]byte{0xD5}, CodecG711Alaw, 48000)
	require.NoError(t, err)
	assert.Equal(t, 8000, rate)
	assert.InDelta(t, 0, samples[0], 1e-3)
}

func TestDecodeUnknownCodec(t *testing.T) {
	_, _, err := Decode([]byte{1, 2}, Codec("opus"), 16000)
	assert.Error(t, err)
}

func TestSamplesToWAVHeader(t *testing.T) {
	wav := SamplesToWAV([]float32{0, 0.5, -0.5, 2}, 16000)

	require.Len(t, wav, 44+8)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:]))
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(wav[40:]))

	// Out-of-range samples clip instead of wrapping.
	last := int16(binary.LittleEndian.Uint16(wav[44+6:]))
	assert.Equal(t, int16(32767), last)
}

func TestResamplePassthrough(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	assert.Equal(t, in, Resample(in, 16000, 16000))
}

func TestResampleChangesLength(t *testing.T) {
	in := make([]float32, 800) // 100ms at 8kHz
	up := Resample(in, 8000, 16000)
	assert.Equal(t, 1600, len(up))

	in = make([]float32, 4800) // 100ms at 48kHz
	down := Resample(in, 48000, 16000)
	assert.Equal(t, 1600, len(down))
}
