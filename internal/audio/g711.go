package audio

import "math"

// G.711 companding tables, expanded once at startup. Each byte packs a sign
// bit, a 3-bit segment, and a 4-bit mantissa.
var (
	ulawTable = buildG711Table(muLawSample)
	alawTable = buildG711Table(aLawSample)
)

func buildG711Table(expand func(byte) int16) [256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = expand(byte(i))
	}
	return t
}

func muLawSample(b byte) int16 {
	b = ^b
	neg := b&0x80 != 0
	seg := (b >> 4) & 0x07
	mag := (int16(b&0x0F)<<3+0x84)<<seg - 0x84
	if neg {
		return -mag
	}
	return mag
}

func aLawSample(b byte) int16 {
	b ^= 0x55
	neg := b&0x80 == 0
	seg := (b >> 4) & 0x07
	man := int16(b & 0x0F)
	var mag int16
	if seg == 0 {
		mag = man<<4 + 8
	} else {
		mag = (man<<4 + 0x108) << (seg - 1)
	}
	if neg {
		return -mag
	}
	return mag
}

func g711ToFloat(data []byte, table *[256]int16) []float32 {
	out := make([]float32, len(data))
	for i, b := range data {
		out[i] = float32(table[b]) / math.MaxInt16
	}
	return out
}
