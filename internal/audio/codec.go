package audio

import "fmt"

// Codec identifies the encoding of inbound audio payloads.
type Codec string

const (
	CodecPCM      Codec = "pcm"       // 16-bit little-endian PCM at the negotiated rate
	CodecG711Ulaw Codec = "g711_ulaw" // µ-law, fixed 8 kHz
	CodecG711Alaw Codec = "g711_alaw" // A-law, fixed 8 kHz
)

// G.711 is always narrowband telephony audio.
const g711Rate = 8000

// Decode expands one codec payload into float32 samples normalized to
// [-1, 1] and reports the rate the samples are at: the G.711 variants are
// pinned to 8 kHz, PCM stays at the rate the client negotiated in its hello.
func Decode(data []byte, codec Codec, sampleRate int) ([]float32, int, error) {
	switch codec {
	case CodecPCM:
		return pcmToFloat(data), sampleRate, nil
	case CodecG711Ulaw:
		return g711ToFloat(data, &ulawTable), g711Rate, nil
	case CodecG711Alaw:
		return g711ToFloat(data, &alawTable), g711Rate, nil
	}
	return nil, 0, fmt.Errorf("unsupported codec %q", codec)
}
