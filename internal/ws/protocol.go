package ws

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/plushtalk/voice-gateway/internal/pipeline"
	"github.com/plushtalk/voice-gateway/internal/registry"
)

// Binary audio frames carry a 4-byte little-endian sequence number before
// the codec payload. Sequence numbers start at 0 per connection; a gap or
// reordering is a protocol error.
const frameHeaderLen = 4

var errShortFrame = errors.New("binary frame shorter than header")

func encodeFrame(seq uint32, payload []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf, seq)
	copy(buf[frameHeaderLen:], payload)
	return buf
}

func decodeFrame(data []byte) (uint32, []byte, error) {
	if len(data) < frameHeaderLen {
		return 0, nil, fmt.Errorf("%w: %d bytes", errShortFrame, len(data))
	}
	return binary.LittleEndian.Uint32(data), data[frameHeaderLen:], nil
}

// clientMessage is any inbound text frame.
type clientMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	ChildAge   int    `json:"child_age,omitempty"`
}

type ackMessage struct {
	Type      string `json:"type"`
	ConnID    string `json:"conn_id"`
	SessionID string `json:"session_id"`
}

type heartbeatAck struct {
	Type string `json:"type"`
}

type replyMessage struct {
	Type         string `json:"type"`
	TurnID       string `json:"turn_id"`
	Text         string `json:"text"`
	AudioRef     string `json:"audio_ref,omitempty"`
	EmotionLabel string `json:"emotion_label,omitempty"`
	SafetyStatus string `json:"safety_status,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func marshalError(code, message string) []byte {
	data, _ := json.Marshal(errorMessage{Type: "error", Code: code, Message: message})
	return data
}

// NewDeliverer adapts pipeline results to the wire: the synthesized audio
// rides as one binary frame immediately before its JSON reply. Failed and
// filtered runs surface as an error message instead of a reply.
func NewDeliverer(reg *registry.Registry) pipeline.DeliverFunc {
	return func(connID string, res *pipeline.Result) error {
		switch res.Status {
		case pipeline.StatusFailed:
			return reg.Send(connID, registry.Frame{Data: marshalError("transcription_failed", "could not understand the audio")})
		case pipeline.StatusFiltered:
			return reg.Send(connID, registry.Frame{Data: marshalError("no_speech", "no speech detected")})
		}

		reply, err := json.Marshal(replyMessage{
			Type:         "reply",
			TurnID:       res.TurnID,
			Text:         res.ReplyText,
			AudioRef:     res.AudioRef,
			EmotionLabel: res.Emotion.Label,
			SafetyStatus: string(res.Verdict),
		})
		if err != nil {
			return fmt.Errorf("marshal reply: %w", err)
		}

		frames := make([]registry.Frame, 0, 2)
		if len(res.Audio) > 0 {
			frames = append(frames, registry.Frame{Binary: true, Data: res.Audio})
		}
		frames = append(frames, registry.Frame{Data: reply})
		return reg.Send(connID, frames...)
	}
}
