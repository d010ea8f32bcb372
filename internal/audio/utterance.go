package audio

import (
	"math"
	"time"

	"github.com/plushtalk/voice-gateway/internal/metrics"
)

// UtteranceConfig controls activity detection and utterance sealing.
type UtteranceConfig struct {
	ActivityThresholdDB float64       // chunk counts as speech at or above this energy
	TrailingSilence     time.Duration // seal after this much silence following speech
	MaxDuration         time.Duration // hard bound on utterance length
	SampleRate          int
}

// DefaultUtteranceConfig returns defaults tuned for 16 kHz device audio.
func DefaultUtteranceConfig() UtteranceConfig {
	return UtteranceConfig{
		ActivityThresholdDB: -30,
		TrailingSilence:     700 * time.Millisecond,
		MaxDuration:         15 * time.Second,
		SampleRate:          16000,
	}
}

// Utterance is one sealed speaking turn. Immutable after sealing.
type Utterance struct {
	ConnID   string
	Samples  []float32
	Chunks   int
	Duration time.Duration
	Start    time.Time
	End      time.Time
}

// Accumulator turns a raw chunk stream into sealed utterances using
// energy-based activity detection. Silence and duration are measured in
// samples, not wall-clock time, so sealing is deterministic for a given
// feed sequence. Not safe for concurrent use; each connection owns one.
type Accumulator struct {
	cfg    UtteranceConfig
	connID string

	samples        []float32
	chunks         int
	hasSpeech      bool
	silenceSamples int // trailing silence since the last active chunk
	leadSilence    int // silence accumulated before any speech
	start          time.Time
}

// NewAccumulator creates an accumulator for one connection's audio stream.
func NewAccumulator(connID string, cfg UtteranceConfig) *Accumulator {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Accumulator{cfg: cfg, connID: connID}
}

// Feed appends one decoded chunk and returns a sealed utterance when either
// trailing silence exceeds the configured threshold after at least one active
// chunk, or the accumulated duration hits the hard maximum. Audio past the
// max-duration boundary starts the next utterance. Pure-silence accumulations
// are discarded once a full max-duration window passes without speech.
func (a *Accumulator) Feed(chunk []float32) *Utterance {
	if len(chunk) == 0 {
		return nil
	}

	active := energyDB(chunk) >= a.cfg.ActivityThresholdDB

	if !a.hasSpeech && !active {
		a.leadSilence += len(chunk)
		if a.leadSilence >= a.maxSamples() {
			a.leadSilence = 0
			metrics.UtterancesDiscarded.Inc()
		}
		return nil
	}

	if !a.hasSpeech {
		a.hasSpeech = true
		a.start = time.Now()
		a.leadSilence = 0
	}
	a.chunks++

	if active {
		a.silenceSamples = 0
	} else {
		a.silenceSamples += len(chunk)
	}

	room := a.maxSamples() - len(a.samples)
	if len(chunk) < room {
		a.samples = append(a.samples, chunk...)
		if !active && a.silenceSamples >= a.silenceLimit() {
			return a.seal()
		}
		return nil
	}

	// Hard bound reached: seal exactly at the boundary and carry the
	// remainder into the next utterance.
	a.samples = append(a.samples, chunk[:room]...)
	rest := chunk[room:]
	u := a.seal()
	if len(rest) > 0 && active {
		a.hasSpeech = true
		a.chunks = 1
		a.start = time.Now()
		a.samples = append(a.samples, rest...)
	}
	return u
}

// Flush seals whatever speech is buffered, for use at connection close.
// Returns nil if nothing active was accumulated.
func (a *Accumulator) Flush() *Utterance {
	if !a.hasSpeech || len(a.samples) == 0 {
		return nil
	}
	return a.seal()
}

func (a *Accumulator) seal() *Utterance {
	u := &Utterance{
		ConnID:   a.connID,
		Samples:  a.samples,
		Chunks:   a.chunks,
		Duration: time.Duration(len(a.samples)) * time.Second / time.Duration(a.cfg.SampleRate),
		Start:    a.start,
		End:      time.Now(),
	}
	a.samples = nil
	a.chunks = 0
	a.hasSpeech = false
	a.silenceSamples = 0
	return u
}

func (a *Accumulator) maxSamples() int {
	return int(a.cfg.MaxDuration.Seconds() * float64(a.cfg.SampleRate))
}

func (a *Accumulator) silenceLimit() int {
	return int(a.cfg.TrailingSilence.Seconds() * float64(a.cfg.SampleRate))
}

// energyDB computes RMS energy of a chunk in decibels.
func energyDB(samples []float32) float64 {
	if len(samples) == 0 {
		return -100
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < 1e-10 {
		return -100
	}
	return 20 * math.Log10(rms)
}
