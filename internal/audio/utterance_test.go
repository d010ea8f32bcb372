package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() UtteranceConfig {
	return UtteranceConfig{
		ActivityThresholdDB: -30,
		TrailingSilence:     700 * time.Millisecond,
		MaxDuration:         15 * time.Second,
		SampleRate:          16000,
	}
}

// 100 ms chunks at 16 kHz.
const chunkSamples = 1600

func activeChunk() []float32 {
	chunk := make([]float32, chunkSamples)
	for i := range chunk {
		chunk[i] = 0.5
	}
	return chunk
}

func silentChunk() []float32 {
	return make([]float32, chunkSamples)
}

func TestSealOnTrailingSilence(t *testing.T) {
	acc := NewAccumulator("c1", testConfig())

	for range 3 {
		require.Nil(t, acc.Feed(activeChunk()))
	}

	var sealed *Utterance
	silent := 0
	for sealed == nil {
		silent++
		require.LessOrEqual(t, silent, 10, "should seal within 800ms of silence")
		sealed = acc.Feed(silentChunk())
	}

	assert.Equal(t, 7, silent, "seals once trailing silence reaches 700ms")
	assert.Equal(t, "c1", sealed.ConnID)
	assert.Equal(t, 10, sealed.Chunks)
	assert.Equal(t, time.Second, sealed.Duration, "300ms speech + 700ms trailing silence")
}

func TestMaxDurationBound(t *testing.T) {
	cfg := testConfig()
	acc := NewAccumulator("c1", cfg)

	// 20 seconds of continuous speech against a 15 second hard bound.
	var sealed []*Utterance
	for range 200 {
		if u := acc.Feed(activeChunk()); u != nil {
			sealed = append(sealed, u)
		}
	}
	if u := acc.Flush(); u != nil {
		sealed = append(sealed, u)
	}

	require.Len(t, sealed, 2)
	assert.Equal(t, cfg.MaxDuration, sealed[0].Duration, "first utterance sealed exactly at the bound")
	assert.Equal(t, 5*time.Second, sealed[1].Duration, "remainder starts the next utterance")
	for _, u := range sealed {
		assert.LessOrEqual(t, u.Duration, cfg.MaxDuration)
	}
}

func TestPureSilenceNeverEmitted(t *testing.T) {
	acc := NewAccumulator("c1", testConfig())

	// Twice the max-duration window of silence.
	for range 300 {
		assert.Nil(t, acc.Feed(silentChunk()))
	}
	assert.Nil(t, acc.Flush(), "nothing active accumulated")
}

func TestFlushSealsPartialSpeech(t *testing.T) {
	acc := NewAccumulator("c1", testConfig())

	require.Nil(t, acc.Feed(activeChunk()))
	u := acc.Flush()
	require.NotNil(t, u)
	assert.Equal(t, 100*time.Millisecond, u.Duration)
	assert.Nil(t, acc.Flush(), "flush resets the accumulator")
}

func TestSpeechResumesAfterShortSilence(t *testing.T) {
	acc := NewAccumulator("c1", testConfig())

	require.Nil(t, acc.Feed(activeChunk()))
	for range 5 { // 500ms silence, under the 700ms threshold
		require.Nil(t, acc.Feed(silentChunk()))
	}
	require.Nil(t, acc.Feed(activeChunk()), "speech resumed, no seal")

	u := acc.Flush()
	require.NotNil(t, u)
	assert.Equal(t, 700*time.Millisecond, u.Duration)
}

func TestEnergyDB(t *testing.T) {
	assert.Equal(t, float64(-100), energyDB(nil))
	assert.Equal(t, float64(-100), energyDB(silentChunk()))
	assert.Greater(t, energyDB(activeChunk()), -30.0)
}
