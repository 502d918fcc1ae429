package metrics

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by a fixed step on every call.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (f *fakeClock) now() time.Time {
	f.t = f.t.Add(f.step)
	return f.t
}

func TestBegin_Disabled(t *testing.T) {
	c := NewDebugCollector(zerolog.Nop())
	h := c.Begin("s1", false)
	assert.Nil(t, h)

	// All methods are no-ops on nil.
	h.Mark(CheckpointRecordingStarted)
	h.SetBackend("gemini", "m")
	h.SetAudio("/tmp/x.wav", 3)
	h.SetUsage(nil, nil)
	assert.Nil(t, h.Finish())
	assert.Nil(t, c.Last())
}

func TestNilCollector(t *testing.T) {
	var c *DebugCollector
	assert.Nil(t, c.Begin("s", true))
	assert.Nil(t, c.Last())
}

func TestFinish_RealtimeFactor(t *testing.T) {
	c := NewDebugCollector(zerolog.Nop())
	clock := &fakeClock{t: time.Unix(0, 0), step: 500 * time.Millisecond}
	c.now = clock.now

	h := c.Begin("s1", true) // t=0.5
	require.NotNil(t, h)
	h.Mark(CheckpointRecordingStarted)   // 1.0
	h.Mark(CheckpointTranscribeStarted)  // 1.5
	h.Mark(CheckpointTranscribeFinished) // 2.0
	h.SetBackend("whisper-base", "base")
	h.SetAudio("/tmp/s1.wav", 2.0)

	r := h.Finish()
	require.NotNil(t, r)
	assert.Equal(t, "s1", r.SessionID)
	assert.InDelta(t, 0.5, r.TranscriptionSeconds, 1e-9)
	assert.InDelta(t, 0.25, r.RealtimeFactor, 1e-9)
	assert.InDelta(t, 4.0, r.SpeedMultiplier(), 1e-9)
	assert.Nil(t, r.TokenCount)
	assert.Nil(t, r.EstimatedCost)
	assert.Len(t, r.Checkpoints, 3)
	assert.Equal(t, int64(500), r.Checkpoints[0].OffsetMs)

	assert.Same(t, r, c.Last())
	assert.Nil(t, h.Finish(), "second Finish returns nil")
}

func TestFinish_Usage(t *testing.T) {
	c := NewDebugCollector(zerolog.Nop())
	h := c.Begin("s2", true)
	tokens, cost := 1200, 0.00038
	h.SetUsage(&tokens, &cost)
	h.SetAudio("", 0)

	r := h.Finish()
	require.NotNil(t, r.TokenCount)
	assert.Equal(t, 1200, *r.TokenCount)
	require.NotNil(t, r.EstimatedCost)
	assert.Equal(t, 0.00038, *r.EstimatedCost)
	assert.Zero(t, r.RealtimeFactor, "no audio duration means no factor")
}

func TestFinish_MissingTranscribeCheckpoints(t *testing.T) {
	c := NewDebugCollector(zerolog.Nop())
	h := c.Begin("s3", true)
	h.Mark(CheckpointRecordingStarted)
	h.SetAudio("/tmp/s3.wav", 1.5)

	r := h.Finish()
	assert.Zero(t, r.TranscriptionSeconds)
	assert.Zero(t, r.RealtimeFactor)
}
