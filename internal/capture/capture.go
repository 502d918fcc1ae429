// Package capture records microphone audio to a WAV file with voice activity
// detection. The recording ends on its own after trailing silence, or early
// when the caller stops it.
package capture

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// StopReason says why a recording ended.
type StopReason string

const (
	// StopVoiceActivity means the recorder detected trailing silence (or hit
	// the maximum length) and exited on its own.
	StopVoiceActivity StopReason = "voice_activity"
	// StopManual means the user asked to stop.
	StopManual StopReason = "manual"
)

// Audio is a finished recording.
type Audio struct {
	Path            string
	DurationSeconds float64
}

// Handle is a live recording.
type Handle interface {
	// Signals delivers at most one StopReason when the recording ends by
	// itself, then closes. Manual stops are not reported here.
	Signals() <-chan StopReason
	// Stop ends the recording if it is still running and returns the
	// finalized audio. It is safe to call more than once.
	Stop() (Audio, error)
}

// Capture starts recordings.
type Capture interface {
	Start(ctx context.Context, destPath string) (Handle, error)
}

// WAVDuration reads the length of a WAV file from its header.
func WAVDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("recording %s is not a valid WAV file", path)
	}
	dur, err := d.Duration()
	if err != nil {
		return 0, fmt.Errorf("read WAV duration: %w", err)
	}
	return dur.Seconds(), nil
}
