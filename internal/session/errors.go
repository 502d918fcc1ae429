package session

import (
	"errors"
	"fmt"
)

// AlreadyActiveError is returned by Start when a session is in progress.
type AlreadyActiveError struct {
	State     State
	SessionID string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("a dictation session is already %s (%s)", e.State, e.SessionID)
}

// CaptureError wraps a failure of the audio capture collaborator.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return "audio capture failed: " + e.Err.Error() }

func (e *CaptureError) Unwrap() error { return e.Err }

// ErrNoTranscription is returned by CopyLast before any session succeeded.
var ErrNoTranscription = errors.New("no transcription yet")

// ErrShuttingDown is returned by Start after Shutdown.
var ErrShuttingDown = errors.New("session machine is shutting down")
