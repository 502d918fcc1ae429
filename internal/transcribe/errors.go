package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a backend failure so the user can tell whether to
// check connectivity, credentials, or the local model.
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindAuth              ErrorKind = "auth"
	KindDecode            ErrorKind = "decode"
	KindTimeout           ErrorKind = "timeout"
	KindModelNotAvailable ErrorKind = "model_not_available"
)

// BackendError is returned by every Provider on failure.
type BackendError struct {
	Kind     ErrorKind
	Provider string
	Status   int // HTTP status, 0 if the request never completed
	Err      error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// UserMessage is a short, actionable alert for the kind.
func (e *BackendError) UserMessage() string {
	switch e.Kind {
	case KindAuth:
		return "Authentication failed. Check your API key."
	case KindTimeout:
		return "The transcription service took too long. Try again."
	case KindModelNotAvailable:
		return "The selected model is not available. Download it or pick another size."
	case KindDecode:
		return "The recording could not be processed."
	default:
		return "Network error. Check your connection and try again."
	}
}

// Classify converts any error into a BackendError. Errors that already are
// BackendErrors pass through unchanged.
func Classify(provider string, err error) *BackendError {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}
	return &BackendError{Kind: transportKind(err), Provider: provider, Err: err}
}

// transportKind distinguishes timeouts from other transport failures.
func transportKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// statusKind maps a non-200 HTTP status to a kind.
func statusKind(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusNotFound:
		return KindModelNotAvailable
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return KindDecode
	default:
		return KindNetwork
	}
}

func requestError(provider string, err error) *BackendError {
	return &BackendError{Kind: transportKind(err), Provider: provider, Err: err}
}

func statusError(provider string, status int, body []byte) *BackendError {
	if len(body) > 512 {
		body = body[:512]
	}
	return &BackendError{
		Kind:     statusKind(status),
		Provider: provider,
		Status:   status,
		Err:      fmt.Errorf("API error: %s", string(body)),
	}
}

func decodeError(provider string, err error) *BackendError {
	return &BackendError{Kind: KindDecode, Provider: provider, Err: err}
}

// ConfigurationError reports that the backend selected by the settings cannot
// run: a missing credential, or a local model that isn't downloaded. It is
// raised before any recording starts.
type ConfigurationError struct {
	Backend BackendID
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("backend %s is not ready: %s", e.Backend, e.Reason)
}
