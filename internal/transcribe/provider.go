package transcribe

import "context"

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "gemini", "elevenlabs", "whisper"
	Model() string // model identifier for DB/logs
}

// TranscribeOpts are per-request options.
type TranscribeOpts struct {
	// Language is an ISO-639-1 hint. Empty lets the provider detect it.
	Language string
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds, 0 if not reported
	Usage    *Usage  // nil if the provider doesn't report token usage
}

// Usage is token accounting reported by metered cloud providers.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	// CostUSD is nil when no price is known for the model.
	CostUSD *float64
}
