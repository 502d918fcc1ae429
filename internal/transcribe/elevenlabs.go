package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API.
// Implements the Provider interface.
type ElevenLabsClient struct {
	apiKey   string
	model    string // "scribe_v1" or "scribe_v2"
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// elevenlabsResponse is the JSON response from the ElevenLabs STT API.
type elevenlabsResponse struct {
	LanguageCode        string           `json:"language_code"`
	LanguageProbability float64          `json:"language_probability"`
	Text                string           `json:"text"`
	Words               []elevenlabsWord `json:"words"`
}

// elevenlabsWord is a word or spacing entry from ElevenLabs.
type elevenlabsWord struct {
	Text      string  `json:"text"`
	Type      string  `json:"type"` // "word" or "spacing"
	StartTime float64 `json:"start"`
	EndTime   float64 `json:"end"`
}

// NewElevenLabsClient creates a new ElevenLabs STT client.
func NewElevenLabsClient(apiKey, model string, timeout time.Duration) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: elevenLabsSTTEndpoint,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (el *ElevenLabsClient) Name() string { return "elevenlabs" }

// Model returns the configured model identifier.
func (el *ElevenLabsClient) Model() string { return el.model }

// Transcribe sends an audio file to the ElevenLabs STT API and returns the result.
// ElevenLabs bills per audio duration and reports no token usage.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, el.timeout)
	defer cancel()

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, decodeError(el.Name(), fmt.Errorf("open audio file: %w", err))
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, decodeError(el.Name(), fmt.Errorf("create form file: %w", err))
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, decodeError(el.Name(), fmt.Errorf("copy audio data: %w", err))
	}

	w.WriteField("model_id", el.model)
	// Omitted language_code means auto-detect.
	if opts.Language != "" {
		w.WriteField("language_code", opts.Language)
	}
	w.WriteField("tag_audio_events", "false")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, el.endpoint, &buf)
	if err != nil {
		return nil, requestError(el.Name(), fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("xi-api-key", el.apiKey)

	resp, err := el.client.Do(req)
	if err != nil {
		return nil, requestError(el.Name(), fmt.Errorf("elevenlabs request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestError(el.Name(), fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(el.Name(), resp.StatusCode, body)
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, decodeError(el.Name(), fmt.Errorf("decode response: %w", err))
	}

	// Last word end time approximates the audio duration.
	var duration float64
	for _, ew := range result.Words {
		if ew.Type == "word" && ew.EndTime > duration {
			duration = ew.EndTime
		}
	}

	return &Response{
		Text:     result.Text,
		Language: result.LanguageCode,
		Duration: duration,
	}, nil
}
