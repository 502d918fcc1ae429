package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models/"
	geminiPrompt  = "Transcribe this audio exactly as spoken. Only return the transcription, nothing else."
)

// geminiPricing is USD per million tokens (audio input, text output).
var geminiPricing = map[string]struct{ input, output float64 }{
	"gemini-2.5-flash-lite": {input: 0.30, output: 0.40},
	"gemini-2.5-flash":      {input: 1.00, output: 2.50},
	"gemini-2.0-flash":      {input: 0.70, output: 0.40},
}

// GeminiClient calls the Gemini generateContent API with the audio inlined.
// Implements the Provider interface.
type GeminiClient struct {
	apiKey  string
	model   string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(apiKey, model string, timeout time.Duration) *GeminiClient {
	return &GeminiClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: geminiBaseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the provider name.
func (gc *GeminiClient) Name() string { return "gemini" }

// Model returns the configured model identifier.
func (gc *GeminiClient) Model() string { return gc.model }

// Transcribe sends the WAV file inline and returns the transcript with token
// usage. Gemini detects the language itself; opts.Language is ignored.
func (gc *GeminiClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, gc.timeout)
	defer cancel()

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, decodeError(gc.Name(), fmt.Errorf("read audio file: %w", err))
	}

	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: geminiPrompt},
				{InlineData: &geminiInlineData{
					MimeType: "audio/wav",
					Data:     base64.StdEncoding.EncodeToString(audio),
				}},
			},
		}},
	})
	if err != nil {
		return nil, decodeError(gc.Name(), fmt.Errorf("encode request: %w", err))
	}

	url := gc.baseURL + gc.model + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, requestError(gc.Name(), fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", gc.apiKey)

	resp, err := gc.client.Do(req)
	if err != nil {
		return nil, requestError(gc.Name(), fmt.Errorf("gemini request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestError(gc.Name(), fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		be := statusError(gc.Name(), resp.StatusCode, body)
		// Gemini reports a bad key as 400 INVALID_ARGUMENT.
		var eb geminiErrorBody
		if json.Unmarshal(body, &eb) == nil && strings.Contains(eb.Error.Message, "API key") {
			be.Kind = KindAuth
		}
		return nil, be
	}

	var result geminiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, decodeError(gc.Name(), fmt.Errorf("decode response: %w", err))
	}
	if len(result.Candidates) == 0 {
		return nil, decodeError(gc.Name(), fmt.Errorf("no candidates in response"))
	}

	var sb strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}

	out := &Response{Text: strings.TrimSpace(sb.String())}
	if um := result.UsageMetadata; um != nil {
		out.Usage = gc.usage(um.PromptTokenCount, um.CandidatesTokenCount, um.TotalTokenCount)
	}
	return out, nil
}

func (gc *GeminiClient) usage(input, output, total int) *Usage {
	u := &Usage{InputTokens: input, OutputTokens: output, TotalTokens: total}
	if u.TotalTokens == 0 {
		u.TotalTokens = input + output
	}
	if p, ok := geminiPricing[gc.model]; ok {
		cost := float64(input)*p.input/1e6 + float64(output)*p.output/1e6
		u.CostUSD = &cost
	}
	return u
}
