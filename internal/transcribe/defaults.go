package transcribe

import (
	"errors"

	"github.com/otis-dictation/otis/internal/config"
	"github.com/otis-dictation/otis/internal/settings"
)

// NewDefaultRegistry registers the two cloud providers and the three local
// model sizes, in that order.
func NewDefaultRegistry(cfg *config.Config) *Registry {
	r := NewRegistry()

	gem := NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.Timeout)
	r.Register(Descriptor{
		ID:          BackendGemini,
		DisplayName: "Gemini (Cloud)",
		Family:      FamilyCloud,
		Model:       cfg.Gemini.Model,
		Ready:       requireKey(cfg.Gemini.APIKey, "GOOGLE_API_KEY is not set"),
	}, gem)

	el := NewElevenLabsClient(cfg.ElevenLabs.APIKey, cfg.ElevenLabs.Model, cfg.ElevenLabs.Timeout)
	r.Register(Descriptor{
		ID:          BackendElevenLabs,
		DisplayName: "ElevenLabs (Cloud)",
		Family:      FamilyCloud,
		Model:       cfg.ElevenLabs.Model,
		Ready:       requireKey(cfg.ElevenLabs.APIKey, "ELEVENLABS_API_KEY is not set"),
	}, el)

	models := NewModelStore(cfg.Whisper.ModelDir)
	for _, lm := range []struct {
		id   BackendID
		size settings.ModelSize
		name string
	}{
		{BackendWhisperTiny, settings.ModelTiny, "Whisper Tiny (Local)"},
		{BackendWhisperBase, settings.ModelBase, "Whisper Base (Local)"},
		{BackendWhisperLarge, settings.ModelLarge, "Whisper Large (Local)"},
	} {
		size := lm.size
		r.Register(Descriptor{
			ID:          lm.id,
			DisplayName: lm.name,
			Family:      FamilyLocal,
			Model:       ModelName(size),
			Ready:       func() error { return models.Check(size) },
		}, NewWhisperClient(cfg.Whisper.URL, ModelName(size), cfg.Whisper.Timeout))
	}

	return r
}

func requireKey(key, msg string) func() error {
	return func() error {
		if key == "" {
			return errors.New(msg)
		}
		return nil
	}
}
