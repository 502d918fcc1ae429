// Package settings holds the user-facing dictation configuration: which
// backend family and provider to use, language and model size for the local
// backend, and the telemetry and debug switches.
//
// Settings values are immutable; changes are expressed as a Patch and applied
// with Merge, which is total and never mutates its input.
package settings

import (
	"errors"
	"fmt"
)

type DeploymentMode string

const (
	ModeCloud DeploymentMode = "cloud"
	ModeLocal DeploymentMode = "local"
)

type CloudProvider string

const (
	ProviderGemini     CloudProvider = "gemini"
	ProviderElevenLabs CloudProvider = "elevenlabs"
)

type Language string

const (
	LanguageFrench  Language = "fr"
	LanguageEnglish Language = "en"
)

type ModelSize string

const (
	ModelTiny  ModelSize = "tiny"
	ModelBase  ModelSize = "base"
	ModelLarge ModelSize = "large"
)

// Settings is the process-wide user configuration. CloudProvider only
// matters in cloud mode, Language and ModelSize only in local mode; the
// inactive fields are kept as-is so switching modes back restores them.
type Settings struct {
	DeploymentMode DeploymentMode `json:"deployment_mode"`
	CloudProvider  CloudProvider  `json:"cloud_provider"`
	Language       Language       `json:"language"`
	ModelSize      ModelSize      `json:"model_size"`
	TelemetryOptIn bool           `json:"telemetry_opt_in"`
	DebugMode      bool           `json:"debug_mode"`
}

// Defaults returns the settings used when nothing has been persisted yet.
// Telemetry is opt-in and therefore off.
func Defaults() Settings {
	return Settings{
		DeploymentMode: ModeCloud,
		CloudProvider:  ProviderGemini,
		Language:       LanguageEnglish,
		ModelSize:      ModelBase,
		TelemetryOptIn: false,
		DebugMode:      false,
	}
}

// Validate checks every enumerated field, including the ones the current
// mode ignores, so a stored value is always usable after a mode switch.
func (s Settings) Validate() error {
	var errs []error
	switch s.DeploymentMode {
	case ModeCloud, ModeLocal:
	default:
		errs = append(errs, fmt.Errorf("deployment_mode: unknown value %q", s.DeploymentMode))
	}
	switch s.CloudProvider {
	case ProviderGemini, ProviderElevenLabs:
	default:
		errs = append(errs, fmt.Errorf("cloud_provider: unknown value %q", s.CloudProvider))
	}
	switch s.Language {
	case LanguageFrench, LanguageEnglish:
	default:
		errs = append(errs, fmt.Errorf("language: unknown value %q", s.Language))
	}
	switch s.ModelSize {
	case ModelTiny, ModelBase, ModelLarge:
	default:
		errs = append(errs, fmt.Errorf("model_size: unknown value %q", s.ModelSize))
	}
	return errors.Join(errs...)
}

// Patch is a partial update. Nil fields leave the current value untouched.
type Patch struct {
	DeploymentMode *DeploymentMode `json:"deployment_mode,omitempty"`
	CloudProvider  *CloudProvider  `json:"cloud_provider,omitempty"`
	Language       *Language       `json:"language,omitempty"`
	ModelSize      *ModelSize      `json:"model_size,omitempty"`
	TelemetryOptIn *bool           `json:"telemetry_opt_in,omitempty"`
	DebugMode      *bool           `json:"debug_mode,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.DeploymentMode == nil && p.CloudProvider == nil && p.Language == nil &&
		p.ModelSize == nil && p.TelemetryOptIn == nil && p.DebugMode == nil
}

// Merge returns base with every non-nil field of p applied. The result is not
// validated; callers validate the merged candidate before persisting it.
func Merge(base Settings, p Patch) Settings {
	out := base
	if p.DeploymentMode != nil {
		out.DeploymentMode = *p.DeploymentMode
	}
	if p.CloudProvider != nil {
		out.CloudProvider = *p.CloudProvider
	}
	if p.Language != nil {
		out.Language = *p.Language
	}
	if p.ModelSize != nil {
		out.ModelSize = *p.ModelSize
	}
	if p.TelemetryOptIn != nil {
		out.TelemetryOptIn = *p.TelemetryOptIn
	}
	if p.DebugMode != nil {
		out.DebugMode = *p.DebugMode
	}
	return out
}
