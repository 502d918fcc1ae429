package transcribe

import (
	"fmt"
	"sync"

	"github.com/otis-dictation/otis/internal/settings"
)

// BackendID identifies one backend variant. The set is closed.
type BackendID string

const (
	BackendGemini       BackendID = "gemini"
	BackendElevenLabs   BackendID = "elevenlabs"
	BackendWhisperTiny  BackendID = "whisper-tiny"
	BackendWhisperBase  BackendID = "whisper-base"
	BackendWhisperLarge BackendID = "whisper-large"
)

type Family string

const (
	FamilyCloud Family = "cloud"
	FamilyLocal Family = "local"
)

// Descriptor describes a backend and how to tell whether it can run.
type Descriptor struct {
	ID          BackendID `json:"id"`
	DisplayName string    `json:"display_name"`
	Family      Family    `json:"family"`
	Model       string    `json:"model"`

	// Ready returns nil when the backend's prerequisites are met.
	Ready func() error `json:"-"`
}

// CheckReady runs the prerequisite predicate.
func (d Descriptor) CheckReady() error {
	if d.Ready == nil {
		return nil
	}
	return d.Ready()
}

// Status is a descriptor together with its current readiness.
type Status struct {
	Descriptor
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// ResolveID picks the backend for the given settings. It only reads the
// fields relevant to the deployment mode.
func ResolveID(s settings.Settings) BackendID {
	if s.DeploymentMode == settings.ModeLocal {
		switch s.ModelSize {
		case settings.ModelTiny:
			return BackendWhisperTiny
		case settings.ModelLarge:
			return BackendWhisperLarge
		default:
			return BackendWhisperBase
		}
	}
	if s.CloudProvider == settings.ProviderElevenLabs {
		return BackendElevenLabs
	}
	return BackendGemini
}

// Registry holds the available backends in listing order.
type Registry struct {
	mu      sync.RWMutex
	order   []BackendID
	entries map[BackendID]entry
}

type entry struct {
	desc     Descriptor
	provider Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[BackendID]entry)}
}

// Register adds or replaces a backend. New IDs are appended to the listing.
func (r *Registry) Register(d Descriptor, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[d.ID]; !ok {
		r.order = append(r.order, d.ID)
	}
	r.entries[d.ID] = entry{desc: d, provider: p}
}

// ListBackends returns every registered backend in registration order.
func (r *Registry) ListBackends() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].desc)
	}
	return out
}

// Statuses lists every backend with its readiness evaluated now.
func (r *Registry) Statuses() []Status {
	descs := r.ListBackends()
	out := make([]Status, 0, len(descs))
	for _, d := range descs {
		st := Status{Descriptor: d, Ready: true}
		if err := d.CheckReady(); err != nil {
			st.Ready = false
			st.Reason = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id BackendID) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.desc, ok
}

// ResolveActive returns the backend the settings select, or a
// *ConfigurationError if it isn't registered or its prerequisites are unmet.
func (r *Registry) ResolveActive(s settings.Settings) (Descriptor, error) {
	id := ResolveID(s)
	d, ok := r.Lookup(id)
	if !ok {
		return Descriptor{}, &ConfigurationError{Backend: id, Reason: "backend not available in this build"}
	}
	if err := d.CheckReady(); err != nil {
		return d, &ConfigurationError{Backend: id, Reason: err.Error()}
	}
	return d, nil
}

// Provider returns the client registered for d.
func (r *Registry) Provider(d Descriptor) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[d.ID]
	if !ok || e.provider == nil {
		return nil, &ConfigurationError{Backend: d.ID, Reason: "no client registered"}
	}
	return e.provider, nil
}

// String implements fmt.Stringer for logs.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s/%s)", d.ID, d.Family, d.Model)
}
