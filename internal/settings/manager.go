package settings

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ValidationError is returned when a merged candidate is rejected. Nothing
// has been written when it is returned.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "settings: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Store Persister
	// ForceDebug reports debug mode as on regardless of the stored value.
	// The stored value is never rewritten because of it.
	ForceDebug bool
	Log        zerolog.Logger
}

// Manager owns the active Settings. Every mutation is validated, written to
// the Persister, and only then made visible in memory.
type Manager struct {
	mu         sync.Mutex
	store      Persister
	stored     Settings
	forceDebug bool
	log        zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []func(Settings)
}

// NewManager creates a manager holding Defaults until Load is called.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		store:      opts.Store,
		stored:     Defaults(),
		forceDebug: opts.ForceDebug,
		log:        opts.Log,
	}
}

// Load reads the persisted settings. Absent, unreadable or invalid documents
// leave the manager on Defaults; the file is not rewritten until the next
// explicit mutation. Only I/O failures are returned as errors.
func (m *Manager) Load() (Settings, error) {
	data, ok, err := m.store.ReadConfig()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.stored = Defaults()
		return m.effective(m.stored), err
	}
	if !ok {
		m.log.Info().Msg("no stored settings, using defaults")
		m.stored = Defaults()
		return m.effective(m.stored), nil
	}

	s, err := decode(data)
	if err != nil {
		m.log.Warn().Err(err).Msg("stored settings unusable, using defaults")
		m.stored = Defaults()
		return m.effective(m.stored), nil
	}
	m.stored = s
	m.log.Info().
		Str("deployment_mode", string(s.DeploymentMode)).
		Str("cloud_provider", string(s.CloudProvider)).
		Str("language", string(s.Language)).
		Str("model_size", string(s.ModelSize)).
		Bool("telemetry_opt_in", s.TelemetryOptIn).
		Bool("debug_mode", m.effective(s).DebugMode).
		Msg("settings loaded")
	return m.effective(s), nil
}

// Current returns the effective settings.
func (m *Manager) Current() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effective(m.stored)
}

// Update merges p into the stored settings, validates, persists, and returns
// the new effective settings.
func (m *Manager) Update(p Patch) (Settings, error) {
	m.mu.Lock()
	candidate := Merge(m.stored, p)
	if err := candidate.Validate(); err != nil {
		m.mu.Unlock()
		return m.Current(), &ValidationError{Err: err}
	}
	if err := m.writeLocked(candidate); err != nil {
		m.mu.Unlock()
		return m.Current(), err
	}
	out := m.effective(candidate)
	m.mu.Unlock()

	m.notify(out)
	return out, nil
}

// ResetToDefaults persists Defaults and returns them.
func (m *Manager) ResetToDefaults() (Settings, error) {
	m.mu.Lock()
	if err := m.writeLocked(Defaults()); err != nil {
		m.mu.Unlock()
		return m.Current(), err
	}
	out := m.effective(m.stored)
	m.mu.Unlock()

	m.log.Info().Msg("settings reset to defaults")
	m.notify(out)
	return out, nil
}

// Reload re-reads the Persister after an external edit. Invalid content is
// rejected and the in-memory settings are kept. It reports whether anything
// changed.
func (m *Manager) Reload() (bool, error) {
	data, ok, err := m.store.ReadConfig()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	s, err := decode(data)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if s == m.stored {
		m.mu.Unlock()
		return false, nil
	}
	m.stored = s
	out := m.effective(s)
	m.mu.Unlock()

	m.log.Info().Msg("settings reloaded from disk")
	m.notify(out)
	return true, nil
}

// OnChange registers fn to run after every successful mutation or reload.
// fn is called without the manager lock held.
func (m *Manager) OnChange(fn func(Settings)) {
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenerMu.Unlock()
}

func (m *Manager) writeLocked(s Settings) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := m.store.WriteConfig(data); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	m.stored = s
	return nil
}

func (m *Manager) effective(s Settings) Settings {
	if m.forceDebug {
		s.DebugMode = true
	}
	return s
}

func (m *Manager) notify(s Settings) {
	m.listenerMu.RLock()
	fns := append([]func(Settings){}, m.listeners...)
	m.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}
