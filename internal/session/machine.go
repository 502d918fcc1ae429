// Package session runs the dictation state machine: idle, recording,
// transcribing, and back to idle. At most one session exists per process.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/otis-dictation/otis/internal/capture"
	"github.com/otis-dictation/otis/internal/database"
	"github.com/otis-dictation/otis/internal/events"
	"github.com/otis-dictation/otis/internal/metrics"
	"github.com/otis-dictation/otis/internal/notify"
	"github.com/otis-dictation/otis/internal/settings"
	"github.com/otis-dictation/otis/internal/transcribe"
)

const (
	previewLen   = 100
	storeTimeout = 5 * time.Second
)

// HistoryStore is the subset of the history database the machine writes to.
type HistoryStore interface {
	InsertTranscription(ctx context.Context, r database.TranscriptionRow) (int64, error)
	InsertTelemetry(ctx context.Context, e database.TelemetryEvent) (int64, error)
}

// SettingsSource returns the current effective settings.
type SettingsSource interface {
	Current() settings.Settings
}

// Backends resolves the active backend and its client.
type Backends interface {
	ResolveActive(s settings.Settings) (transcribe.Descriptor, error)
	Provider(d transcribe.Descriptor) (transcribe.Provider, error)
}

// AudioFiles names, retains and removes per-session recordings.
type AudioFiles interface {
	SessionPath(sessionID string) (string, error)
	Retain(path string) (string, error)
	Remove(path string) error
}

// Publisher receives state and completion events.
type Publisher interface {
	Publish(eventType string, payload any)
}

// Options wires the machine's collaborators. Notifier, Clipboard, Debug,
// Events and OnComplete are optional.
type Options struct {
	Settings  SettingsSource
	Backends  Backends
	Capture   capture.Capture
	Store     HistoryStore
	Files     AudioFiles
	Notifier  notify.Notifier
	Clipboard notify.Clipboard
	Debug     *metrics.DebugCollector
	Events    Publisher

	InstallationID string
	OnComplete     func(Result)
	Log            zerolog.Logger

	// NewID and Now default to uuid.NewString and time.Now.
	NewID func() string
	Now   func() time.Time
}

// Machine owns the single dictation session. One mutex guards the state;
// capture stop, the backend call and store writes run on the session's own
// goroutine without holding it.
type Machine struct {
	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	current  *Session
	lastText string
	closed   bool

	wg sync.WaitGroup
}

// NewMachine creates a machine in the idle state.
func NewMachine(opts Options) *Machine {
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Clipboard == nil {
		opts.Clipboard = notify.Nop{}
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{opts: opts, log: opts.Log, state: StateIdle}
}

// Start begins a recording with the backend the current settings select.
// It fails with *AlreadyActiveError unless idle, with
// *transcribe.ConfigurationError before anything is recorded, and with
// *CaptureError if the recorder cannot start.
func (m *Machine) Start(ctx context.Context) (*Session, error) {
	sess, err := m.start(ctx)
	if err != nil {
		var ce *transcribe.ConfigurationError
		var capErr *CaptureError
		switch {
		case errors.As(err, &ce):
			m.notify("Configuration Error", notify.Preview(ce.Reason, previewLen))
		case errors.As(err, &capErr):
			m.notify("Recording Error", notify.Preview(capErr.Err.Error(), previewLen))
		}
		return nil, err
	}
	return sess, nil
}

func (m *Machine) start(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrShuttingDown
	}
	if m.state != StateIdle {
		return nil, &AlreadyActiveError{State: m.state, SessionID: m.current.ID}
	}

	s := m.opts.Settings.Current()
	desc, err := m.opts.Backends.ResolveActive(s)
	if err != nil {
		m.log.Warn().Err(err).Msg("backend not ready, session not started")
		return nil, err
	}
	provider, err := m.opts.Backends.Provider(desc)
	if err != nil {
		return nil, err
	}

	id := m.opts.NewID()
	path, err := m.opts.Files.SessionPath(id)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues(string(OutcomeFailure)).Inc()
		return nil, &CaptureError{Err: err}
	}

	handle, err := m.opts.Capture.Start(ctx, path)
	if err != nil {
		m.removeAudio(path)
		metrics.SessionsTotal.WithLabelValues(string(OutcomeFailure)).Inc()
		m.log.Error().Err(err).Str("session_id", id).Msg("capture failed to start")
		return nil, &CaptureError{Err: err}
	}

	dbg := m.opts.Debug.Begin(id, s.DebugMode)
	dbg.SetBackend(string(desc.ID), desc.Model)
	dbg.Mark(metrics.CheckpointRecordingStarted)

	sess := &Session{
		ID:        id,
		StartedAt: m.opts.Now(),
		Backend:   desc,
		AudioPath: path,
		settings:  s,
		provider:  provider,
		handle:    handle,
		debug:     dbg,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	m.state = StateRecording
	m.current = sess
	m.publishStateLocked()

	m.log.Info().
		Str("session_id", id).
		Str("backend", string(desc.ID)).
		Bool("debug", s.DebugMode).
		Msg("recording started")

	m.wg.Add(1)
	go m.run(sess)
	return sess, nil
}

// Stop ends the current recording and starts transcription. It reports
// whether this call caused the transition; a stop that arrives after the
// recorder already stopped on silence is a no-op.
func (m *Machine) Stop() bool {
	return m.endRecording(nil, capture.StopManual)
}

// Cancel discards the current recording without transcribing it.
func (m *Machine) Cancel() bool {
	return m.endRecording(nil, stopCancel)
}

// endRecording moves sess (or the current session when nil) out of the
// recording state exactly once.
func (m *Machine) endRecording(sess *Session, reason capture.StopReason) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess == nil {
		sess = m.current
	}
	if sess == nil || m.current != sess || m.state != StateRecording {
		return false
	}
	// A cancelled session stays in recording until capture is torn down.
	if sess.stopReason != "" {
		return false
	}
	sess.stopReason = reason
	if reason != stopCancel {
		m.state = StateTranscribing
		m.publishStateLocked()
	}
	close(sess.stopped)

	m.log.Info().
		Str("session_id", sess.ID).
		Str("reason", string(reason)).
		Msg("recording stopped")
	return true
}

// Status returns the current state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Machine) statusLocked() Status {
	st := Status{State: m.state}
	if m.current != nil {
		started := m.current.StartedAt
		st.SessionID = m.current.ID
		st.Backend = m.current.Backend.ID
		st.StartedAt = &started
		st.ElapsedSeconds = m.opts.Now().Sub(started).Seconds()
	}
	return st
}

// SessionState implements metrics.LiveStats.
func (m *Machine) SessionState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.state)
}

// Current returns the in-flight session, or nil when idle.
func (m *Machine) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Last returns the most recent successful transcription of this process.
func (m *Machine) Last() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastText, m.lastText != ""
}

// CopyLast puts the most recent transcription back on the clipboard.
func (m *Machine) CopyLast() (string, error) {
	text, ok := m.Last()
	if !ok {
		return "", ErrNoTranscription
	}
	if err := m.opts.Clipboard.Copy(text); err != nil {
		return "", err
	}
	return text, nil
}

// Shutdown refuses new sessions, cancels a recording in progress and waits
// for the session goroutine to finish. A session already transcribing runs
// to completion unless ctx expires first.
func (m *Machine) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.Cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the per-session goroutine.
func (m *Machine) run(sess *Session) {
	defer m.wg.Done()

	m.recordTelemetry(sess, database.EventSessionStarted, database.OutcomeStarted, telemetryFields{})

	select {
	case reason, ok := <-sess.handle.Signals():
		if !ok {
			reason = capture.StopVoiceActivity
		}
		m.endRecording(sess, reason)
	case <-sess.stopped:
	}

	m.mu.Lock()
	reason := sess.stopReason
	m.mu.Unlock()

	if reason == stopCancel {
		m.finishCancelled(sess)
		return
	}
	m.finishTranscription(sess)
}

func (m *Machine) finishCancelled(sess *Session) {
	res := m.newResult(sess)
	res.Outcome = OutcomeCancelled

	if _, err := sess.handle.Stop(); err != nil {
		m.log.Debug().Err(err).Str("session_id", sess.ID).Msg("recorder error on cancel")
	}
	m.recordTelemetry(sess, database.EventSessionCancelled, database.OutcomeCancelled, telemetryFields{})
	m.releaseAudio(sess)
	m.complete(sess, res)
}

func (m *Machine) finishTranscription(sess *Session) {
	res := m.newResult(sess)
	dbg := sess.debug
	dbg.Mark(metrics.CheckpointRecordingStopped)

	audio, err := sess.handle.Stop()
	if err != nil {
		res.Outcome = OutcomeFailure
		res.Err = &CaptureError{Err: err}
		m.log.Error().Err(err).Str("session_id", sess.ID).Msg("recording failed")
		m.recordTelemetry(sess, database.EventSessionFailed, database.OutcomeFailure, telemetryFields{errorKind: "capture"})
		m.notify("Recording Error", notify.Preview(err.Error(), previewLen))
		m.releaseAudio(sess)
		m.complete(sess, res)
		return
	}
	if audio.Path == "" {
		audio.Path = sess.AudioPath
	}
	res.DurationSeconds = audio.DurationSeconds
	metrics.AudioDuration.Observe(audio.DurationSeconds)
	dbg.SetAudio(audio.Path, audio.DurationSeconds)

	opts := transcribe.TranscribeOpts{}
	if sess.Backend.Family == transcribe.FamilyLocal {
		opts.Language = string(sess.settings.Language)
	}

	dbg.Mark(metrics.CheckpointTranscribeStarted)
	began := m.opts.Now()
	resp, err := sess.provider.Transcribe(context.Background(), audio.Path, opts)
	res.TranscriptionSeconds = m.opts.Now().Sub(began).Seconds()
	dbg.Mark(metrics.CheckpointTranscribeFinished)
	metrics.TranscriptionDuration.WithLabelValues(string(sess.Backend.ID)).Observe(res.TranscriptionSeconds)

	fields := telemetryFields{
		audio:  &res.DurationSeconds,
		txTime: &res.TranscriptionSeconds,
	}
	if opts.Language != "" {
		fields.language = opts.Language
	}

	if err != nil {
		be := transcribe.Classify(sess.provider.Name(), err)
		metrics.BackendErrorsTotal.WithLabelValues(string(sess.Backend.ID), string(be.Kind)).Inc()
		res.Outcome = OutcomeFailure
		res.Err = be
		m.log.Error().
			Err(be).
			Str("session_id", sess.ID).
			Str("backend", string(sess.Backend.ID)).
			Str("kind", string(be.Kind)).
			Msg("transcription failed")

		fields.errorKind = string(be.Kind)
		m.recordTelemetry(sess, database.EventSessionFailed, database.OutcomeFailure, fields)
		m.notify("Transcription Error", notify.Preview(be.UserMessage(), previewLen))
		m.releaseAudio(sess)
		m.complete(sess, res)
		return
	}

	if res.DurationSeconds == 0 && resp.Duration > 0 {
		res.DurationSeconds = resp.Duration
	}
	if fields.language == "" {
		fields.language = resp.Language
	}
	if resp.Usage != nil {
		tokens := resp.Usage.TotalTokens
		fields.tokens = &tokens
		fields.cost = resp.Usage.CostUSD
		dbg.SetUsage(&tokens, resp.Usage.CostUSD)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		res.Outcome = OutcomeEmpty
		m.log.Info().Str("session_id", sess.ID).Msg("no speech detected")
		m.recordTelemetry(sess, database.EventSessionCompleted, database.OutcomeEmpty, fields)
		m.notify("No Speech Detected", "Nothing was transcribed.")
		m.releaseAudio(sess)
		m.complete(sess, res)
		return
	}

	res.Outcome = OutcomeSuccess
	res.Text = text

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	id, err := m.opts.Store.InsertTranscription(ctx, database.TranscriptionRow{
		CreatedAt:       m.opts.Now(),
		Backend:         string(sess.Backend.ID),
		DurationSeconds: res.DurationSeconds,
		Text:            text,
	})
	cancel()
	if err != nil {
		res.Warning = err
		metrics.StorageErrorsTotal.WithLabelValues("insert_transcription").Inc()
		m.log.Warn().Err(err).Str("session_id", sess.ID).Msg("transcription not saved to history")
	} else {
		res.RecordID = id
		dbg.Mark(metrics.CheckpointHistoryWritten)
	}

	m.recordTelemetry(sess, database.EventSessionCompleted, database.OutcomeSuccess, fields)

	m.mu.Lock()
	m.lastText = text
	m.mu.Unlock()

	if err := m.opts.Clipboard.Copy(text); err != nil {
		m.log.Warn().Err(err).Msg("clipboard copy failed")
	}
	m.notify("Transcription Ready", notify.Preview(text, previewLen))
	if res.Warning != nil {
		m.notify("History Not Saved", "The text was copied but could not be saved to history.")
	}

	m.log.Info().
		Str("session_id", sess.ID).
		Str("backend", string(sess.Backend.ID)).
		Int64("record_id", res.RecordID).
		Int("text_len", len(text)).
		Float64("audio_s", res.DurationSeconds).
		Float64("transcription_s", res.TranscriptionSeconds).
		Msg("transcription complete")

	m.releaseAudio(sess)
	m.complete(sess, res)
}

func (m *Machine) newResult(sess *Session) Result {
	m.mu.Lock()
	reason := sess.stopReason
	m.mu.Unlock()
	return Result{
		SessionID:  sess.ID,
		StopReason: reason,
		Backend:    sess.Backend.ID,
		StartedAt:  sess.StartedAt,
	}
}

// complete returns the machine to idle and delivers the result.
func (m *Machine) complete(sess *Session, res Result) {
	sess.debug.Mark(metrics.CheckpointSessionFinished)
	res.Debug = sess.debug.Finish()
	res.FinishedAt = m.opts.Now()

	m.mu.Lock()
	if m.current == sess {
		m.current = nil
		m.state = StateIdle
	}
	m.publishStateLocked()
	m.mu.Unlock()

	sess.doneOnce.Do(func() {
		sess.result = res
		close(sess.done)
	})
	metrics.SessionsTotal.WithLabelValues(string(res.Outcome)).Inc()

	if m.opts.Events != nil {
		m.opts.Events.Publish(events.TypeSessionCompleted, res.View())
	}
	if m.opts.OnComplete != nil {
		m.opts.OnComplete(res)
	}
}

// releaseAudio deletes the session recording unless debug mode was on for
// the session, in which case it is moved aside for inspection.
func (m *Machine) releaseAudio(sess *Session) {
	if !sess.settings.DebugMode {
		m.removeAudio(sess.AudioPath)
		return
	}
	kept, err := m.opts.Files.Retain(sess.AudioPath)
	if err != nil {
		m.log.Warn().Err(err).Str("session_id", sess.ID).Str("path", sess.AudioPath).Msg("failed to retain recording")
		return
	}
	sess.debug.SetAudioPath(kept)
	m.log.Info().
		Str("session_id", sess.ID).
		Str("audio_path", kept).
		Msg("debug mode: recording retained")
}

func (m *Machine) removeAudio(path string) {
	if err := m.opts.Files.Remove(path); err != nil {
		m.log.Warn().Err(err).Str("path", path).Msg("failed to delete recording")
	}
}

func (m *Machine) notify(title, body string) {
	if err := m.opts.Notifier.Notify(title, body); err != nil {
		m.log.Debug().Err(err).Str("title", title).Msg("notification failed")
	}
}

func (m *Machine) publishStateLocked() {
	if m.opts.Events == nil {
		return
	}
	m.opts.Events.Publish(events.TypeSessionState, m.statusLocked())
}

type telemetryFields struct {
	audio     *float64
	txTime    *float64
	tokens    *int
	cost      *float64
	language  string
	errorKind string
}

// recordTelemetry writes one usage event if the user has opted in at this
// moment. Failures are logged and counted, never surfaced.
func (m *Machine) recordTelemetry(sess *Session, eventType, outcome string, f telemetryFields) {
	if !m.opts.Settings.Current().TelemetryOptIn {
		return
	}

	ev := database.TelemetryEvent{
		CreatedAt:         m.opts.Now(),
		InstallationID:    m.opts.InstallationID,
		EventType:         eventType,
		Outcome:           outcome,
		Backend:           string(sess.Backend.ID),
		Family:            string(sess.Backend.Family),
		Model:             sess.Backend.Model,
		Language:          f.language,
		AudioDuration:     f.audio,
		TranscriptionTime: f.txTime,
		TokensTotal:       f.tokens,
		CostTotal:         f.cost,
		ErrorKind:         f.errorKind,
	}
	if f.audio != nil && f.txTime != nil && *f.audio > 0 {
		rtf := *f.txTime / *f.audio
		ev.RealtimeFactor = &rtf
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, err := m.opts.Store.InsertTelemetry(ctx, ev); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("insert_telemetry").Inc()
		m.log.Warn().Err(err).Str("event_type", eventType).Msg("telemetry write failed")
	}
}

// ResultView is the wire form of a Result.
type ResultView struct {
	SessionID            string   `json:"session_id"`
	Outcome              Outcome  `json:"outcome"`
	Backend              string   `json:"backend"`
	Text                 string   `json:"text,omitempty"`
	RecordID             int64    `json:"record_id,omitempty"`
	DurationSeconds      float64  `json:"duration_seconds"`
	TranscriptionSeconds float64  `json:"transcription_seconds"`
	Error                string   `json:"error,omitempty"`
	ErrorKind            string   `json:"error_kind,omitempty"`
	Warning              string   `json:"warning,omitempty"`
	RealtimeFactor       *float64 `json:"realtime_factor,omitempty"`
}

// View converts the result for JSON consumers. Backend errors are reduced to
// their user-facing message and kind.
func (res Result) View() ResultView {
	ev := ResultView{
		SessionID:            res.SessionID,
		Outcome:              res.Outcome,
		Backend:              string(res.Backend),
		Text:                 res.Text,
		RecordID:             res.RecordID,
		DurationSeconds:      res.DurationSeconds,
		TranscriptionSeconds: res.TranscriptionSeconds,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
		var be *transcribe.BackendError
		if errors.As(res.Err, &be) {
			ev.Error = be.UserMessage()
			ev.ErrorKind = string(be.Kind)
		}
	}
	if res.Warning != nil {
		ev.Warning = res.Warning.Error()
	}
	if res.Debug != nil {
		rtf := res.Debug.RealtimeFactor
		ev.RealtimeFactor = &rtf
	}
	return ev
}
