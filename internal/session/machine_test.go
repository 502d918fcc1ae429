package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	otis "github.com/otis-dictation/otis"
	"github.com/otis-dictation/otis/internal/capture"
	"github.com/otis-dictation/otis/internal/database"
	"github.com/otis-dictation/otis/internal/events"
	"github.com/otis-dictation/otis/internal/metrics"
	"github.com/otis-dictation/otis/internal/settings"
	"github.com/otis-dictation/otis/internal/storage"
	"github.com/otis-dictation/otis/internal/transcribe"
)

type harness struct {
	m        *Machine
	db       *database.DB
	settings *fakeSettings
	capture  *fakeCapture
	provider *fakeProvider
	registry *transcribe.Registry
	notifier *fakeNotifier
	clip     *fakeClipboard
	bus      *events.Bus
	tempDir  string
}

type harnessOption func(*harness, *Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.MemoryPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(ctx, otis.SchemaSQL))
	t.Cleanup(func() { db.Close() })

	h := &harness{
		db: db,
		settings: &fakeSettings{s: settings.Settings{
			DeploymentMode: settings.ModeLocal,
			CloudProvider:  settings.ProviderGemini,
			Language:       settings.LanguageEnglish,
			ModelSize:      settings.ModelBase,
		}},
		capture:  &fakeCapture{duration: 2.34},
		provider: &fakeProvider{name: "whisper", resp: &transcribe.Response{Text: "hello world", Language: "en"}},
		registry: transcribe.NewRegistry(),
		notifier: &fakeNotifier{},
		clip:     &fakeClipboard{},
		bus:      events.NewBus(32),
		tempDir:  t.TempDir(),
	}
	h.registry.Register(transcribe.Descriptor{
		ID:          transcribe.BackendWhisperBase,
		DisplayName: "Whisper Base (Local)",
		Family:      transcribe.FamilyLocal,
		Model:       "base",
	}, h.provider)
	h.registry.Register(transcribe.Descriptor{
		ID:          transcribe.BackendGemini,
		DisplayName: "Gemini (Cloud)",
		Family:      transcribe.FamilyCloud,
		Model:       "gemini-2.5-flash-lite",
		Ready:       func() error { return errors.New("GOOGLE_API_KEY is not set") },
	}, &fakeProvider{name: "gemini"})

	o := Options{
		Settings:       h.settings,
		Backends:       h.registry,
		Capture:        h.capture,
		Store:          db,
		Files:          storage.NewLocalStore(h.tempDir),
		Notifier:       h.notifier,
		Clipboard:      h.clip,
		Debug:          metrics.NewDebugCollector(zerolog.Nop()),
		Events:         h.bus,
		InstallationID: "install-test",
		Log:            zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(h, &o)
	}
	h.m = NewMachine(o)
	return h
}

func (h *harness) waitResult(t *testing.T, s *Session) Result {
	t.Helper()
	select {
	case <-s.Done():
		return s.Result()
	case <-time.After(5 * time.Second):
		t.Fatal("session did not complete")
		return Result{}
	}
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.Status().State == want },
		5*time.Second, 5*time.Millisecond, "state never became %s", want)
}

func (h *harness) countRows(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, h.db.SQL.QueryRow(query, args...).Scan(&n))
	return n
}

func (h *harness) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestHelloWorld_LocalBase(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *settings.Settings) { s.TelemetryOptIn = true })

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateRecording, h.m.Status().State)
	assert.Equal(t, filepath.Join(h.tempDir, s.ID+".wav"), s.AudioPath)

	h.capture.last().silence()
	res := h.waitResult(t, s)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, capture.StopVoiceActivity, res.StopReason)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, transcribe.BackendWhisperBase, res.Backend)
	assert.NoError(t, res.Err)
	assert.Nil(t, res.Debug, "debug off produces no report")

	recs, err := h.db.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, res.RecordID, recs[0].ID)
	assert.Equal(t, "hello world", recs[0].Text)
	assert.Equal(t, "whisper-base", recs[0].Backend)
	assert.Equal(t, 2.34, recs[0].DurationSeconds)
	assert.Nil(t, recs[0].SyncedAt)

	require.Equal(t, 1, h.provider.callCount())
	assert.Equal(t, "en", h.provider.calls[0].Language, "local backend gets the language hint")

	assert.Equal(t, "hello world", h.clip.lastCopy())
	assert.True(t, h.notifier.has("Transcription Ready"))
	assert.Empty(t, h.tempFiles(t), "temp audio removed")
	assert.Equal(t, StateIdle, h.m.Status().State)

	text, ok := h.m.Last()
	assert.True(t, ok)
	assert.Equal(t, "hello world", text)

	assert.Equal(t, 1, h.countRows(t, `SELECT count(*) FROM telemetry_events WHERE outcome = 'success'`))
	assert.Equal(t, 1, h.countRows(t,
		`SELECT count(*) FROM telemetry_events WHERE outcome = 'success' AND backend = 'whisper-base' AND audio_duration = 2.34`))
}

func TestConcurrentStart_SingleWinner(t *testing.T) {
	h := newHarness(t)

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []*Session
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s, err := h.m.Start(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, s)
				return
			}
			var ae *AlreadyActiveError
			if assert.ErrorAs(t, err, &ae) {
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, rejected)
	assert.EqualValues(t, 1, h.capture.starts.Load())

	require.True(t, h.m.Stop())
	res := h.waitResult(t, winners[0])
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestStart_MissingCredential(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *settings.Settings) {
		s.DeploymentMode = settings.ModeCloud
		s.CloudProvider = settings.ProviderGemini
	})

	s, err := h.m.Start(context.Background())
	require.Error(t, err)
	assert.Nil(t, s)

	var ce *transcribe.ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, transcribe.BackendGemini, ce.Backend)

	assert.Zero(t, h.capture.starts.Load(), "capture never started")
	assert.Empty(t, h.tempFiles(t), "no temp file created")
	assert.Equal(t, StateIdle, h.m.Status().State)
	assert.True(t, h.notifier.has("Configuration Error"))
}

func TestStart_CaptureFailure(t *testing.T) {
	h := newHarness(t)
	h.capture.startErr = errors.New("no input device")

	_, err := h.m.Start(context.Background())
	var capErr *CaptureError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, StateIdle, h.m.Status().State)
	assert.Empty(t, h.tempFiles(t), "partial file removed")

	// The machine is usable again.
	h.capture.startErr = nil
	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.m.Stop()
	h.waitResult(t, s)
}

func TestLateManualStop_IsNoop(t *testing.T) {
	h := newHarness(t)
	h.provider.gate = make(chan struct{})

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)

	h.capture.last().silence()
	h.waitState(t, StateTranscribing)

	assert.False(t, h.m.Stop(), "stop after VAD is a no-op")
	assert.False(t, h.m.Cancel(), "cancel while transcribing is a no-op")

	close(h.provider.gate)
	res := h.waitResult(t, s)
	assert.Equal(t, capture.StopVoiceActivity, res.StopReason)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, h.countRows(t, `SELECT count(*) FROM transcriptions`))
	assert.Equal(t, 1, h.provider.callCount())

	assert.False(t, h.m.Stop(), "stop while idle is a no-op")
}

func TestManualStop_ThenLateVAD(t *testing.T) {
	h := newHarness(t)
	h.provider.gate = make(chan struct{})

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	handle := h.capture.last()

	require.True(t, h.m.Stop())
	assert.Equal(t, StateTranscribing, h.m.Status().State)
	handle.silence()

	close(h.provider.gate)
	res := h.waitResult(t, s)
	assert.Equal(t, capture.StopManual, res.StopReason)
	assert.Equal(t, 1, h.countRows(t, `SELECT count(*) FROM transcriptions`))
	assert.Equal(t, 1, handle.stopCount())
}

func TestBackendTimeout(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *settings.Settings) { s.TelemetryOptIn = true })
	h.provider.err = &transcribe.BackendError{
		Kind:     transcribe.KindTimeout,
		Provider: "whisper",
		Err:      context.DeadlineExceeded,
	}

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.capture.last().silence()
	res := h.waitResult(t, s)

	assert.Equal(t, OutcomeFailure, res.Outcome)
	var be *transcribe.BackendError
	require.ErrorAs(t, res.Err, &be)
	assert.Equal(t, transcribe.KindTimeout, be.Kind)

	assert.Equal(t, StateIdle, h.m.Status().State)
	assert.Zero(t, h.countRows(t, `SELECT count(*) FROM transcriptions`))
	assert.Equal(t, 1, h.countRows(t,
		`SELECT count(*) FROM telemetry_events WHERE outcome = 'failure' AND error_kind = 'timeout'`))
	assert.Equal(t, 1, h.countRows(t,
		`SELECT count(*) FROM telemetry_events WHERE event_type = 'session_failed'`))
	assert.True(t, h.notifier.has("Transcription Error"))
	assert.Empty(t, h.tempFiles(t))
	assert.Empty(t, h.clip.lastCopy())
}

func TestBackendPlainError_IsClassified(t *testing.T) {
	h := newHarness(t)
	h.provider.err = errors.New("connection refused")

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.m.Stop()
	res := h.waitResult(t, s)

	var be *transcribe.BackendError
	require.ErrorAs(t, res.Err, &be)
	assert.Equal(t, transcribe.KindNetwork, be.Kind)
	assert.Equal(t, string(transcribe.KindNetwork), res.View().ErrorKind)
}

func TestTelemetryOptInToggle(t *testing.T) {
	h := newHarness(t)
	run := func() {
		s, err := h.m.Start(context.Background())
		require.NoError(t, err)
		h.capture.last().silence()
		h.waitResult(t, s)
	}

	run()
	assert.Zero(t, h.countRows(t, `SELECT count(*) FROM telemetry_events`), "opted out: nothing written")

	h.settings.set(func(s *settings.Settings) { s.TelemetryOptIn = true })
	run()
	assert.Equal(t, 2, h.countRows(t, `SELECT count(*) FROM telemetry_events`), "started + completed")
	assert.Equal(t, 1, h.countRows(t,
		`SELECT count(*) FROM telemetry_events WHERE outcome = 'success' AND installation_id = 'install-test'`))

	h.settings.set(func(s *settings.Settings) { s.TelemetryOptIn = false })
	run()
	assert.Equal(t, 2, h.countRows(t, `SELECT count(*) FROM telemetry_events`), "opting out keeps old events")
	assert.Equal(t, 3, h.countRows(t, `SELECT count(*) FROM transcriptions`))

	// Telemetry rows never carry text.
	assert.Zero(t, h.countRows(t,
		`SELECT count(*) FROM telemetry_events WHERE backend LIKE '%hello%' OR model LIKE '%hello%'`))
}

func TestEmptyTranscription(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *settings.Settings) { s.TelemetryOptIn = true })
	h.provider.resp = &transcribe.Response{Text: "  \n "}

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.capture.last().silence()
	res := h.waitResult(t, s)

	assert.Equal(t, OutcomeEmpty, res.Outcome)
	assert.Zero(t, res.RecordID)
	assert.Zero(t, h.countRows(t, `SELECT count(*) FROM transcriptions`))
	assert.Equal(t, 1, h.countRows(t, `SELECT count(*) FROM telemetry_events WHERE outcome = 'empty'`))
	assert.True(t, h.notifier.has("No Speech Detected"))
	_, ok := h.m.Last()
	assert.False(t, ok)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	require.True(t, h.m.Cancel())
	res := h.waitResult(t, s)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Zero(t, h.provider.callCount())
	assert.Zero(t, h.countRows(t, `SELECT count(*) FROM transcriptions`))
	assert.Empty(t, h.tempFiles(t))
	assert.Equal(t, 1, h.capture.last().stopCount())
}

func TestCancelThenStop_StaysCancelled(t *testing.T) {
	h := newHarness(t)
	h.capture.stopDelay = 200 * time.Millisecond

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	require.True(t, h.m.Cancel())
	assert.False(t, h.m.Stop(), "stop after cancel is a no-op")
	assert.False(t, h.m.Cancel(), "second cancel is a no-op")
	res := h.waitResult(t, s)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Zero(t, h.provider.callCount())
	assert.Zero(t, h.countRows(t, `SELECT count(*) FROM transcriptions`))
	assert.Equal(t, 1, h.capture.last().stopCount())
	assert.Equal(t, StateIdle, h.m.Status().State)
}

func TestCancelThenShutdown(t *testing.T) {
	h := newHarness(t)
	h.capture.stopDelay = 200 * time.Millisecond

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	require.True(t, h.m.Cancel())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NotPanics(t, func() { require.NoError(t, h.m.Shutdown(ctx)) })

	assert.Equal(t, OutcomeCancelled, s.Result().Outcome)
	assert.Zero(t, h.provider.callCount())
}

func TestDebugMode_RetainsAudioAndReports(t *testing.T) {
	h := newHarness(t)
	h.settings.set(func(s *settings.Settings) { s.DebugMode = true })

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.capture.last().silence()
	res := h.waitResult(t, s)

	require.NotNil(t, res.Debug)
	assert.Equal(t, s.ID, res.Debug.SessionID)
	assert.Equal(t, 2.34, res.Debug.DurationSeconds)
	kept := filepath.Join(h.tempDir, "debug", s.ID+".wav")
	assert.Equal(t, kept, res.Debug.AudioPath)
	assert.Nil(t, res.Debug.TokenCount)
	assert.FileExists(t, kept, "debug mode keeps the recording")
	assert.NoFileExists(t, s.AudioPath)

	leftovers, err := storage.NewLocalStore(h.tempDir).Leftovers()
	require.NoError(t, err)
	assert.Empty(t, leftovers, "retained recordings are not crash leftovers")
}

func TestCloudBackend_UsageAndNoLanguageHint(t *testing.T) {
	cost := 0.0004
	cloud := &fakeProvider{name: "gemini", resp: &transcribe.Response{
		Text:  "bonjour",
		Usage: &transcribe.Usage{InputTokens: 1000, OutputTokens: 200, TotalTokens: 1200, CostUSD: &cost},
	}}
	h := newHarness(t, func(h *harness, o *Options) {
		h.registry.Register(transcribe.Descriptor{
			ID:     transcribe.BackendGemini,
			Family: transcribe.FamilyCloud,
			Model:  "gemini-2.5-flash-lite",
		}, cloud)
	})
	h.settings.set(func(s *settings.Settings) {
		s.DeploymentMode = settings.ModeCloud
		s.Language = settings.LanguageFrench
		s.TelemetryOptIn = true
		s.DebugMode = true
	})

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.m.Stop()
	res := h.waitResult(t, s)

	require.Equal(t, OutcomeSuccess, res.Outcome)
	require.Equal(t, 1, cloud.callCount())
	assert.Empty(t, cloud.calls[0].Language, "cloud providers detect the language")
	require.NotNil(t, res.Debug.TokenCount)
	assert.Equal(t, 1200, *res.Debug.TokenCount)
	assert.Equal(t, 1, h.countRows(t,
		`SELECT count(*) FROM telemetry_events WHERE tokens_total = 1200 AND family = 'cloud'`))
}

func TestStorageFailure_StillDelivers(t *testing.T) {
	h := newHarness(t, func(h *harness, o *Options) {
		o.Store = failingStore{h.db}
	})

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.capture.last().silence()
	res := h.waitResult(t, s)

	assert.Equal(t, OutcomeSuccess, res.Outcome)
	var se *database.StorageError
	require.ErrorAs(t, res.Warning, &se)
	assert.Zero(t, res.RecordID)
	assert.Equal(t, "hello world", h.clip.lastCopy())
	assert.True(t, h.notifier.has("History Not Saved"))
}

func TestCaptureStopFailure(t *testing.T) {
	h := newHarness(t)
	h.capture.stopErr = errors.New("recorder failed: device lost")

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.capture.last().silence()
	res := h.waitResult(t, s)

	assert.Equal(t, OutcomeFailure, res.Outcome)
	var capErr *CaptureError
	assert.ErrorAs(t, res.Err, &capErr)
	assert.Zero(t, h.provider.callCount())
	assert.Equal(t, StateIdle, h.m.Status().State)
}

func TestCopyLast(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.CopyLast()
	assert.ErrorIs(t, err, ErrNoTranscription)

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.m.Stop()
	h.waitResult(t, s)

	h.clip.texts = nil
	text, err := h.m.CopyLast()
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "hello world", h.clip.lastCopy())
}

func TestOnCompleteAndEvents(t *testing.T) {
	got := make(chan Result, 1)
	h := newHarness(t, func(h *harness, o *Options) {
		o.OnComplete = func(r Result) { got <- r }
	})
	ch, cancel := h.bus.Subscribe(events.Filter{Types: []string{events.TypeSessionCompleted}})
	defer cancel()

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)
	h.m.Stop()

	select {
	case r := <-got:
		assert.Equal(t, s.ID, r.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("OnComplete not called")
	}
	select {
	case e := <-ch:
		assert.Contains(t, string(e.Data), s.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no session_completed event")
	}
}

func TestShutdown_CancelsRecording(t *testing.T) {
	h := newHarness(t)

	s, err := h.m.Start(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.m.Shutdown(ctx))

	assert.Equal(t, OutcomeCancelled, s.Result().Outcome)
	_, err = h.m.Start(context.Background())
	assert.ErrorIs(t, err, ErrShuttingDown)
}
