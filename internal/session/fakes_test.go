package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otis-dictation/otis/internal/capture"
	"github.com/otis-dictation/otis/internal/database"
	"github.com/otis-dictation/otis/internal/settings"
	"github.com/otis-dictation/otis/internal/transcribe"
)

// fakeSettings is a settings source the test mutates directly.
type fakeSettings struct {
	mu sync.Mutex
	s  settings.Settings
}

func (f *fakeSettings) Current() settings.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeSettings) set(fn func(*settings.Settings)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.s)
}

// fakeCapture writes a placeholder file at the destination and hands out
// controllable handles.
type fakeCapture struct {
	duration  float64
	startErr  error
	stopErr   error
	stopDelay time.Duration

	starts  atomic.Int32
	mu      sync.Mutex
	handles []*fakeHandle
}

func (c *fakeCapture) Start(ctx context.Context, dest string) (capture.Handle, error) {
	c.starts.Add(1)
	if err := os.WriteFile(dest, []byte("RIFF"), 0o600); err != nil {
		return nil, err
	}
	if c.startErr != nil {
		return nil, c.startErr
	}
	h := &fakeHandle{
		path:      dest,
		duration:  c.duration,
		stopErr:   c.stopErr,
		stopDelay: c.stopDelay,
		signals:   make(chan capture.StopReason, 1),
	}
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()
	return h, nil
}

func (c *fakeCapture) last() *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handles) == 0 {
		return nil
	}
	return c.handles[len(c.handles)-1]
}

type fakeHandle struct {
	path      string
	duration  float64
	stopErr   error
	stopDelay time.Duration

	mu      sync.Mutex
	signals chan capture.StopReason
	closed  bool
	stops   int
}

func (h *fakeHandle) Signals() <-chan capture.StopReason { return h.signals }

// silence simulates the recorder ending on trailing silence.
func (h *fakeHandle) silence() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.signals <- capture.StopVoiceActivity
	close(h.signals)
	h.closed = true
}

func (h *fakeHandle) Stop() (capture.Audio, error) {
	// Simulates the recorder flushing the WAV header on a slow device.
	time.Sleep(h.stopDelay)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	if !h.closed {
		close(h.signals)
		h.closed = true
	}
	if h.stopErr != nil {
		return capture.Audio{}, h.stopErr
	}
	return capture.Audio{Path: h.path, DurationSeconds: h.duration}, nil
}

func (h *fakeHandle) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

// fakeProvider returns a canned response. When gate is non-nil each call
// blocks until it is closed.
type fakeProvider struct {
	name string
	resp *transcribe.Response
	err  error
	gate chan struct{}

	mu    sync.Mutex
	calls []transcribe.TranscribeOpts
}

func (p *fakeProvider) Name() string  { return p.name }
func (p *fakeProvider) Model() string { return "fake" }

func (p *fakeProvider) Transcribe(ctx context.Context, path string, opts transcribe.TranscribeOpts) (*transcribe.Response, error) {
	p.mu.Lock()
	p.calls = append(p.calls, opts)
	p.mu.Unlock()
	if p.gate != nil {
		<-p.gate
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.resp, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (n *fakeNotifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
	return nil
}

func (n *fakeNotifier) has(title string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.titles {
		if t == title {
			return true
		}
	}
	return false
}

type fakeClipboard struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (c *fakeClipboard) Copy(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeClipboard) lastCopy() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.texts) == 0 {
		return ""
	}
	return c.texts[len(c.texts)-1]
}

// failingStore fails transcription inserts and delegates telemetry.
type failingStore struct {
	*database.DB
}

func (f failingStore) InsertTranscription(ctx context.Context, r database.TranscriptionRow) (int64, error) {
	return 0, &database.StorageError{Op: "insert transcription", Err: errors.New("disk full")}
}
