package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultStopGrace is how long Stop waits after SIGINT before killing the
// recorder.
const DefaultStopGrace = 2 * time.Second

// RecorderOptions configures the sox recorder.
type RecorderOptions struct {
	Command        string  // "rec" from sox
	SampleRate     int     // Hz, mono 16-bit
	SilenceSeconds float64 // trailing silence that ends the recording
	Threshold      string  // sox silence threshold, e.g. "1%"
	MaxSeconds     float64 // hard cap on recording length; 0 disables
	StopGrace      time.Duration
	Log            zerolog.Logger
}

// Recorder runs sox's rec with the silence effect as a voice activity
// detector: recording begins at the first sound and ends after
// SilenceSeconds of quiet.
type Recorder struct {
	opts RecorderOptions
	log  zerolog.Logger
}

// NewRecorder creates a recorder. Zero-valued options get defaults.
func NewRecorder(opts RecorderOptions) *Recorder {
	if opts.Command == "" {
		opts.Command = "rec"
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.SilenceSeconds <= 0 {
		opts.SilenceSeconds = 2.5
	}
	if opts.Threshold == "" {
		opts.Threshold = "1%"
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	return &Recorder{opts: opts, log: opts.Log}
}

// Available reports whether the recorder command is in PATH.
func (r *Recorder) Available() error {
	if _, err := exec.LookPath(r.opts.Command); err != nil {
		return fmt.Errorf("%s not found in PATH (install sox): %w", r.opts.Command, err)
	}
	return nil
}

// Args returns the rec argument list for destPath.
func (r *Recorder) Args(destPath string) []string {
	secs := strconv.FormatFloat(r.opts.SilenceSeconds, 'f', -1, 64)
	args := []string{
		"-q",
		"-c", "1",
		"-r", strconv.Itoa(r.opts.SampleRate),
		"-b", "16",
		destPath,
		"silence", "1", "0.1", r.opts.Threshold, "1", secs, r.opts.Threshold,
	}
	if r.opts.MaxSeconds > 0 {
		args = append(args, "trim", "0", strconv.FormatFloat(r.opts.MaxSeconds, 'f', -1, 64))
	}
	return args
}

// Start launches the recorder writing to destPath. The process is not tied to
// ctx: it outlives the request that started it and ends via VAD or Stop.
func (r *Recorder) Start(ctx context.Context, destPath string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(r.opts.Command, r.Args(destPath)...)
	cmd.WaitDelay = r.opts.StopGrace
	p := &process{
		cmd:     cmd,
		path:    destPath,
		grace:   r.opts.StopGrace,
		signals: make(chan StopReason, 1),
		exited:  make(chan struct{}),
		log:     r.log,
	}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.opts.Command, err)
	}
	r.log.Debug().
		Int("pid", cmd.Process.Pid).
		Str("path", destPath).
		Msg("recorder started")

	go p.wait()
	return p, nil
}

// process is a running rec invocation.
type process struct {
	cmd   *exec.Cmd
	path  string
	grace time.Duration
	log   zerolog.Logger

	stderr  lockedBuffer
	signals chan StopReason
	exited  chan struct{}
	waitErr error

	mu          sync.Mutex
	interrupted bool

	stopOnce sync.Once
	audio    Audio
	stopErr  error
}

func (p *process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)

	p.mu.Lock()
	manual := p.interrupted
	p.mu.Unlock()
	if !manual {
		p.signals <- StopVoiceActivity
	}
	close(p.signals)
}

func (p *process) Signals() <-chan StopReason { return p.signals }

func (p *process) Stop() (Audio, error) {
	p.stopOnce.Do(func() {
		p.audio, p.stopErr = p.stop()
	})
	return p.audio, p.stopErr
}

func (p *process) stop() (Audio, error) {
	select {
	case <-p.exited:
	default:
		p.mu.Lock()
		p.interrupted = true
		p.mu.Unlock()

		if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.log.Warn().Err(err).Msg("failed to interrupt recorder, killing")
			p.cmd.Process.Kill()
		}
		timer := time.NewTimer(p.grace)
		defer timer.Stop()
		select {
		case <-p.exited:
		case <-timer.C:
			p.log.Warn().Dur("grace", p.grace).Msg("recorder ignored interrupt, killing")
			p.cmd.Process.Kill()
			<-p.exited
		}
	}

	p.mu.Lock()
	manual := p.interrupted
	p.mu.Unlock()

	// An interrupted rec exits non-zero; only a failure of its own counts.
	if p.waitErr != nil && !manual {
		return Audio{}, fmt.Errorf("recorder failed: %w: %s", p.waitErr, strings.TrimSpace(p.stderr.String()))
	}

	secs, err := WAVDuration(p.path)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Path: p.path, DurationSeconds: secs}, nil
}

// lockedBuffer is a bytes.Buffer safe for the exec copier goroutine and
// readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() > 4096 {
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
