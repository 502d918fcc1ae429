package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	otis "github.com/otis-dictation/otis"
	"github.com/otis-dictation/otis/internal/api"
	"github.com/otis-dictation/otis/internal/capture"
	"github.com/otis-dictation/otis/internal/config"
	"github.com/otis-dictation/otis/internal/database"
	"github.com/otis-dictation/otis/internal/events"
	"github.com/otis-dictation/otis/internal/metrics"
	"github.com/otis-dictation/otis/internal/notify"
	"github.com/otis-dictation/otis/internal/session"
	"github.com/otis-dictation/otis/internal/settings"
	"github.com/otis-dictation/otis/internal/storage"
	"github.com/otis-dictation/otis/internal/transcribe"
)

var version = "dev"

const eventRingSize = 256

// liveStats feeds scrape-time gauges from the running daemon.
type liveStats struct {
	machine *session.Machine
	bus     *events.Bus
}

func (l liveStats) SessionState() string    { return l.machine.SessionState() }
func (l liveStats) SSESubscriberCount() int { return l.bus.SubscriberCount() }

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "control API listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "directory for history, settings and temp audio")
	flag.BoolVar(&overrides.Debug, "debug", false, "force debug mode on")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("data_dir", cfg.DataDir).Msg("otisd starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Open(ctx, cfg.HistoryPath(), dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open history database")
	}
	defer db.Close()
	if err := db.InitSchema(ctx, otis.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}

	installID, err := config.InstallationID(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load installation id")
	}

	bus := events.NewBus(eventRingSize)

	// Settings
	settingsLog := log.With().Str("component", "settings").Logger()
	mgr := settings.NewManager(settings.ManagerOptions{
		Store:      settings.NewFileStore(cfg.SettingsPath()),
		ForceDebug: cfg.Debug,
		Log:        settingsLog,
	})
	current, err := mgr.Load()
	if err != nil {
		settingsLog.Error().Err(err).Msg("failed to read settings, using defaults")
	}
	mgr.OnChange(func(s settings.Settings) {
		bus.Publish(events.TypeSettingsChanged, s)
	})
	watcher := settings.NewWatcher(mgr, cfg.SettingsPath(), settingsLog)
	if err := watcher.Start(); err != nil {
		settingsLog.Warn().Err(err).Msg("settings hot reload disabled")
	} else {
		defer watcher.Stop()
	}

	// Backends
	registry := transcribe.NewDefaultRegistry(cfg)
	for _, st := range registry.Statuses() {
		log.Info().
			Str("backend", string(st.ID)).
			Str("model", st.Model).
			Bool("ready", st.Ready).
			Str("reason", st.Reason).
			Msg("backend registered")
	}
	log.Info().Str("backend", string(transcribe.ResolveID(current))).Msg("active backend")

	// Capture
	captureLog := log.With().Str("component", "capture").Logger()
	recorder := capture.NewRecorder(capture.RecorderOptions{
		Command:        cfg.Recorder.Command,
		SampleRate:     cfg.Recorder.SampleRate,
		SilenceSeconds: cfg.Recorder.SilenceSeconds,
		Threshold:      cfg.Recorder.Threshold,
		MaxSeconds:     cfg.Recorder.MaxSeconds,
		Log:            captureLog,
	})
	if err := recorder.Available(); err != nil {
		captureLog.Warn().Err(err).Msg("recorder not available, sessions will fail to start")
	}

	files := storage.NewLocalStore(cfg.TempDir())
	if leftovers, err := files.Leftovers(); err != nil {
		log.Warn().Err(err).Msg("failed to scan temp audio")
	} else if len(leftovers) > 0 {
		var total int64
		for _, l := range leftovers {
			total += l.Size
		}
		log.Warn().
			Int("files", len(leftovers)).
			Int64("bytes", total).
			Str("dir", files.Dir()).
			Msg("leftover temp audio found, run otis-dbcheck purge-temp to remove it")
	}

	// Desktop adapters
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notifications {
		notifier = notify.NewDesktop("")
	}
	var clip notify.Clipboard = notify.Nop{}
	if cfg.Clipboard {
		sys := notify.SystemClipboard{}
		if sys.Available() {
			clip = sys
		} else {
			log.Warn().Msg("no clipboard utility found, transcriptions will not be copied")
		}
	}

	// Session machine
	debug := metrics.NewDebugCollector(log.With().Str("component", "debug").Logger())
	machine := session.NewMachine(session.Options{
		Settings:       mgr,
		Backends:       registry,
		Capture:        recorder,
		Store:          db,
		Files:          files,
		Notifier:       notifier,
		Clipboard:      clip,
		Debug:          debug,
		Events:         bus,
		InstallationID: installID,
		Log:            log.With().Str("component", "session").Logger(),
	})

	prometheus.MustRegister(metrics.NewCollector(db.SQL, liveStats{machine: machine, bus: bus}))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.ServerOptions{
		Session:   machine,
		History:   db,
		Settings:  mgr,
		Backends:  registry,
		Events:    bus,
		Recorder:  recorder,
		Debug:     debug,
		Version:   version,
		StartTime: startTime,
	}, httpLog)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")

		// Graceful shutdown with 10s timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := machine.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("session shutdown error")
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("http server error")
	}

	log.Info().Msg("otisd stopped")
}
