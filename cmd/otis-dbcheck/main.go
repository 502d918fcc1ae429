package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	otis "github.com/otis-dictation/otis"
	"github.com/otis-dictation/otis/internal/config"
	"github.com/otis-dictation/otis/internal/database"
	"github.com/otis-dictation/otis/internal/storage"
)

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "otis data directory")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	files := storage.NewLocalStore(cfg.TempDir())

	if flag.Arg(0) == "purge-temp" {
		dryRun := flag.Arg(1) != "apply"
		purgeTemp(files, dryRun)
		return
	}

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.HistoryPath(), zerolog.Nop())
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.InitSchema(ctx, otis.SchemaSQL); err != nil {
		fmt.Fprintln(os.Stderr, "schema:", err)
		os.Exit(1)
	}

	if flag.Arg(0) == "telemetry" {
		listTelemetry(ctx, db)
		return
	}

	// Default: table counts
	stats, err := db.GetStats(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stats:", err)
		os.Exit(1)
	}
	fmt.Printf("Database: %s\n\n", db.Path())
	fmt.Println("Table                    Count      Unsynced")
	fmt.Println("─────────────────────────────────────────────")
	fmt.Printf("%-25s %-10d %d\n", "transcriptions", stats.Transcriptions, stats.Unsynced)
	fmt.Printf("%-25s %-10d %d\n", "telemetry_events", stats.TelemetryEvents, stats.UnsyncedTelemetry)
	fmt.Printf("\nTotal audio transcribed: %s\n", time.Duration(stats.TotalAudioSeconds*float64(time.Second)).Round(time.Second))

	leftovers, err := files.Leftovers()
	if err != nil {
		fmt.Fprintln(os.Stderr, "temp audio:", err)
		os.Exit(1)
	}
	fmt.Printf("\n── Leftover Temp Audio (%s) ──\n", files.Dir())
	printLeftovers(leftovers)
	fmt.Printf("\nDebug-mode recordings are kept in %s and not counted.\n", files.DebugDir())
}

func listTelemetry(ctx context.Context, db *database.DB) {
	fmt.Println("── Unsynced Successful Sessions (oldest first) ──")
	events, err := db.ListUnsyncedTelemetry(ctx, 50)
	if err != nil {
		fmt.Fprintln(os.Stderr, "telemetry:", err)
		os.Exit(1)
	}
	if len(events) == 0 {
		fmt.Println("  none")
		return
	}
	for _, e := range events {
		dur := "-"
		if e.AudioDuration != nil {
			dur = fmt.Sprintf("%.2fs", *e.AudioDuration)
		}
		fmt.Printf("  #%d %s %-14s %-8s audio=%s\n",
			e.ID, e.CreatedAt.Format(time.RFC3339), e.Backend, e.Outcome, dur)
	}
}

func purgeTemp(files *storage.LocalStore, dryRun bool) {
	leftovers, err := files.Leftovers()
	if err != nil {
		fmt.Fprintln(os.Stderr, "temp audio:", err)
		os.Exit(1)
	}
	printLeftovers(leftovers)
	if len(leftovers) == 0 {
		return
	}
	if dryRun {
		fmt.Println("\nDry run. Stop otisd, then pass 'apply' to delete these files.")
		return
	}

	var removed int
	for _, l := range leftovers {
		if err := files.Remove(l.Path); err != nil {
			fmt.Printf("  failed: %s: %v\n", l.Path, err)
			continue
		}
		removed++
	}
	fmt.Printf("\nRemoved %d of %d file(s)\n", removed, len(leftovers))
}

func printLeftovers(leftovers []storage.Leftover) {
	if len(leftovers) == 0 {
		fmt.Println("  none")
		return
	}
	var total int64
	for _, l := range leftovers {
		total += l.Size
		fmt.Printf("  %s  %8d bytes  %s\n", l.ModTime.Format(time.RFC3339), l.Size, l.Path)
	}
	fmt.Printf("  %d file(s), %d bytes\n", len(leftovers), total)
}
