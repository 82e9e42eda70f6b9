// Package main provides a spoken-response practice service: learners answer a
// prompt out loud and the trainer records, transcribes and scores the answer.
//
// Usage:
//
//	speaktrainer [-config path/to/config.json]
//
// If -config is not specified, the trainer looks for config.json in the same
// directory as the binary. Files ending in .yaml or .yml are read as YAML.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-speaktrainer/internal/audio"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/config"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/evaluate"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/eventlog"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/ledger"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/notify"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/observe"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/pipeline"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/recorder"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/server"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/storage"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/transcribe"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/types"
	"github.com/oszuidwest/zwfm-speaktrainer/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("speaktrainer %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Snapshot().LogLevel)
	slog.Info("using config file", "path", *configPath, "version", Version)

	if err := run(cfg); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// setupLogging installs the default text logger at level.
func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	snap := cfg.Snapshot()

	shutdownMetrics, err := observe.InitProvider()
	if err != nil {
		return util.WrapError("initialize metrics", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slog.Warn("metrics shutdown error", "error", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	store, err := ledger.Open(ctx, ledger.Options{
		Driver: snap.LedgerDriver,
		DSN:    snap.LedgerDSN,
		Sheet: ledger.SheetConfig{
			TenantID:     snap.Graph.TenantID,
			ClientID:     snap.Graph.ClientID,
			ClientSecret: snap.Graph.ClientSecret,
			DriveID:      snap.Graph.DriveID,
			ItemID:       snap.Graph.ItemID,
			Table:        snap.Graph.Table,
		},
	})
	if err != nil {
		return util.WrapError("open attempt store", err)
	}
	attempts := ledger.New(store)
	defer func() {
		if err := attempts.Close(); err != nil {
			slog.Warn("attempt store close error", "error", err)
		}
	}()
	slog.Info("attempt store ready", "driver", snap.LedgerDriver)

	uploader, mediaDir, err := newUploader(ctx, &snap)
	if err != nil {
		return err
	}

	transcriber, err := transcribe.New(transcribe.Options{
		Provider: snap.TranscriptionProvider,
		APIKey:   snap.TranscriptionAPIKey,
		Model:    snap.TranscriptionModel,
		BaseURL:  snap.TranscriptionBaseURL,
		Timeout:  snap.TranscriptionTimeout,
	})
	if err != nil {
		return util.WrapError("create transcriber", err)
	}

	logPath := snap.EventLogPath
	if logPath == "" {
		logPath = eventlog.DefaultLogPath(snap.WebPort)
	}
	events, err := eventlog.NewLogger(logPath)
	if err != nil {
		slog.Warn("event log disabled", "path", logPath, "error", err)
		events = nil
	}
	defer func() {
		if err := events.Close(); err != nil {
			slog.Warn("event log close error", "error", err)
		}
	}()

	notifier := notify.NewAttemptNotifier(snap.WebhookURL)
	defer notifier.Wait()

	pipe := pipeline.New(pipeline.Deps{
		Ledger:      attempts,
		Uploader:    uploader,
		Transcriber: transcriber,
		Evaluator:   evaluate.New(snap.MaxLatency),
		Metrics:     metrics,
		Events:      events,
		Notifier:    notifier,
		Namespace:   snap.StorageNamespace,
		Language:    snap.Language,
	})

	ffmpegPath := util.ResolveFFmpegPath(snap.FFmpegPath)
	capture := captureAvailable(snap.AudioInput, ffmpegPath)
	if !capture {
		slog.Warn("no capture command found, microphone recording disabled")
	}

	mic := server.NewMicrophone(server.MicrophoneDeps{
		Config: cfg,
		Devices: func(input string) recorder.Device {
			return &audio.CommandDevice{Input: input, FFmpegPath: ffmpegPath}
		},
		Submitter: pipe,
		Metrics:   metrics,
		Events:    events,
	})
	defer mic.Close()

	version := NewVersionChecker()
	srv := NewServer(ServerDeps{
		Config:   cfg,
		Attempts: pipe,
		Mic:      mic,
		Version:  version,
		Metrics:  metrics,
		EventLog: logPath,
		MediaDir: mediaDir,
		Capture:  capture,
	})
	httpServer := srv.HTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting web server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return version.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		// Release the microphone before the server stops accepting results.
		mic.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newUploader creates the recording uploader and, in local mode, returns the
// directory to serve under /media/.
func newUploader(ctx context.Context, snap *config.Snapshot) (storage.Uploader, string, error) {
	opts := storage.Options{
		Mode:     snap.StorageMode,
		LocalDir: snap.LocalPath,
		LocalURL: snap.PublicBaseURL,
		S3: storage.S3Config{
			Endpoint:        snap.S3Endpoint,
			Region:          snap.S3Region,
			Bucket:          snap.S3Bucket,
			AccessKeyID:     snap.S3AccessKeyID,
			SecretAccessKey: snap.S3SecretKey,
			PublicBaseURL:   snap.PublicBaseURL,
		},
	}
	if opts.Mode == storage.ModeLocal && opts.LocalURL == "" {
		opts.LocalURL = fmt.Sprintf("http://localhost:%d/media", snap.WebPort)
	}

	uploader, err := storage.New(opts)
	if err != nil {
		return nil, "", util.WrapError("create uploader", err)
	}

	switch u := uploader.(type) {
	case *storage.S3Uploader:
		if err := u.Check(ctx); err != nil {
			slog.Warn("S3 bucket check failed", "bucket", snap.S3Bucket, "error", err)
		}
		return u, "", nil
	case *storage.LocalUploader:
		return u, u.Dir(), nil
	default:
		return uploader, "", nil
	}
}

// captureAvailable reports whether the platform capture command can be run.
func captureAvailable(input, ffmpegPath string) bool {
	name, _, err := audio.BuildCaptureCommand(input, ffmpegPath)
	if err != nil {
		return false
	}
	_, err = exec.LookPath(name)
	return err == nil
}
