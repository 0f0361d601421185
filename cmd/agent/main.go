package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clipstudio/clipstudio-agent/internal/api"
	"github.com/clipstudio/clipstudio-agent/internal/cloud"
	"github.com/clipstudio/clipstudio-agent/internal/compose"
	"github.com/clipstudio/clipstudio-agent/internal/config"
	"github.com/clipstudio/clipstudio-agent/internal/db"
	"github.com/clipstudio/clipstudio-agent/internal/export"
	"github.com/clipstudio/clipstudio-agent/internal/jobs"
	"github.com/clipstudio/clipstudio-agent/internal/logging"
	"github.com/clipstudio/clipstudio-agent/internal/media"
	"github.com/clipstudio/clipstudio-agent/internal/pipelines"
	"github.com/clipstudio/clipstudio-agent/internal/playback"
	"github.com/clipstudio/clipstudio-agent/internal/render"
	"github.com/clipstudio/clipstudio-agent/internal/ui"
)

var Version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.OutputDir(), cfg.VaultDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipstudio agent", "version", Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	deviceID, err := ensureSecret(database, "device_id", 16)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureSecret(database, api.AuthTokenKey, 32)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                 CLIPSTUDIO AGENT v%-23s ║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Printf("║  Exports:    %-45s ║\n", logging.SanitizePath(cfg.OutputDir()))
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	fonts, err := compose.LoadFonts(cfg.FontPath())
	if err != nil {
		return fmt.Errorf("failed to load caption font: %w", err)
	}
	defer fonts.Close()

	compositor := compose.NewCompositor(fonts, logger)
	controller := render.NewController(compositor, logger)

	store := cloud.NewStore(cfg.CloudBaseURL(), cfg.CloudToken(), cfg.VaultDir(), logger)
	if hs, ok := store.(*cloud.HTTPStore); ok {
		hs.SetDeviceID(deviceID)
		logger.Info("encrypted exports go to cloud storage", "base_url", cfg.CloudBaseURL())
	} else {
		logger.Info("encrypted exports stay in the local vault", "vault_dir", logging.SanitizePath(cfg.VaultDir()))
	}
	pipeline := export.NewPipeline(store, cfg.OutputDir(), cfg.KDFIterations(), logger)

	analyzer, doctor := newAnalyzer(cfg, logger)

	exports := jobs.NewService(
		jobs.NewRepository(database.Conn()),
		controller,
		pipeline,
		analyzer,
		jobs.OpenFile,
		func(format string) (render.SinkFactory, error) {
			return media.NewSinkFactory(format, media.SinkOptions{})
		},
		jobs.Config{
			FrameRate:     cfg.FrameRate(),
			SeekTimeout:   cfg.SeekTimeout(),
			SignalTimeout: cfg.SignalTimeout(),
			DefaultFormat: cfg.DefaultFormat(),
		},
		logger,
	)

	apiServer := api.NewServer(api.ServerConfig{
		Port:        cfg.Port(),
		Exports:     exports,
		Downloads:   playback.NewServer(logger),
		Config:      database,
		Doctor:      doctor,
		Links:       api.NewLinkSigner(string(cfg.DownloadSecret()), cfg.DownloadTTL()),
		CORSOrigins: cfg.CORSOrigins(),
		Logger:      logger,
		StartTime:   startTime,
		DeviceID:    deviceID,
		Version:     Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})
	quit := func() {
		select {
		case <-quitCh:
		default:
			close(quitCh)
		}
	}

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	var tray *ui.Tray
	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray = ui.NewTray(ui.TrayConfig{
			Exports:   exports,
			OutputDir: cfg.OutputDir(),
			Logger:    logger,
			OnQuit:    quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := exports.Shutdown(shutdownCtx); err != nil {
		logger.Error("exports did not stop in time", "error", err)
	}
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.Error("render controller did not stop in time", "error", err)
	}
	if tray != nil {
		tray.Quit()
	}

	logger.Info("shutdown complete")
	return nil
}

// newAnalyzer wires the optional analysis package. Both results are nil when
// no Python interpreter is available; exports then skip time-skip signals.
func newAnalyzer(cfg *config.EnvConfig, logger *slog.Logger) (*pipelines.Analyzer, *pipelines.CachedDoctor) {
	pipeCfg := pipelines.DefaultConfig(cfg.DataDir(), logger)
	pipeCfg.PythonPath = cfg.PipelinesPython()
	pipeCfg.ModuleName = cfg.PipelinesModule()
	pipeCfg.ArtifactsBase = filepath.Join(cfg.DataDir(), "analysis")

	runner, err := pipelines.NewRunner(pipeCfg)
	if err != nil {
		logger.Warn("analysis runner unavailable, time-skip uses no signals", "error", err)
		return nil, nil
	}
	doctor := pipelines.NewCachedDoctor(runner, logger)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pipeCfg.DoctorTimeout)
		defer cancel()
		caps, err := doctor.Refresh(ctx)
		if err != nil {
			logger.Warn("initial doctor probe failed", "error", err)
			return
		}
		logger.Info("analysis capabilities detected",
			"loudness", caps.HasLoudness,
			"speech", caps.HasSpeech,
			"importance", caps.HasImportance,
			"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
		)
	}()

	return pipelines.NewAnalyzer(runner, doctor, logger), doctor
}

// ensureSecret returns the stored value for key, creating a random hex
// value of n bytes on first run.
func ensureSecret(database *db.DB, key string, n int) (string, error) {
	ctx := context.Background()

	existing, err := database.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	value := hex.EncodeToString(b)

	if err := database.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}
