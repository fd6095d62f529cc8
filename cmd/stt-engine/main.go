package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	sttengine "github.com/snarg/stt-engine"
	"github.com/snarg/stt-engine/internal/accel"
	"github.com/snarg/stt-engine/internal/api"
	"github.com/snarg/stt-engine/internal/config"
	"github.com/snarg/stt-engine/internal/diarize"
	"github.com/snarg/stt-engine/internal/media"
	"github.com/snarg/stt-engine/internal/metrics"
	"github.com/snarg/stt-engine/internal/pipeline"
	"github.com/snarg/stt-engine/internal/storage"
	"github.com/snarg/stt-engine/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.WhisperURL, "whisper-url", "", "whisper transcription endpoint (overrides WHISPER_URL)")
	flag.StringVar(&overrides.WhisperXURL, "whisperx-url", "", "whisperx sidecar base URL (overrides WHISPERX_URL)")
	flag.Parse()

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
	log.Info().Str("version", version).Str("provider", cfg.STTProvider).Msg("stt-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checks := map[string]api.HealthCheck{}

	// Acoustic engine
	asrLog := log.With().Str("component", "transcribe").Logger()
	var asr transcribe.Engine
	switch cfg.STTProvider {
	case "deepinfra":
		asr = transcribe.NewDeepInfraClient(cfg.DeepInfraAPIKey, cfg.DeepInfraModel, cfg.WhisperTimeout)
	case "elevenlabs":
		asr = transcribe.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel, cfg.ElevenLabsKeyterms, cfg.WhisperTimeout)
	default:
		asr = transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperTimeout)
	}
	if cfg.PreprocessAudio {
		asr = transcribe.WithPreprocessing(asr, asrLog)
		checks["sox"] = api.HealthCheckFunc(func(context.Context) bool { return transcribe.CheckSox() })
	}
	asrLog.Info().Str("provider", asr.Name()).Str("model", asr.Model()).Bool("preprocess", cfg.PreprocessAudio).Msg("acoustic engine configured")

	// Alignment + diarization
	var diarizer pipeline.Diarizer
	if cfg.DiarizationEnabled {
		diaLog := log.With().Str("component", "diarize").Logger()
		sidecar := diarize.NewSidecarClient(cfg.WhisperXURL, cfg.WhisperXModel, cfg.WhisperXTimeout)
		diarizer = diarize.NewEngine(sidecar, diarize.Hints{
			MinSpeakers: cfg.MinSpeakers,
			MaxSpeakers: cfg.MaxSpeakers,
		}, diaLog)
		checks["whisperx"] = sidecar

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if !sidecar.IsAvailable(checkCtx) {
			diaLog.Warn().Str("url", cfg.WhisperXURL).Msg("whisperx sidecar not reachable, requests will fall back to heuristic speakers")
		}
		cancel()
	} else {
		log.Info().Msg("diarization disabled, speaker labels will be heuristic")
	}

	pipeLog := log.With().Str("component", "pipeline").Logger()
	orch := pipeline.New(asr, diarizer, cfg.EngineConcurrency, pipeLog)

	// YouTube downloads
	var downloader api.Downloader
	dl, err := media.NewDownloader(cfg.YtDlpCommand, cfg.ScratchDir, cfg.DownloadTimeout, log.With().Str("component", "media").Logger())
	if err != nil {
		log.Warn().Err(err).Msg("YouTube downloads disabled")
	} else {
		downloader = dl
	}

	// Accelerator diagnostics
	var probe api.AccelProbe
	if p, err := accel.NewProbe(cfg.AccelProbeCommand, 10*time.Second); err != nil {
		log.Warn().Err(err).Msg("accelerator diagnostics disabled")
	} else {
		probe = p
	}

	// Result storage
	var store storage.ResultStore
	if cfg.ResultsEnabled {
		storeLog := log.With().Str("component", "storage").Logger()
		store, err = storage.New(cfg.S3, cfg.ResultsDir, storeLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize result storage")
		}
		storeLog.Info().Str("type", store.Type()).Msg("result storage ready")
	}

	webFS, err := fs.Sub(sttengine.WebFiles, "web")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load embedded web UI")
	}

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.Deps{
		Pipeline:   orch,
		Downloader: downloader,
		Probe:      probe,
		Store:      store,
		Checks:     checks,
		WebFS:      webFS,
		Version:    version,
		StartTime:  startTime,
	}, httpLog)
	prometheus.MustRegister(metrics.NewCollector(srv))

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("stt-engine stopped")
}
