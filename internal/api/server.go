package api

import (
	"context"
	"io/fs"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-engine/internal/accel"
	"github.com/snarg/stt-engine/internal/config"
	"github.com/snarg/stt-engine/internal/media"
	"github.com/snarg/stt-engine/internal/metrics"
	"github.com/snarg/stt-engine/internal/pipeline"
	"github.com/snarg/stt-engine/internal/storage"
	"github.com/snarg/stt-engine/internal/transcribe"
	"github.com/snarg/stt-engine/internal/transcript"
)

// Pipeline is the orchestration the handlers need. See pipeline.Orchestrator.
type Pipeline interface {
	Produce(ctx context.Context, audioPath string, existing *transcript.Transcript, opts transcribe.Options, events chan<- pipeline.Event) (*transcript.Result, error)
	Transcribe(ctx context.Context, audioPath string, opts transcribe.Options, events chan<- pipeline.Event) (*transcript.Transcript, error)
	InFlight() int
}

// Downloader fetches remote media. See media.Downloader.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (*media.Download, error)
}

// AccelProbe reports accelerator availability. See accel.Probe.
type AccelProbe interface {
	Check(ctx context.Context) accel.Report
}

// Deps are the collaborators wired in by main. Store, Downloader, Probe and
// WebFS may be nil; their routes then report the feature as unavailable.
type Deps struct {
	Pipeline   Pipeline
	Downloader Downloader
	Probe      AccelProbe
	Store      storage.ResultStore
	Checks     map[string]HealthCheck
	WebFS      fs.FS
	Version    string
	StartTime  time.Time
}

type Server struct {
	http     *http.Server
	log      zerolog.Logger
	sessions atomic.Int64
	deps     Deps
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	s := &Server{log: log, deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	// No auth
	health := NewHealthHandler(deps.Checks, deps.Version, deps.StartTime)
	r.Get("/api/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	if deps.WebFS != nil {
		r.Get("/", IndexHandler(deps.WebFS))
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(deps.WebFS))))
	}

	scratch := cfg.ScratchDir
	th := NewTranscribeHandler(deps.Pipeline, deps.Store, scratch, cfg.MaxUploadBytes(), log)
	yh := NewYouTubeHandler(deps.Downloader, th, log)
	wh := NewStreamHandler(deps.Pipeline, scratch, cfg.MaxUploadBytes(), &s.sessions, log)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))
		r.Post("/v1/audio/transcriptions", th.OpenAI)
		r.Route("/api", func(r chi.Router) {
			r.Post("/transcribe", th.Diarized)
			r.Post("/transcribe/youtube", yh.Transcribe)
			r.Get("/transcribe/ws/{client_id}", wh.ServeHTTP)
			r.Get("/test-cuda", DiagnosticsHandler(deps.Probe))
			r.Get("/transcripts/{file}", TranscriptFileHandler(deps.Store))
		})
	})

	s.http = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ActiveSessions returns the number of open WebSocket sessions.
func (s *Server) ActiveSessions() int { return int(s.sessions.Load()) }

// InFlight returns the number of running pipelines.
func (s *Server) InFlight() int {
	if s.deps.Pipeline == nil {
		return 0
	}
	return s.deps.Pipeline.InFlight()
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
