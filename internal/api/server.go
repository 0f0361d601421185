package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clipstudio/clipstudio-agent/internal/jobs"
	"github.com/clipstudio/clipstudio-agent/internal/pipelines"
	"github.com/clipstudio/clipstudio-agent/internal/playback"
)

// ConfigStore reads persisted agent settings such as the auth token.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port        int
	Exports     jobs.ExportService
	Downloads   playback.DownloadService
	Config      ConfigStore
	Doctor      *pipelines.CachedDoctor
	Links       *LinkSigner
	CORSOrigins []string
	Logger      *slog.Logger
	StartTime   time.Time
	DeviceID    string
	Version     string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // downloads stream large artifacts
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
