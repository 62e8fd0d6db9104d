package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr            string        `envconfig:"ADDR" split_words:"true" default:":8080"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" split_words:"true"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" split_words:"true" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" split_words:"true" default:"5m"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" split_words:"true" default:"15s"`
}

type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

func NewServer(cfg Config, handler http.Handler) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}
