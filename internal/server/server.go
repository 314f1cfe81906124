package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"splitmailer/internal/config"
	"splitmailer/internal/job"
	"splitmailer/internal/store"
)

type Server struct {
	srv *http.Server
}

// New creates a server. The baseCtx is used as the base context for all
// incoming requests (via BaseContext) and is cancelled on shutdown.
func New(baseCtx context.Context, cfg config.Config, jobSvc *job.Service, st *store.Store, dial job.Dialer) *Server {
	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Port),
			Handler: newMux(cfg, jobSvc, st, dial),
			BaseContext: func(_ net.Listener) context.Context {
				return baseCtx
			},
			ReadTimeout:  15 * time.Minute, // uploads can be large and slow
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down server")
	return s.srv.Shutdown(ctx)
}
