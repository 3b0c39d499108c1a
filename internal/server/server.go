// Package server runs the browser front end.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/a3tai/taxdoc-client/internal/blob"
	"github.com/a3tai/taxdoc-client/internal/config"
	"github.com/a3tai/taxdoc-client/internal/pdf"
	"github.com/a3tai/taxdoc-client/internal/server/handler"
	"github.com/a3tai/taxdoc-client/internal/server/router"
	"github.com/a3tai/taxdoc-client/internal/server/session"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	minSweepInterval  = time.Second
)

// Server is the web front end: the gin engine and its session store
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *session.Store
	httpServer *http.Server
}

// New builds the server.
func New(cfg *config.Config, api handler.API, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	tmpl, err := handler.Templates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	blobs := blob.NewRegistry()
	h := handler.New(handler.Options{
		API:       api,
		Blobs:     blobs,
		Inspector: pdf.NewInspector(cfg.MaxFileSize),
		Logger:    logger,
	})
	store := session.NewStore(h.NewUploadView, cfg.SessionTTL, logger)

	engine := router.New(router.Options{
		APIKey:          cfg.APIKey,
		SecureCookie:    cfg.SecureCookie,
		MaxUploadMemory: cfg.MaxFileSize,
		Templates:       tmpl,
		Logger:          logger.With("component", "http"),
	}, store, h)

	return &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		httpServer: &http.Server{
			Addr:              cfg.Address(),
			Handler:           engine,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Handler returns the HTTP handler serving the screens
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully and tears down every session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.store.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening", "addr", ln.Addr().String(), "api", s.cfg.APIBaseURL)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.store.Run(ctx, sweepInterval(s.cfg.SessionTTL))
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	interval := ttl / 4
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	return interval
}
