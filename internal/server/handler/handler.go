// Package handler serves the upload and results screens over gin.
package handler

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/a3tai/taxdoc-client/internal/blob"
	"github.com/a3tai/taxdoc-client/internal/pdf"
	"github.com/a3tai/taxdoc-client/internal/results"
	"github.com/a3tai/taxdoc-client/internal/server/middleware"
	"github.com/a3tai/taxdoc-client/internal/server/session"
	"github.com/a3tai/taxdoc-client/internal/taxapi"
	"github.com/a3tai/taxdoc-client/internal/upload"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Template names registered on the engine
const (
	UploadTemplate  = "upload.tmpl"
	ResultsTemplate = "results.tmpl"
)

// defaultRefreshSeconds is how often the results page reloads while the
// filled PDF is being generated
const defaultRefreshSeconds = 2

// API defines the processing API behaviour consumed by the handlers.
type API interface {
	upload.API
	results.Generator
	Health(ctx context.Context) (*taxapi.HealthStatus, error)
}

// Options configures a Handler
type Options struct {
	API            API
	Blobs          *blob.Registry
	Inspector      *pdf.Inspector
	Logger         *slog.Logger
	Now            func() time.Time
	RefreshSeconds int
}

// Handler manages the browser screens.
type Handler struct {
	api            API
	blobs          *blob.Registry
	inspector      *pdf.Inspector
	logger         *slog.Logger
	now            func() time.Time
	refreshSeconds int
}

// New builds the handler.
func New(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Blobs == nil {
		opts.Blobs = blob.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RefreshSeconds <= 0 {
		opts.RefreshSeconds = defaultRefreshSeconds
	}
	return &Handler{
		api:            opts.API,
		blobs:          opts.Blobs,
		inspector:      opts.Inspector,
		logger:         opts.Logger.With("component", "web"),
		now:            opts.Now,
		refreshSeconds: opts.RefreshSeconds,
	}
}

// NewUploadView builds the upload screen of a fresh session
func (h *Handler) NewUploadView() *upload.View {
	return upload.NewView(h.api, h.inspector, h.logger)
}

// Templates parses the embedded screen templates
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.tmpl")
}

// Health reports the upstream processing API status.
func (h *Handler) Health(c *gin.Context) {
	status, err := h.api.Health(c.Request.Context())
	if err != nil {
		h.logger.Warn("Upstream health check failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"status": "unreachable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// Blob serves a registered display handle until it is revoked.
func (h *Handler) Blob(c *gin.Context) {
	b, err := h.blobs.Open(blob.Handle(c.Param("id")))
	if err != nil {
		c.String(http.StatusNotFound, "not found")
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, b.ContentType, b.Data)
}

func (h *Handler) session(c *gin.Context) (*session.Session, bool) {
	s := middleware.CurrentSession(c)
	if s == nil {
		c.String(http.StatusInternalServerError, "session unavailable")
		return nil, false
	}
	return s, true
}

func redirect(c *gin.Context, location string) {
	c.Redirect(http.StatusSeeOther, location)
}

func indexParam(c *gin.Context) (int, bool) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
