package router

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/a3tai/taxdoc-client/internal/server/middleware"
	"github.com/a3tai/taxdoc-client/internal/server/session"
)

// ScreenHandler defines the interface for the browser screen handlers.
type ScreenHandler interface {
	Index(c *gin.Context)
	SelectFiles(c *gin.Context)
	RemoveFile(c *gin.Context)
	PreviewFile(c *gin.Context)
	RawFile(c *gin.Context)
	PrevPage(c *gin.Context)
	NextPage(c *gin.Context)
	Submit(c *gin.Context)
	Results(c *gin.Context)
	ToggleDetail(c *gin.Context)
	Download(c *gin.Context)
	StartOver(c *gin.Context)
	Blob(c *gin.Context)
	Health(c *gin.Context)
}

// Options configures the engine
type Options struct {
	APIKey       string
	SecureCookie bool
	// MaxUploadMemory bounds the multipart form kept in memory
	MaxUploadMemory int64
	Templates       *template.Template
	// Logger enables request logging when set
	Logger *slog.Logger
}

// New wires up handlers to the Gin engine.
func New(opts Options, store *session.Store, h ScreenHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if opts.Logger != nil {
		r.Use(middleware.RequestLogger(opts.Logger))
	}
	if opts.MaxUploadMemory > 0 {
		r.MaxMultipartMemory = opts.MaxUploadMemory
	}
	if opts.Templates != nil {
		r.SetHTMLTemplate(opts.Templates)
	}

	// Health check endpoint (no middleware)
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	protected := r.Group("/")
	if opts.APIKey != "" {
		protected.Use(middleware.WithAPIKey(opts.APIKey))
	}

	protected.GET("/healthz/upstream", h.Health)
	protected.GET("/blob/:id", h.Blob)

	screens := protected.Group("/", middleware.WithSession(store, opts.SecureCookie))
	{
		screens.GET("/", h.Index)
		screens.POST("/files", h.SelectFiles)
		screens.POST("/files/:index/remove", h.RemoveFile)
		screens.POST("/files/:index/preview", h.PreviewFile)
		screens.GET("/files/:index/raw", h.RawFile)
		screens.POST("/preview/prev", h.PrevPage)
		screens.POST("/preview/next", h.NextPage)
		screens.POST("/submit", h.Submit)

		screens.GET("/result", h.Results)
		screens.POST("/result/:index/toggle", h.ToggleDetail)
		screens.GET("/result/download", h.Download)
		screens.POST("/result/close", h.StartOver)
	}

	return r
}
