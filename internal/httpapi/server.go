// Package httpapi exposes the upload boundary: an HTML form and a multipart
// endpoint that streams the uploaded file through the ingestion pipeline.
//
// Routes:
//
//	GET  /         → upload form
//	GET  /health   → liveness plus table counts
//	POST /upload/  → ingest multipart field "file"
package httpapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"catalogetl/internal/logx"
	jsonparser "catalogetl/internal/parser/json"
	"catalogetl/internal/pipeline"
	"catalogetl/internal/storage"
)

// DefaultMaxUploadBytes bounds request bodies when Config leaves it unset.
const DefaultMaxUploadBytes = 1 << 30

// Config controls the server.
type Config struct {
	Addr           string
	MaxUploadBytes int64
	// RatePerSecond and Burst size the per-client upload token bucket;
	// RatePerSecond <= 0 disables limiting.
	RatePerSecond float64
	Burst         int
	// Release switches gin to release mode.
	Release bool
}

// Server serves the upload routes for one store.
type Server struct {
	cfg    Config
	store  storage.Store
	opts   pipeline.Options
	engine *gin.Engine
	tmpl   *template.Template
	log    zerolog.Logger
}

//go:embed index.tmpl.html
var indexHTML string

// NewServer builds the router. Every upload runs pipeline.Run against store
// with opts.
func NewServer(cfg Config, store storage.Store, opts pipeline.Options) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		opts:   opts,
		engine: gin.New(),
		tmpl:   template.Must(template.New("index").Parse(indexHTML)),
		log:    logx.Component("http"),
	}
	s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// HTTPServer wraps the router in an *http.Server listening on cfg.Addr.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), s.requestLog())
	// Uploads stream to temp files past this; bodies are still capped by
	// MaxUploadBytes.
	s.engine.MaxMultipartMemory = 32 << 20

	s.engine.GET("/", s.handleIndex)
	s.engine.GET("/health", s.handleHealth)

	upload := []gin.HandlerFunc{s.handleUpload}
	if s.cfg.RatePerSecond > 0 {
		lim := newClientLimiter(s.cfg.RatePerSecond, s.cfg.Burst)
		upload = append([]gin.HandlerFunc{lim.middleware()}, upload...)
	}
	s.engine.POST("/upload/", upload...)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := s.log.Info()
		if status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("client", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("http: request")
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	data := struct {
		Store     string
		BatchSize int
		MaxUpload string
	}{
		Store:     s.store.Kind(),
		BatchSize: s.opts.BatchSize,
		MaxUpload: humanize.Bytes(uint64(s.cfg.MaxUploadBytes)),
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := s.tmpl.Execute(c.Writer, data); err != nil {
		s.log.Error().Err(err).Msg("http: render form")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	counts, err := s.store.Counts(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("http: health check")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "store": s.store.Kind()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"store":        s.store.Kind(),
		"products":     counts.Products,
		"countries":    counts.Countries,
		"associations": counts.Associations,
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	if c.Request.ContentLength > s.cfg.MaxUploadBytes {
		s.tooLarge(c)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		switch {
		case errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large"):
			s.tooLarge(c)
		case errors.Is(err, http.ErrMissingFile):
			c.JSON(http.StatusBadRequest, gin.H{"detail": `missing multipart field "file"`})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid upload: " + err.Error()})
		}
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": fmt.Sprintf("cannot read %s: %v", fh.Filename, err)})
		return
	}
	defer f.Close()

	res, err := pipeline.Run(c.Request.Context(), f, s.store, s.opts)
	if err != nil {
		var mie *jsonparser.MalformedInputError
		if errors.As(err, &mie) {
			c.JSON(http.StatusBadRequest, gin.H{
				"detail": fmt.Sprintf("malformed product file %s: %v", fh.Filename, mie),
			})
			return
		}
		s.log.Error().Err(err).
			Str("filename", fh.Filename).
			Str("run_id", res.RunID.String()).
			Msg("http: ingest failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"detail": fmt.Sprintf("ingest of %s failed after %d windows", fh.Filename, res.Windows),
			"run_id": res.RunID.String(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filename": fh.Filename,
		"records":  res.Accepted,
		"skipped":  res.Dropped(),
		"digest":   res.Digest,
		"run_id":   res.RunID.String(),
	})
}

func (s *Server) tooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"detail": "upload exceeds " + humanize.Bytes(uint64(s.cfg.MaxUploadBytes)),
	})
}
