// Package server exposes the scan operation over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/klimeurt/secret-hunter/internal/config"
	"github.com/klimeurt/secret-hunter/internal/gateway"
	"github.com/klimeurt/secret-hunter/internal/logging"
	"github.com/klimeurt/secret-hunter/internal/scanner"
)

// Version is the service version, overridable at build time.
var Version = "dev"

// ScanService runs a single repository scan.
type ScanService interface {
	Scan(ctx context.Context, target scanner.Target) (*scanner.Report, error)
}

// ScannerFactory builds a ScanService for one request. The token is the
// caller-supplied credential, empty when the caller sent none; the factory
// decides the fallback.
type ScannerFactory func(token string) ScanService

// ghNameRE matches the owner and repository name grammar GitHub accepts.
var ghNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Server wires the HTTP routes to the scan service.
type Server struct {
	cfg        *config.Config
	newScanner ScannerFactory
	logger     *slog.Logger
	router     *gin.Engine
}

// New creates a new Server instance
func New(cfg *config.Config, factory ScannerFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		newScanner: factory,
		logger:     logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/healthz", s.handleHealth)
	router.GET("/api", s.handleInfo)
	router.POST("/api/scan", s.handleScan)

	s.router = router
	return s
}

// Handler returns the HTTP handler for mounting on an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "secret-hunter",
		"version": Version,
	})
}

type scanRequest struct {
	Owner string `json:"owner" binding:"required"`
	Repo  string `json:"repo" binding:"required"`
	Token string `json:"token"`
}

// handleScan runs one scan end to end. Error responses carry the failure
// class and, for rate limiting, the quota reset time; they never carry file
// content.
func (s *Server) handleScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner and repo are required"})
		return
	}
	if !ghNameRE.MatchString(req.Owner) || !ghNameRE.MatchString(req.Repo) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner or repo name"})
		return
	}

	scanID := uuid.New().String()
	c.Header("X-Scan-ID", scanID)
	ctx := logging.WithScanID(c.Request.Context(), scanID)

	log := s.logger.With("scan_id", scanID, "owner", req.Owner, "repo", req.Repo)
	log.Info("scan requested")

	svc := s.newScanner(req.Token)
	report, err := svc.Scan(ctx, scanner.Target{Owner: req.Owner, Repo: req.Repo})
	if err != nil {
		s.writeScanError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) writeScanError(c *gin.Context, log *slog.Logger, err error) {
	var rle *gateway.RateLimitError
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		log.Warn("scan failed", "reason", "repository not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
	case errors.As(err, &rle):
		log.Warn("scan failed", "reason", "rate limited", "reset_at", rle.ResetAt.Unix())
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate limit exhausted",
			"resetAt": rle.ResetAt.Unix(),
		})
	case errors.Is(err, scanner.ErrScanTimeout):
		log.Warn("scan failed", "reason", "timeout")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "scan exceeded its time budget"})
	default:
		log.Error("scan failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream error"})
	}
}
