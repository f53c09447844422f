// Package server exposes the analysis pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inodb/pharmguard/internal/analysis"
	"github.com/inodb/pharmguard/internal/config"
	"github.com/inodb/pharmguard/internal/duckdb"
	"github.com/inodb/pharmguard/internal/metrics"
	"github.com/inodb/pharmguard/internal/report"
)

// multipartOverhead is allowed on top of the upload cap for form fields and boundaries.
const multipartOverhead = 1 << 20

// ReportStore persists reports. *duckdb.Store implements it.
type ReportStore interface {
	WriteReports(ctx context.Context, reports []report.Report) error
	LookupReport(ctx context.Context, analysisID string) (*report.Report, error)
	SearchByPatient(ctx context.Context, patientID string, limit int) ([]duckdb.Summary, error)
}

// TableSources names where the lookup tables were loaded from.
type TableSources struct {
	Phenotype string `json:"phenotype"`
	Rules     string `json:"rules"`
}

// Options holds the server dependencies. Store may be nil.
type Options struct {
	Config   *config.Config
	Analyzer *analysis.Analyzer
	Metrics  *metrics.Manager
	Store    ReportStore
	Logger   *zap.Logger
	Version  string
	Tables   TableSources
}

// Server is the HTTP front end.
type Server struct {
	cfg      *config.Config
	analyzer *analysis.Analyzer
	metrics  *metrics.Manager
	store    ReportStore
	logger   *zap.Logger
	version  string
	tables   TableSources

	drugs     map[string]bool
	drugNames string
	limiter   *clientLimiter
	router    *gin.Engine
	server    *http.Server
}

// New creates a server with its routes and middleware installed.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewManager()
	}
	analyzer := opts.Analyzer
	if analyzer == nil {
		analyzer = analysis.New(nil, nil)
	}

	s := &Server{
		cfg:      opts.Config,
		analyzer: analyzer,
		metrics:  m,
		store:    opts.Store,
		logger:   logger,
		version:  opts.Version,
		tables:   opts.Tables,
		drugs:    make(map[string]bool, len(opts.Config.Analysis.Drugs)),
		limiter:  newClientLimiter(opts.Config.Limits),
	}
	names := make([]string, 0, len(opts.Config.Analysis.Drugs))
	for _, d := range opts.Config.Analysis.Drugs {
		d = strings.ToUpper(strings.TrimSpace(d))
		if d != "" && !s.drugs[d] {
			s.drugs[d] = true
			names = append(names, d)
		}
	}
	sort.Strings(names)
	s.drugNames = strings.Join(names, ", ")

	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.MaxMultipartMemory = s.cfg.Limits.MaxUploadBytes + multipartOverhead
	if err := router.SetTrustedProxies(nil); err != nil {
		s.logger.Warn("could not reset trusted proxies", zap.Error(err))
	}

	router.Use(
		gin.CustomRecovery(s.recover),
		requestID(),
		auditLogger(s.logger),
		corsMiddleware(s.cfg.CORS.AllowedOrigins),
		httpMetrics(s.metrics),
	)

	router.NoRoute(func(c *gin.Context) {
		abortWithError(c, &APIError{Status: http.StatusNotFound, Message: "Endpoint not found"})
	})
	router.NoMethod(func(c *gin.Context) {
		abortWithError(c, &APIError{Status: http.StatusMethodNotAllowed, Message: "Method not allowed"})
	})

	s.setupRoutes(router)
	return router
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	limited := []gin.HandlerFunc{
		s.limiter.global(),
		requestTimeout(s.cfg.Server.RequestTimeout),
	}
	analyze := []gin.HandlerFunc{
		s.limiter.analyze(),
		limitBodySize(s.cfg.Limits.MaxUploadBytes + multipartOverhead),
		s.handleAnalyze,
	}

	// unversioned path kept for existing clients
	legacy := router.Group("/", limited...)
	legacy.POST("/analyze", analyze...)

	v1 := router.Group("/api/v1", limited...)
	{
		v1.POST("/analyze", analyze...)
		v1.GET("/drugs", s.handleDrugs)
		if s.store != nil {
			v1.GET("/reports/:id", s.handleGetReport)
			v1.GET("/patients/:id/reports", s.handlePatientReports)
		}
	}
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.logger.Error("panic serving request",
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.String("path", c.Request.URL.Path),
		zap.Any("panic", recovered))
	s.metrics.RecordAnalysisFailure(metrics.ReasonInternal)
	abortWithError(c, serverError("Unexpected error"))
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr,
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", sc.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server", zap.Duration("timeout", sc.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) supported(drug string) bool {
	return s.drugs[drug]
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
