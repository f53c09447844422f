package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inodb/pharmguard/internal/analysis"
	"github.com/inodb/pharmguard/internal/duckdb"
	"github.com/inodb/pharmguard/internal/explain"
	"github.com/inodb/pharmguard/internal/metrics"
	"github.com/inodb/pharmguard/internal/output"
	"github.com/inodb/pharmguard/internal/report"
	"github.com/inodb/pharmguard/internal/rules"
	"github.com/inodb/pharmguard/internal/vcf"
)

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	Version   string       `json:"version"`
	Tables    TableSources `json:"tables"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: timestamp(),
		Version:   s.version,
		Tables:    s.tables,
	})
}

// DrugsResponse is the /api/v1/drugs body.
type DrugsResponse struct {
	Drugs []rules.DrugInfo `json:"drugs"`
	Count int              `json:"count"`
}

func (s *Server) handleDrugs(c *gin.Context) {
	infos := make([]rules.DrugInfo, 0, len(s.drugs))
	for _, info := range s.analyzer.Engine().Drugs() {
		if s.supported(info.Drug) {
			infos = append(infos, info)
		}
	}
	c.JSON(http.StatusOK, DrugsResponse{Drugs: infos, Count: len(infos)})
}

// analyzeRequest is a validated analysis upload.
type analyzeRequest struct {
	patientID string
	drugs     []string
	audience  explain.Audience
	filename  string
	data      []byte
}

func (s *Server) handleAnalyze(c *gin.Context) {
	req, apiErr := s.bindAnalyze(c)
	if apiErr != nil {
		s.metrics.RecordAnalysisFailure(metrics.ReasonValidation)
		s.logger.Warn("analysis request rejected",
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.String("reason", apiErr.Message))
		abortWithError(c, apiErr)
		return
	}

	ctx := c.Request.Context()
	areq := analysis.Request{
		PatientID: req.patientID,
		Audience:  req.audience,
		VCF:       bytes.NewReader(req.data),
		Source:    req.filename,
	}

	var reports []report.Report
	var err error
	if len(req.drugs) == 1 {
		areq.Drug = req.drugs[0]
		var r *report.Report
		if r, err = s.analyzer.Analyze(ctx, areq); err == nil {
			reports = []report.Report{*r}
		}
	} else {
		reports, err = s.analyzer.AnalyzeDrugs(ctx, areq, req.drugs)
	}
	if err != nil {
		abortWithError(c, s.analysisError(c, req, err))
		return
	}

	s.persist(ctx, c.GetString(requestIDKey), reports)

	if len(reports) == 1 {
		c.JSON(http.StatusOK, reports[0])
		return
	}
	resp := output.MultiDrugResponse{DrugAnalyses: make([]*report.Report, len(reports))}
	for i := range reports {
		resp.DrugAnalyses[i] = &reports[i]
	}
	c.JSON(http.StatusOK, resp)
}

// bindAnalyze validates the multipart form and reads the upload into memory.
func (s *Server) bindAnalyze(c *gin.Context) (*analyzeRequest, *APIError) {
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, s.fileTooLarge()
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			return nil, validationError("request", "Malformed multipart form")
		}
	}

	patientID, apiErr := validatePatientID(c.PostForm("patient_id"))
	if apiErr != nil {
		return nil, apiErr
	}

	drugs := parseDrugs(c.PostForm("drug"), c.PostForm("drugs"))
	if apiErr := s.validateDrugs(drugs); apiErr != nil {
		return nil, apiErr
	}

	audienceField := c.PostForm("audience")
	if audienceField == "" {
		audienceField = s.cfg.Explain.Audience
	}
	audience, err := explain.ParseAudience(audienceField)
	if err != nil {
		return nil, validationError("audience", "Audience must be 'clinician' or 'patient'")
	}

	if form == nil || len(form.File["vcf_file"]) == 0 {
		return nil, validationError("vcf_file", "VCF file is required")
	}
	fh := form.File["vcf_file"][0]
	if !allowedFile(fh.Filename) {
		return nil, validationError("vcf_file", "File must be a .vcf or .vcf.gz file")
	}
	if fh.Size > s.cfg.Limits.MaxUploadBytes {
		return nil, s.fileTooLarge()
	}

	f, err := fh.Open()
	if err != nil {
		return nil, serverError("Could not read upload")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.Limits.MaxUploadBytes+1))
	if err != nil {
		return nil, serverError("Could not read upload")
	}
	if int64(len(data)) > s.cfg.Limits.MaxUploadBytes {
		return nil, s.fileTooLarge()
	}

	return &analyzeRequest{
		patientID: patientID,
		drugs:     drugs,
		audience:  audience,
		filename:  fh.Filename,
		data:      data,
	}, nil
}

func (s *Server) fileTooLarge() *APIError {
	return validationError("vcf_file", fmt.Sprintf("File exceeds maximum size of %d bytes", s.cfg.Limits.MaxUploadBytes))
}

// analysisError maps pipeline errors to responses.
func (s *Server) analysisError(c *gin.Context, req *analyzeRequest, err error) *APIError {
	fields := []zap.Field{
		zap.String("request_id", c.GetString(requestIDKey)),
		zap.String("patient_id", req.patientID),
		zap.Strings("drugs", req.drugs),
		zap.Error(err),
	}

	var extErr *vcf.ExtractionError
	switch {
	case errors.Is(err, analysis.ErrNoTargetVariants):
		return &APIError{Status: http.StatusBadRequest, Message: "No target pharmacogenomic variants detected in VCF"}
	case errors.As(err, &extErr):
		return serverError("VCF parsing failed")
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Error("analysis timed out", fields...)
		return &APIError{Status: http.StatusGatewayTimeout, Message: "Server Error: Request timed out"}
	default:
		s.logger.Error("unexpected analysis error", fields...)
		s.metrics.RecordAnalysisFailure(metrics.ReasonInternal)
		return serverError("Unexpected error")
	}
}

// persist stores reports when a store is configured. Failures are logged only.
func (s *Server) persist(ctx context.Context, reqID string, reports []report.Report) {
	if s.store == nil {
		return
	}
	if err := s.store.WriteReports(ctx, reports); err != nil {
		s.logger.Warn("report persistence failed",
			zap.String("request_id", reqID),
			zap.Int("reports", len(reports)),
			zap.Error(err))
	}
}

func (s *Server) handleGetReport(c *gin.Context) {
	r, err := s.store.LookupReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("report lookup failed", zap.String("analysis_id", c.Param("id")), zap.Error(err))
		abortWithError(c, serverError("Report lookup failed"))
		return
	}
	if r == nil {
		abortWithError(c, &APIError{Status: http.StatusNotFound, Message: "Report not found"})
		return
	}
	c.JSON(http.StatusOK, r)
}

// PatientReportsResponse is the /api/v1/patients/:id/reports body.
type PatientReportsResponse struct {
	PatientID string           `json:"patient_id"`
	Reports   []duckdb.Summary `json:"reports"`
	Count     int              `json:"count"`
}

func (s *Server) handlePatientReports(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			abortWithError(c, validationError("limit", "Limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	patientID := c.Param("id")
	found, err := s.store.SearchByPatient(c.Request.Context(), patientID, limit)
	if err != nil {
		s.logger.Error("patient report search failed", zap.String("patient_id", patientID), zap.Error(err))
		abortWithError(c, serverError("Report search failed"))
		return
	}
	c.JSON(http.StatusOK, PatientReportsResponse{PatientID: patientID, Reports: found, Count: len(found)})
}
