package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/pharmguard/internal/analysis"
	"github.com/inodb/pharmguard/internal/config"
	"github.com/inodb/pharmguard/internal/duckdb"
	"github.com/inodb/pharmguard/internal/metrics"
	"github.com/inodb/pharmguard/internal/output"
	"github.com/inodb/pharmguard/internal/report"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const pmVCF = "##fileformat=VCFv4.2\n#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\n" +
	"chr22\t42522613\trs3892097\tC\tT\t.\tPASS\tGENE=CYP2D6;STAR=*4\n"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T, mutate func(*config.Config), store ReportStore) *Server {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	m := metrics.NewManager()
	return New(Options{
		Config:   cfg,
		Analyzer: analysis.New(nil, nil, analysis.WithRecorder(m)),
		Metrics:  m,
		Store:    store,
		Version:  "test",
		Tables:   TableSources{Phenotype: "builtin", Rules: "builtin"},
	})
}

type upload struct {
	fields   map[string]string
	filename string
	content  string
}

func (u upload) request(t *testing.T, path string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range u.fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if u.filename != "" {
		fw, err := mw.CreateFormFile("vcf_file", u.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(u.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil, nil)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "builtin", resp.Tables.Rules)
	assert.NotEmpty(t, resp.Timestamp)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := serve(s, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestAnalyze_Success(t *testing.T) {
	for _, path := range []string{"/analyze", "/api/v1/analyze"} {
		t.Run(path, func(t *testing.T) {
			s := newTestServer(t, nil, nil)
			w := serve(s, upload{
				fields:   map[string]string{"patient_id": "PATIENT_001", "drug": "codeine"},
				filename: "sample.vcf",
				content:  pmVCF,
			}.request(t, path))

			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var r report.Report
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
			assert.Equal(t, "CODEINE", r.Drug)
			assert.Equal(t, "PATIENT_001", r.PatientID)
			assert.Equal(t, "*4/*4", r.PharmacogenomicProfile.Diplotype)
			assert.Equal(t, "Ineffective", r.RiskAssessment.RiskLabel)
			assert.Equal(t, 85.0, r.RiskAssessment.RiskScore)
		})
	}
}

func TestAnalyze_MultipleDrugs(t *testing.T) {
	s := newTestServer(t, nil, nil)
	w := serve(s, upload{
		fields:   map[string]string{"patient_id": "P", "drugs": "CODEINE, warfarin,codeine"},
		filename: "sample.vcf",
		content:  pmVCF,
	}.request(t, "/api/v1/analyze"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp output.MultiDrugResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.DrugAnalyses, 2)
	assert.Equal(t, "CODEINE", resp.DrugAnalyses[0].Drug)
	assert.Equal(t, "WARFARIN", resp.DrugAnalyses[1].Drug)
}

func TestAnalyze_Gzipped(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "testdata", "cyp2d6_pm.vcf.gz"))
	require.NoError(t, err)

	s := newTestServer(t, nil, nil)
	w := serve(s, upload{
		fields:   map[string]string{"patient_id": "P", "drug": "CODEINE"},
		filename: "cyp2d6_pm.vcf.gz",
		content:  string(data),
	}.request(t, "/analyze"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAnalyze_Validation(t *testing.T) {
	tests := []struct {
		name    string
		upload  upload
		wantMsg string
	}{
		{
			name:    "missing patient",
			upload:  upload{fields: map[string]string{"drug": "CODEINE"}, filename: "a.vcf", content: pmVCF},
			wantMsg: "Validation Error - patient_id: Patient ID is required and must be non-empty",
		},
		{
			name:    "blank patient",
			upload:  upload{fields: map[string]string{"patient_id": "   ", "drug": "CODEINE"}, filename: "a.vcf", content: pmVCF},
			wantMsg: "Validation Error - patient_id:",
		},
		{
			name:    "missing drug",
			upload:  upload{fields: map[string]string{"patient_id": "P"}, filename: "a.vcf", content: pmVCF},
			wantMsg: "Validation Error - drug: Drug name is required",
		},
		{
			name:    "unsupported drug",
			upload:  upload{fields: map[string]string{"patient_id": "P", "drug": "aspirin"}, filename: "a.vcf", content: pmVCF},
			wantMsg: "Validation Error - drug: Drug 'ASPIRIN' is not supported. Supported drugs: AZATHIOPRINE, CLOPIDOGREL",
		},
		{
			name:    "bad audience",
			upload:  upload{fields: map[string]string{"patient_id": "P", "drug": "CODEINE", "audience": "robot"}, filename: "a.vcf", content: pmVCF},
			wantMsg: "Validation Error - audience:",
		},
		{
			name:    "missing file",
			upload:  upload{fields: map[string]string{"patient_id": "P", "drug": "CODEINE"}},
			wantMsg: "Validation Error - vcf_file: VCF file is required",
		},
		{
			name:    "wrong extension",
			upload:  upload{fields: map[string]string{"patient_id": "P", "drug": "CODEINE"}, filename: "a.vcf.bak", content: pmVCF},
			wantMsg: "Validation Error - vcf_file: File must be a .vcf or .vcf.gz file",
		},
		{
			name:    "unsafe name",
			upload:  upload{fields: map[string]string{"patient_id": "P", "drug": "CODEINE"}, filename: "my file.vcf", content: pmVCF},
			wantMsg: "Validation Error - vcf_file:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil, nil)
			w := serve(s, tt.upload.request(t, "/api/v1/analyze"))

			require.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.True(t, strings.HasPrefix(resp.Error, tt.wantMsg), resp.Error)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestAnalyze_FileTooLarge(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Limits.MaxUploadBytes = 64 }, nil)
	w := serve(s, upload{
		fields:   map[string]string{"patient_id": "P", "drug": "CODEINE"},
		filename: "a.vcf",
		content:  pmVCF,
	}.request(t, "/api/v1/analyze"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Validation Error - vcf_file: File exceeds maximum size of 64 bytes", decodeError(t, w).Error)
}

func TestAnalyze_NoTargetVariants(t *testing.T) {
	s := newTestServer(t, nil, nil)
	w := serve(s, upload{
		fields:   map[string]string{"patient_id": "P", "drug": "CODEINE"},
		filename: "a.vcf",
		content:  "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\nchr1\t100\t.\tA\tG\t.\t.\tGENE=BRCA1\n",
	}.request(t, "/api/v1/analyze"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No target pharmacogenomic variants detected in VCF", decodeError(t, w).Error)
}

func TestAnalyze_CorruptGzip(t *testing.T) {
	s := newTestServer(t, nil, nil)
	w := serve(s, upload{
		fields:   map[string]string{"patient_id": "P", "drug": "CODEINE"},
		filename: "a.vcf.gz",
		content:  "\x1f\x8bnot really gzip",
	}.request(t, "/api/v1/analyze"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Server Error: VCF parsing failed", decodeError(t, w).Error)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, nil, nil)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Endpoint not found", decodeError(t, w).Error)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "Method not allowed", decodeError(t, w).Error)
}

func TestAnalyze_RateLimited(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Limits.AnalyzePerHour = 1 }, nil)
	u := upload{
		fields:   map[string]string{"patient_id": "P", "drug": "CODEINE"},
		filename: "a.vcf",
		content:  pmVCF,
	}

	require.Equal(t, http.StatusOK, serve(s, u.request(t, "/analyze")).Code)

	w := serve(s, u.request(t, "/api/v1/analyze"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// other clients have their own budget
	req := u.request(t, "/analyze")
	req.RemoteAddr = "198.51.100.7:4000"
	assert.Equal(t, http.StatusOK, serve(s, req).Code)

	// health is not limited
	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestGlobalRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Limits.GlobalPerHour = 2 }, nil)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil)).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil)).Code)
}

func TestDrugs(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Analysis.Drugs = []string{"CODEINE", "WARFARIN"} }, nil)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp DrugsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "CODEINE", resp.Drugs[0].Drug)
	assert.Equal(t, "CYP2D6", resp.Drugs[0].Gene)
	assert.Equal(t, "WARFARIN", resp.Drugs[1].Drug)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)
	serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pharmguard_http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := serve(s, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestReportRoutesRequireStore(t *testing.T) {
	s := newTestServer(t, nil, nil)
	w := serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/reports/abc", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Endpoint not found", decodeError(t, w).Error)
}

func TestReportStoreRoutes(t *testing.T) {
	store, err := duckdb.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := newTestServer(t, nil, store)
	w := serve(s, upload{
		fields:   map[string]string{"patient_id": "PATIENT_042", "drug": "CODEINE"},
		filename: "a.vcf",
		content:  pmVCF,
	}.request(t, "/api/v1/analyze"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+created.AnalysisID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var fetched report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
	assert.Equal(t, created.AnalysisID, fetched.AnalysisID)
	assert.Equal(t, "Ineffective", fetched.RiskAssessment.RiskLabel)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/reports/unknown", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Report not found", decodeError(t, w).Error)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/patients/PATIENT_042/reports", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list PatientReportsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Reports, 1)
	assert.Equal(t, created.AnalysisID, list.Reports[0].AnalysisID)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/api/v1/patients/PATIENT_042/reports?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
