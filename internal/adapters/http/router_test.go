package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-verifier/internal/config"
	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/core/ports"
	"github.com/kirillkom/document-verifier/internal/infrastructure/export/xlsx"
)

type runnerFake struct {
	mu       sync.Mutex
	emitter  ports.ProgressEmitter
	job      domain.UploadJob
	selected []domain.SelectedFile
	selErr   error
	startErr error
}

func (f *runnerFake) Select(file domain.SelectedFile) (domain.UploadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selErr != nil {
		return f.job, f.selErr
	}
	f.selected = append(f.selected, file)
	f.job = domain.UploadJob{Phase: domain.PhaseReady, File: &file}
	return f.job, nil
}

func (f *runnerFake) Submit(context.Context) (domain.UploadJob, error) {
	return f.Snapshot(), errors.New("not used")
}

func (f *runnerFake) Start(_ context.Context, onDone func(domain.UploadJob, error)) (domain.UploadJob, error) {
	f.mu.Lock()
	if f.startErr != nil {
		f.mu.Unlock()
		return f.job, f.startErr
	}
	f.job.Phase = domain.PhaseUploading
	job := f.job
	f.mu.Unlock()

	onDone(domain.UploadJob{Phase: domain.PhaseDone, AnalysisID: "an-1"}, nil)
	return job, nil
}

func (f *runnerFake) Remove() domain.UploadJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job = domain.UploadJob{Phase: domain.PhaseIdle}
	return f.job
}

func (f *runnerFake) Reset() domain.UploadJob { return f.Remove() }

func (f *runnerFake) emit(event domain.ProgressEvent) {
	f.mu.Lock()
	emitter := f.emitter
	f.mu.Unlock()
	emitter.Emit(event)
}

func (f *runnerFake) Snapshot() domain.UploadJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.job
}

type storageFake struct {
	mu      sync.Mutex
	files   map[string]string
	deleted []string
}

func newStorageFake() *storageFake {
	return &storageFake{files: map[string]string{}}
}

func (s *storageFake) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = string(raw)
	return int64(len(raw)), nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return io.NopCloser(strings.NewReader(s.files[key])), nil
}

func (s *storageFake) Path(key string) string { return "/spool/" + key }

func (s *storageFake) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *storageFake) count() (files, deleted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files), len(s.deleted)
}

type inspectorFake struct {
	mimeType string
	err      error
}

func (f inspectorFake) Inspect(_ context.Context, _ string, displayName string) (domain.SelectedFile, error) {
	if f.err != nil {
		return domain.SelectedFile{}, f.err
	}
	return domain.SelectedFile{Name: displayName, MimeType: f.mimeType}, nil
}

type reportsFake struct {
	result *domain.ReportResult
	err    error
}

func (f reportsFake) Fetch(context.Context, string) (*domain.ReportResult, error) {
	return f.result, f.err
}

func (f reportsFake) Wait(ctx context.Context, id string) (*domain.ReportResult, error) {
	return f.Fetch(ctx, id)
}

type historyFake struct {
	records   []domain.AnalysisRecord
	gotLimit  int
	gotUserID string
}

func (f *historyFake) ListRecent(_ context.Context, session domain.Session, limit int) ([]domain.AnalysisRecord, error) {
	f.gotLimit = limit
	f.gotUserID = session.UserID
	return f.records, nil
}

type testEnv struct {
	runner  *runnerFake
	storage *storageFake
	history *historyFake
	reports reportsFake
	insp    inspectorFake
	cfg     config.Config
}

func newTestEnv() *testEnv {
	return &testEnv{
		runner:  &runnerFake{job: domain.UploadJob{Phase: domain.PhaseIdle}},
		storage: newStorageFake(),
		history: &historyFake{},
		insp:    inspectorFake{mimeType: "application/pdf"},
		cfg:     config.Config{UploadMaxBytes: 1 << 20},
	}
}

func (e *testEnv) handler(t *testing.T) http.Handler {
	t.Helper()
	sessions := NewSessionRegistry(func(_ domain.Session, emitter ports.ProgressEmitter) ports.UploadRunner {
		e.runner.mu.Lock()
		e.runner.emitter = emitter
		e.runner.mu.Unlock()
		return e.runner
	})
	rt, err := NewRouter(e.cfg, Deps{
		Sessions:  sessions,
		Reports:   e.reports,
		History:   e.history,
		Storage:   e.storage,
		Inspector: e.insp,
	})
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return rt.Handler()
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(userIDHeader, "u-1")
	return req
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestEnv().handler(t)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestV1RoutesRequireUserID(t *testing.T) {
	handler := newTestEnv().handler(t)

	for _, path := range []string{"/v1/uploads/current", "/v1/analyses", "/v1/analyses/an-1"} {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, path, nil))
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, res.Code)
		}
	}
}

func TestCreateUploadStartsRunAndCleansSpool(t *testing.T) {
	env := newTestEnv()
	handler := env.handler(t)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, uploadRequest(t, "file", "contract.pdf", "%PDF-1.7"))
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}

	var job domain.UploadJob
	decodeBody(t, res, &job)
	if job.Phase != domain.PhaseUploading {
		t.Fatalf("expected uploading job, got %+v", job)
	}
	if len(env.runner.selected) != 1 {
		t.Fatalf("expected one selected file, got %d", len(env.runner.selected))
	}
	selected := env.runner.selected[0]
	if selected.Name != "contract.pdf" || selected.Size != 8 || selected.MimeType != "application/pdf" || selected.StorageKey == "" {
		t.Fatalf("unexpected selected file: %+v", selected)
	}
	if files, deleted := env.storage.count(); files != 0 || deleted != 1 {
		t.Fatalf("expected spool to be cleaned after run, files=%d deleted=%d", files, deleted)
	}
}

func TestCreateUploadMissingMultipartField(t *testing.T) {
	env := newTestEnv()
	handler := env.handler(t)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, uploadRequest(t, "document", "contract.pdf", "%PDF-1.7"))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(env.runner.selected) != 0 {
		t.Fatalf("runner must not be touched")
	}
}

func TestCreateUploadMapsRunnerErrors(t *testing.T) {
	cases := []struct {
		name   string
		selErr error
		want   int
	}{
		{"busy", domain.NewError(domain.ErrSessionBusy, "select file", "", nil), http.StatusConflict},
		{"validation", domain.NewError(domain.ErrValidation, "select file", "Only PDF, JPEG and PNG files are supported.", nil), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			env.runner.selErr = tc.selErr
			handler := env.handler(t)

			res := httptest.NewRecorder()
			handler.ServeHTTP(res, uploadRequest(t, "file", "contract.pdf", "%PDF-1.7"))
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
			var body map[string]string
			decodeBody(t, res, &body)
			if body["error"] != domain.UserMessage(tc.selErr) {
				t.Fatalf("unexpected error message %q", body["error"])
			}
			if files, _ := env.storage.count(); files != 0 {
				t.Fatalf("rejected upload must not stay in the spool")
			}
		})
	}
}

func TestUploadLifecycleRoutes(t *testing.T) {
	env := newTestEnv()
	env.runner.job = domain.UploadJob{Phase: domain.PhaseFailed, LastError: "The server returned an error. Please try again."}
	handler := env.handler(t)

	get := httptest.NewRequest(http.MethodGet, "/v1/uploads/current", nil)
	get.Header.Set(userIDHeader, "u-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, get)
	var job domain.UploadJob
	decodeBody(t, res, &job)
	if res.Code != http.StatusOK || job.Phase != domain.PhaseFailed {
		t.Fatalf("unexpected snapshot %d %+v", res.Code, job)
	}

	reset := httptest.NewRequest(http.MethodPost, "/v1/uploads/current/reset", nil)
	reset.Header.Set(userIDHeader, "u-1")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, reset)
	decodeBody(t, res, &job)
	if job.Phase != domain.PhaseIdle {
		t.Fatalf("expected idle after reset, got %+v", job)
	}

	del := httptest.NewRequest(http.MethodDelete, "/v1/uploads/current", nil)
	del.Header.Set(userIDHeader, "u-1")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, del)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 from delete, got %d", res.Code)
	}
}

func TestGetAnalysisReportStatusCodes(t *testing.T) {
	report := &domain.ReportResult{
		Report:          &domain.AnalysisReport{AnalysisID: "an-1", ConfidenceScore: 85, Status: domain.ReportClear},
		Recommendations: []string{"Archive the document"},
	}
	pending := &domain.ReportResult{Pending: &domain.PendingAnalysis{AnalysisID: "an-2", BackendStatus: "processing"}}

	cases := []struct {
		name    string
		reports reportsFake
		want    int
	}{
		{"report", reportsFake{result: report}, http.StatusOK},
		{"pending", reportsFake{result: pending}, http.StatusAccepted},
		{"not found", reportsFake{err: domain.NewError(domain.ErrNotFound, "fetch report", "Analysis not found", nil)}, http.StatusNotFound},
		{"server", reportsFake{err: domain.NewError(domain.ErrServer, "fetch report", "", errors.New("dial tcp 10.0.0.5:8000: refused"))}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			env.reports = tc.reports
			handler := env.handler(t)

			req := httptest.NewRequest(http.MethodGet, "/v1/analyses/an-1", nil)
			req.Header.Set(userIDHeader, "u-1")
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)

			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
			if strings.Contains(res.Body.String(), "10.0.0.5") {
				t.Fatalf("transport details leaked: %s", res.Body.String())
			}
		})
	}
}

func TestGetAnalysisReportRejectsMalformedID(t *testing.T) {
	handler := newTestEnv().handler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/bad$id", nil)
	req.Header.Set(userIDHeader, "u-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestListAnalysesLimit(t *testing.T) {
	env := newTestEnv()
	env.history.records = []domain.AnalysisRecord{{AnalysisID: "an-1", UserID: "u-1", State: domain.AnalysisStateStarted}}
	handler := env.handler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses?limit=5", nil)
	req.Header.Set(userIDHeader, "u-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || env.history.gotLimit != 5 || env.history.gotUserID != "u-1" {
		t.Fatalf("unexpected list call: code=%d limit=%d user=%q", res.Code, env.history.gotLimit, env.history.gotUserID)
	}
	var body analysesResponse
	decodeBody(t, res, &body)
	if len(body.Analyses) != 1 || body.Analyses[0].AnalysisID != "an-1" {
		t.Fatalf("unexpected body: %+v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/analyses?limit=500", nil)
	req.Header.Set(userIDHeader, "u-1")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range limit, got %d", res.Code)
	}
}

func TestExportAnalysisReportReturnsWorkbook(t *testing.T) {
	env := newTestEnv()
	env.reports = reportsFake{result: &domain.ReportResult{
		Report: &domain.AnalysisReport{
			AnalysisID:      "an-1",
			ConfidenceScore: 42,
			Status:          domain.ReportFlag,
			Findings:        []domain.Finding{{Severity: domain.SeverityCritical, Description: "Altered totals"}},
		},
		Recommendations: []string{"Contact the issuer"},
	}}
	handler := env.handler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/an-1/export", nil)
	req.Header.Set(userIDHeader, "u-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if res.Header().Get("Content-Type") != xlsx.ContentType {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}
	f, err := excelize.OpenReader(res.Body)
	if err != nil {
		t.Fatalf("open exported workbook: %v", err)
	}
	defer f.Close()
	if v, _ := f.GetCellValue("Findings", "B2"); v != "Altered totals" {
		t.Fatalf("unexpected finding cell %q", v)
	}
}
