package certificates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Generate(ctx context.Context, req GenerateRequest) (*Outcome, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Outcome), args.Error(1)
}

func (m *MockService) GenerateBatch(ctx context.Context, templateID uint, reqs []GenerateRequest) *BatchResult {
	args := m.Called(ctx, templateID, reqs)
	return args.Get(0).(*BatchResult)
}

func (m *MockService) Regenerate(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Outcome), args.Error(1)
}

func (m *MockService) RenderSample(ctx context.Context, templateID uint) ([]byte, error) {
	args := m.Called(ctx, templateID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockService) GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Certificate), args.Error(1)
}

func (m *MockService) DownloadCertificate(ctx context.Context, id uuid.UUID) (io.ReadCloser, *Certificate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(*Certificate), args.Error(2)
}

func (m *MockService) VerifySerial(ctx context.Context, serial string) (*SerialVerification, error) {
	args := m.Called(ctx, serial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SerialVerification), args.Error(1)
}

func (m *MockService) ListTemplateSerials(ctx context.Context, templateID uint) ([]SerialCounter, error) {
	args := m.Called(ctx, templateID)
	return args.Get(0).([]SerialCounter), args.Error(1)
}

func (m *MockService) PreviewSerial(ctx context.Context, templateID uint, target TargetType, year int) (string, error) {
	args := m.Called(ctx, templateID, target, year)
	return args.String(0), args.Error(1)
}

func (m *MockService) ExportRegister(ctx context.Context, templateID uint, w io.Writer) error {
	args := m.Called(ctx, templateID, w)
	return args.Error(0)
}

func (m *MockService) BulkDownload(ctx context.Context, templateID uint, opts BulkDownloadOptions) (*BulkArchive, error) {
	args := m.Called(ctx, templateID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BulkArchive), args.Error(1)
}

func newTestRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerGenerate(t *testing.T) {
	svc := new(MockService)
	r := newTestRouter(svc)

	cert := &Certificate{ID: uuid.New(), UniqueCode: "CERT-1-ABCDEFGH", Status: StatusReady}
	svc.On("Generate", mock.Anything, mock.MatchedBy(func(req GenerateRequest) bool {
		return req.TemplateID == 5 &&
			req.Subject == Subject{Kind: SubjectContestant, ID: "42"} &&
			req.Recipient.RecipientName == "Jane Doe"
	})).Return(&Outcome{Certificate: cert}, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/certificates/templates/5/generate",
		`{"subject":{"kind":"contestant","id":"42"},"recipient":{"recipient_name":"Jane Doe"}}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	var out Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "CERT-1-ABCDEFGH", out.Certificate.UniqueCode)
	svc.AssertExpectations(t)
}

func TestHandlerGenerateRegeneratedReturnsOK(t *testing.T) {
	svc := new(MockService)
	r := newTestRouter(svc)

	svc.On("Generate", mock.Anything, mock.Anything).
		Return(&Outcome{Certificate: &Certificate{ID: uuid.New()}, Regenerated: true}, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/certificates/templates/5/generate",
		`{"subject":{"kind":"trainer","id":"7"},"recipient":{"recipient_name":"Coach"}}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerGenerateBadInput(t *testing.T) {
	svc := new(MockService)
	r := newTestRouter(svc)

	w := doRequest(r, http.MethodPost, "/api/v1/certificates/templates/abc/generate", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/certificates/templates/5/generate", `{"subject":{"kind":"contestant"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &LifecycleError{Step: StepLookup, Err: ErrNotFound}, http.StatusNotFound},
		{"invalid", &LifecycleError{Step: StepValidate, Err: ErrInvalidRequest}, http.StatusBadRequest},
		{"configuration", &LifecycleError{Step: StepLookup, Err: &InvalidConfigurationError{TemplateID: 5, Reason: "x"}}, http.StatusBadRequest},
		{"inactive", &LifecycleError{Step: StepLookup, Err: ErrTemplateInactive}, http.StatusConflict},
		{"template load", &LifecycleError{Step: StepRender, Err: &TemplateLoadError{Path: "a.pdf", Err: errors.New("boom")}}, http.StatusUnprocessableEntity},
		{"issuance", &LifecycleError{Step: StepIssue, Err: &IssuanceError{Attempts: 5, Err: ErrSerialConflict}}, http.StatusServiceUnavailable},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			r := newTestRouter(svc)
			id := uuid.New()
			svc.On("Regenerate", mock.Anything, id).Return(nil, tt.err)

			w := doRequest(r, http.MethodPost, "/api/v1/certificates/"+id.String()+"/regenerate", "")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHandlerBulkGenerate(t *testing.T) {
	svc := new(MockService)
	r := newTestRouter(svc)

	svc.On("GenerateBatch", mock.Anything, uint(3), mock.MatchedBy(func(reqs []GenerateRequest) bool {
		return len(reqs) == 2 && reqs[0].TemplateID == 3 && reqs[1].Subject.ID == "b"
	})).Return(&BatchResult{Generated: 1, Failed: 1, Errors: []BatchItemError{{Subject: Subject{Kind: SubjectContingent, ID: "b"}, Error: "x"}}})

	w := doRequest(r, http.MethodPost, "/api/v1/certificates/templates/3/bulk-generate", `{"items":[
		{"subject":{"kind":"contingent","id":"a"},"recipient":{"recipient_name":"A"}},
		{"subject":{"kind":"contingent","id":"b"},"recipient":{"recipient_name":"B"}}]}`)

	assert.Equal(t, http.StatusOK, w.Code)
	var res BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Generated)
	assert.Equal(t, 1, res.Failed)

	w = doRequest(r, http.MethodPost, "/api/v1/certificates/templates/3/bulk-generate", `{"items":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerDownload(t *testing.T) {
	svc := new(MockService)
	r := newTestRouter(svc)
	id := uuid.New()

	svc.On("DownloadCertificate", mock.Anything, id).
		Return(io.NopCloser(bytes.NewReader([]byte("%PDF-1.3"))), &Certificate{ID: id, UniqueCode: "CERT-9-ZZZZZZZZ"}, nil)

	w := doRequest(r, http.MethodGet, "/api/v1/certificates/"+id.String()+"/download", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "CERT-9-ZZZZZZZZ.pdf")
	assert.Equal(t, "%PDF-1.3", w.Body.String())
}

func TestHandlerVerifyAndPreview(t *testing.T) {
	svc := new(MockService)
	r := newTestRouter(svc)

	svc.On("VerifySerial", mock.Anything, "MT25/GEN/T5/000001").
		Return(&SerialVerification{SerialNumber: "MT25/GEN/T5/000001", Valid: true}, nil)
	svc.On("PreviewSerial", mock.Anything, uint(5), TargetEventWinner, 2025).Return("MT25/WIN/T5/000004", nil)

	w := doRequest(r, http.MethodGet, "/api/v1/certificates/verify?serial=MT25/GEN/T5/000001", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":true`)

	w = doRequest(r, http.MethodGet, "/api/v1/certificates/verify", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/certificates/templates/5/serials/preview?target_type=EVENT_WINNER&year=2025", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "MT25/WIN/T5/000004")

	w = doRequest(r, http.MethodGet, "/api/v1/certificates/templates/5/serials/preview?year=soon", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerSampleAndRegister(t *testing.T) {
	svc := new(MockService)
	r := newTestRouter(svc)

	svc.On("RenderSample", mock.Anything, uint(2)).Return([]byte("%PDF-sample"), nil)
	svc.On("ExportRegister", mock.Anything, uint(2), mock.Anything).Run(func(args mock.Arguments) {
		_, _ = args.Get(2).(io.Writer).Write([]byte("xlsx"))
	}).Return(nil)
	svc.On("ListTemplateSerials", mock.Anything, uint(2)).Return([]SerialCounter{{TemplateID: 2, TargetType: TargetGeneral, TypeCode: "GEN", Year: 2025, LastSequence: 12}}, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/certificates/templates/2/sample", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-sample", w.Body.String())

	w = doRequest(r, http.MethodGet, "/api/v1/certificates/templates/2/register", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "xlsx", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "template-2-register.xlsx")

	w = doRequest(r, http.MethodGet, "/api/v1/certificates/templates/2/serials", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"last_sequence":12`)
}

func zipEntries(t *testing.T, body []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	entries := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries[f.Name] = b
	}
	return entries
}

func TestHandlerBulkDownload(t *testing.T) {
	svc := new(MockService)
	r := newTestRouter(svc)

	archive := &BulkArchive{
		Filename:     "certificates-winners-1.zip",
		Certificates: 1,
		write: func(_ context.Context, zw *zip.Writer) error {
			return writeEntry(zw, "certificates-batch-1.pdf", []byte("%PDF-merged"))
		},
	}
	svc.On("BulkDownload", mock.Anything, uint(3), BulkDownloadOptions{Mode: BulkMergeEveryN, MergeEveryN: 2}).
		Return(archive, nil).Once()

	w := doRequest(r, http.MethodPost, "/api/v1/certificates/templates/3/bulk-download",
		`{"merging_type":"merge_every_n","merge_every_n":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "certificates-winners-1.zip")
	assert.Equal(t, map[string][]byte{"certificates-batch-1.pdf": []byte("%PDF-merged")}, zipEntries(t, w.Body.Bytes()))

	svc.On("BulkDownload", mock.Anything, uint(3), BulkDownloadOptions{Mode: BulkSplit, ContingentFolders: true}).
		Return(archive, nil).Once()
	w = doRequest(r, http.MethodGet, "/api/v1/certificates/templates/3/bulk-download?merging_type=split&contingent_folders=true", "")
	assert.Equal(t, http.StatusOK, w.Code)

	svc.On("BulkDownload", mock.Anything, uint(4), BulkDownloadOptions{}).
		Return(nil, fmt.Errorf("template 4 has no generated certificates: %w", ErrNotFound))
	w = doRequest(r, http.MethodPost, "/api/v1/certificates/templates/4/bulk-download", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	svc.On("BulkDownload", mock.Anything, uint(5), BulkDownloadOptions{Mode: "shuffle"}).
		Return(nil, fmt.Errorf("%w: unknown merging type", ErrInvalidRequest))
	w = doRequest(r, http.MethodGet, "/api/v1/certificates/templates/5/bulk-download?merging_type=shuffle", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.AssertExpectations(t)
}
