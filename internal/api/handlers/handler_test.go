package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/danussh/Faxing/internal/service"
)

const testFaxID = "0b8f3f8e-3a55-4d9e-9a61-1f2d0c7f2a10"

// --- Фейки сервисного слоя ---

type fakeIntake struct {
	result    *service.IntakeResult
	err       error
	gotForm   *service.IntakeForm
	gotSecret string
}

func (f *fakeIntake) Submit(_ context.Context, form *service.IntakeForm, secretKey string) (*service.IntakeResult, error) {
	f.gotForm = form
	f.gotSecret = secretKey
	return f.result, f.err
}

type fakeStatus struct {
	err error
	got service.StatusUpdate
}

func (f *fakeStatus) Update(_ context.Context, u service.StatusUpdate) error {
	f.got = u
	return f.err
}

type fakeLinker struct {
	url string
	err error
}

func (f *fakeLinker) Link(_ context.Context, _ string) (string, error) {
	return f.url, f.err
}

type fakeChecker struct {
	status, message string
}

func (f fakeChecker) CheckReady() (string, string) {
	return f.status, f.message
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(intake FaxIntake, status StatusUpdater, links DownloadLinker) *APIHandler {
	return NewAPIHandler(NewHealthHandler(fakeChecker{status: statusOK}), intake, status, links, 1<<20, testLogger())
}

// decodeBody разбирает JSON-ответ в map.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("ответ не является JSON: %v", err)
	}
	return body
}

func multipartRequest(t *testing.T, fields map[string]string) *http.Request {
	t.Helper()
	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/inboundfaxes", strings.NewReader(buf.String()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// --- POST /inboundfaxes ---

func TestSubmitInboundFax_Multipart(t *testing.T) {
	intake := &fakeIntake{result: &service.IntakeResult{FaxID: testFaxID, UploadURL: "https://bucket.s3/put"}}
	h := newTestHandler(intake, &fakeStatus{}, &fakeLinker{})

	req := multipartRequest(t, map[string]string{
		service.FieldVendorName:  "Acme",
		service.FieldVendorFaxID: "acme-1",
		service.FieldFaxPages:    "3",
	})
	req.Header.Set("secretKey", "s3cr3t")
	rec := httptest.NewRecorder()

	h.SubmitInboundFax(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, ожидается 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["faxId"] != testFaxID {
		t.Errorf("faxId = %q", body["faxId"])
	}
	if body["preSignedUrl"] != "https://bucket.s3/put" {
		t.Errorf("preSignedUrl = %q", body["preSignedUrl"])
	}
	if body["message"] != "Metadata successfully received." {
		t.Errorf("message = %q", body["message"])
	}
	if intake.gotSecret != "s3cr3t" {
		t.Errorf("secret = %q, ожидается s3cr3t", intake.gotSecret)
	}
	if intake.gotForm.VendorName != "Acme" || intake.gotForm.VendorFaxID != "acme-1" || intake.gotForm.FaxPages != "3" {
		t.Errorf("форма разобрана неверно: %+v", intake.gotForm)
	}
}

func TestSubmitInboundFax_URLEncoded(t *testing.T) {
	intake := &fakeIntake{result: &service.IntakeResult{FaxID: testFaxID}}
	h := newTestHandler(intake, &fakeStatus{}, &fakeLinker{})

	form := url.Values{service.FieldVendorName: {"Acme"}}
	req := httptest.NewRequest(http.MethodPost, "/inboundfaxes", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	h.SubmitInboundFax(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, ожидается 200", rec.Code)
	}
	if intake.gotForm.VendorName != "Acme" {
		t.Errorf("VendorName = %q, ожидается Acme", intake.gotForm.VendorName)
	}
}

func TestSubmitInboundFax_Errors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    int
		wantMessage string
	}{
		{"unauthorized", service.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
		{"validation", &service.ValidationError{Kind: service.KindMissing, Fields: []string{"faxPages"}}, http.StatusBadRequest, "Bad Request"},
		{"vendor not registered", service.ErrVendorNotRegistered, http.StatusBadRequest, "Bad Request"},
		{"invalid input", service.ErrInvalidInput, http.StatusBadRequest, "Bad Request"},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, msgStoreFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeIntake{err: tt.err}, &fakeStatus{}, &fakeLinker{})
			rec := httptest.NewRecorder()

			h.SubmitInboundFax(rec, multipartRequest(t, map[string]string{service.FieldVendorName: "Acme"}))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, ожидается %d", rec.Code, tt.wantCode)
			}
			body := decodeBody(t, rec)
			if body["message"] != tt.wantMessage {
				t.Errorf("message = %q, ожидается %q", body["message"], tt.wantMessage)
			}
			if tt.wantCode == http.StatusInternalServerError && body["description"] != "" {
				t.Errorf("внутренняя ошибка не должна раскрываться: %q", body["description"])
			}
		})
	}
}

func TestSubmitInboundFax_ValidationDescription(t *testing.T) {
	err := &service.ValidationError{Kind: service.KindMalformed, Fields: []string{"faxPages"}}
	h := newTestHandler(&fakeIntake{err: err}, &fakeStatus{}, &fakeLinker{})
	rec := httptest.NewRecorder()

	h.SubmitInboundFax(rec, multipartRequest(t, nil))

	body := decodeBody(t, rec)
	if body["description"] != "field faxPages is in incorrect format" {
		t.Errorf("description = %q", body["description"])
	}
}

// --- PUT /faxstatuses ---

func TestUpdateFaxStatus(t *testing.T) {
	status := &fakeStatus{}
	h := newTestHandler(&fakeIntake{}, status, &fakeLinker{})

	req := httptest.NewRequest(http.MethodPut, "/faxstatuses",
		strings.NewReader(`{"status":"SUCCESS","faxid":"`+testFaxID+`","vendorfaxid":"acme-1"}`))
	rec := httptest.NewRecorder()

	h.UpdateFaxStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, ожидается 200", rec.Code)
	}
	want := service.StatusUpdate{Status: "SUCCESS", FaxID: testFaxID, VendorFaxID: "acme-1"}
	if status.got != want {
		t.Errorf("Update() получил %+v, ожидается %+v", status.got, want)
	}
	body := decodeBody(t, rec)
	wantMsg := "Fax status of FaxID - " + testFaxID + ", VendorFaxID - acme-1 successfully updated."
	if body["message"] != wantMsg {
		t.Errorf("message = %q", body["message"])
	}
}

func TestUpdateFaxStatus_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantDesc string
	}{
		{
			name:     "невалидный JSON",
			body:     `{`,
			wantCode: http.StatusBadRequest,
			wantDesc: "request body is not valid JSON",
		},
		{
			name:     "неизвестный статус",
			body:     `{"status":"DONE","faxid":"f1"}`,
			err:      service.ErrInvalidStatus,
			wantCode: http.StatusBadRequest,
			wantDesc: "Fax status of f1 should be SUCCESS or FAILED.",
		},
		{
			name:     "неизвестный статус по ключу поставщика",
			body:     `{"status":"DONE","vendorfaxid":"acme-1"}`,
			err:      service.ErrInvalidStatus,
			wantCode: http.StatusBadRequest,
			wantDesc: "Fax status of acme-1 should be SUCCESS or FAILED.",
		},
		{
			name:     "факс не найден",
			body:     `{"status":"FAILED","faxid":"f1","vendorfaxid":"acme-1"}`,
			err:      service.ErrFaxNotFound,
			wantCode: http.StatusBadRequest,
			wantDesc: "Could not find a fax with faxID: f1, VendorFaxID - acme-1",
		},
		{
			name:     "внутренняя ошибка",
			body:     `{"status":"FAILED","faxid":"f1","vendorfaxid":"acme-1"}`,
			err:      errors.New("db down"),
			wantCode: http.StatusInternalServerError,
			wantDesc: "Fax status of FaxID - f1, VendorFaxID - acme-1, could not be updated.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeIntake{}, &fakeStatus{err: tt.err}, &fakeLinker{})
			rec := httptest.NewRecorder()

			h.UpdateFaxStatus(rec, httptest.NewRequest(http.MethodPut, "/faxstatuses", strings.NewReader(tt.body)))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, ожидается %d", rec.Code, tt.wantCode)
			}
			if body := decodeBody(t, rec); body["description"] != tt.wantDesc {
				t.Errorf("description = %q, ожидается %q", body["description"], tt.wantDesc)
			}
		})
	}
}

// --- GET /presignedurls/{key} ---

func presignedRequest(key string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/presignedurls/"+key, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("key", key)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetPresignedURL(t *testing.T) {
	tests := []struct {
		name        string
		linker      *fakeLinker
		wantCode    int
		wantField   string
		wantContent string
	}{
		{"успех", &fakeLinker{url: "https://bucket.s3/get"}, http.StatusOK, "PreSignedURL", "https://bucket.s3/get"},
		{"нет объекта", &fakeLinker{err: service.ErrObjectNotFound}, http.StatusNotFound, "message", "Requested object is not found in S3"},
		{"ошибка", &fakeLinker{err: errors.New("denied")}, http.StatusInternalServerError, "message", "Unable to get presigned url for key : " + testFaxID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeIntake{}, &fakeStatus{}, tt.linker)
			rec := httptest.NewRecorder()

			h.GetPresignedURL(rec, presignedRequest(testFaxID))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, ожидается %d", rec.Code, tt.wantCode)
			}
			if body := decodeBody(t, rec); body[tt.wantField] != tt.wantContent {
				t.Errorf("%s = %q, ожидается %q", tt.wantField, body[tt.wantField], tt.wantContent)
			}
		})
	}
}
