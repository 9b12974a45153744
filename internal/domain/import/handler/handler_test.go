package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/finly-app/finly/internal/domain/common"
	"github.com/finly-app/finly/internal/domain/import/repository"
	"github.com/finly-app/finly/internal/domain/import/service"
	"github.com/finly-app/finly/pkg/middleware"
)

type fakeService struct {
	createFn     func(userID uuid.UUID, filename, contentType string, data []byte) (*repository.ImportSession, error)
	getFn        func(userID, sessionID uuid.UUID) (*repository.ImportSession, error)
	listRowsFn   func(userID, sessionID uuid.UUID) ([]*repository.ImportRow, error)
	confirmFn    func(userID, sessionID, rowID uuid.UUID, action string, overrides *service.FieldOverrides) (*repository.ImportRow, error)
	confirmAllFn func(userID, sessionID uuid.UUID, scope string) (int, error)
}

func (f *fakeService) CreateSession(_ context.Context, userID uuid.UUID, filename, contentType string, data []byte) (*repository.ImportSession, error) {
	return f.createFn(userID, filename, contentType, data)
}

func (f *fakeService) GetSession(_ context.Context, userID, sessionID uuid.UUID) (*repository.ImportSession, error) {
	return f.getFn(userID, sessionID)
}

func (f *fakeService) ListSessions(_ context.Context, userID uuid.UUID) ([]*repository.ImportSession, error) {
	return nil, nil
}

func (f *fakeService) ListRows(_ context.Context, userID, sessionID uuid.UUID) ([]*repository.ImportRow, error) {
	return f.listRowsFn(userID, sessionID)
}

func (f *fakeService) ConfirmRow(_ context.Context, userID, sessionID, rowID uuid.UUID, action string, overrides *service.FieldOverrides) (*repository.ImportRow, error) {
	return f.confirmFn(userID, sessionID, rowID, action, overrides)
}

func (f *fakeService) ConfirmAll(_ context.Context, userID, sessionID uuid.UUID, scope string) (int, error) {
	return f.confirmAllFn(userID, sessionID, scope)
}

func newTestRouter(svc Service, userID uuid.UUID) http.Handler {
	h := NewImportHandler(svc, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), 1<<20)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithUserID(req.Context(), userID)))
		})
	})
	r.Route("/v1/imports", h.Routes)
	return r
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decodeError(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", body.String(), err)
	}
	return payload.Error.Code
}

func TestUploadAccepted(t *testing.T) {
	userID := uuid.New()
	sessionID := uuid.New()
	svc := &fakeService{
		createFn: func(gotUser uuid.UUID, filename, contentType string, data []byte) (*repository.ImportSession, error) {
			if gotUser != userID {
				t.Errorf("user id = %s, want %s", gotUser, userID)
			}
			if filename != "axis.csv" {
				t.Errorf("filename = %s, want axis.csv", filename)
			}
			if len(data) == 0 {
				t.Error("empty payload forwarded to service")
			}
			return &repository.ImportSession{ID: sessionID, UserID: gotUser, Status: repository.SessionParsing, SourceFile: filename}, nil
		},
	}
	router := newTestRouter(svc, userID)

	body, contentType := multipartBody(t, "file", "axis.csv", "Tran Date,PARTICULARS,DEBIT,CREDIT\n01-04-2025,UPI ZOMATO,450.00,\n")
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != sessionID || resp.Status != repository.SessionParsing {
		t.Fatalf("unexpected session body: %+v", resp)
	}
}

func TestUploadMissingFile(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc, uuid.New())

	body, contentType := multipartBody(t, "attachment", "axis.csv", "data")
	req := httptest.NewRequest(http.MethodPost, "/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := decodeError(t, rec.Body); code != "FILE_REQUIRED" {
		t.Fatalf("error code = %s, want FILE_REQUIRED", code)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	userID := uuid.New()
	sessionID := uuid.New()

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unsupported", common.ErrUnsupportedFile, http.StatusUnprocessableEntity, "UNSUPPORTED_FILE_TYPE"},
		{"empty", common.ErrEmptyFile, http.StatusUnprocessableEntity, "EMPTY_FILE"},
		{"not ready", common.ErrSessionNotReady, http.StatusConflict, "SESSION_NOT_READY"},
		{"not found", common.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"wrapped", fmt.Errorf("context: %w", common.ErrSessionNotReady), http.StatusConflict, "SESSION_NOT_READY"},
		{"internal", fmt.Errorf("pool exhausted"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{
				listRowsFn: func(uuid.UUID, uuid.UUID) ([]*repository.ImportRow, error) {
					return nil, tc.err
				},
			}
			router := newTestRouter(svc, userID)

			req := httptest.NewRequest(http.MethodGet, "/v1/imports/"+sessionID.String()+"/rows", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if code := decodeError(t, rec.Body); code != tc.wantCode {
				t.Fatalf("error code = %s, want %s", code, tc.wantCode)
			}
		})
	}
}

func TestErrorBodyHidesInternalDetail(t *testing.T) {
	svc := &fakeService{
		listRowsFn: func(uuid.UUID, uuid.UUID) ([]*repository.ImportRow, error) {
			return nil, fmt.Errorf("dial tcp 10.0.0.4:5432: connection refused")
		},
	}
	router := newTestRouter(svc, uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/v1/imports/"+uuid.NewString()+"/rows", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "10.0.0.4") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestConfirmRowForwardsOverrides(t *testing.T) {
	userID := uuid.New()
	sessionID := uuid.New()
	rowID := uuid.New()

	svc := &fakeService{
		confirmFn: func(gotUser, gotSession, gotRow uuid.UUID, action string, overrides *service.FieldOverrides) (*repository.ImportRow, error) {
			if action != "CONFIRM" {
				t.Errorf("action = %s, want CONFIRM", action)
			}
			if overrides == nil || overrides.Category == nil || *overrides.Category != "Utilities" {
				t.Errorf("overrides not forwarded: %+v", overrides)
			}
			return &repository.ImportRow{ID: gotRow, SessionID: gotSession, Status: repository.RowConfirmed}, nil
		},
	}
	router := newTestRouter(svc, userID)

	payload := `{"action":"CONFIRM","fields":{"category":"Utilities"}}`
	req := httptest.NewRequest(http.MethodPatch, "/v1/imports/"+sessionID.String()+"/rows/"+rowID.String(), strings.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestConfirmRowAlreadyResolved(t *testing.T) {
	svc := &fakeService{
		confirmFn: func(uuid.UUID, uuid.UUID, uuid.UUID, string, *service.FieldOverrides) (*repository.ImportRow, error) {
			return nil, common.ErrRowResolved
		},
	}
	router := newTestRouter(svc, uuid.New())

	payload := `{"action":"CONFIRM"}`
	req := httptest.NewRequest(http.MethodPatch, "/v1/imports/"+uuid.NewString()+"/rows/"+uuid.NewString(), strings.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := decodeError(t, rec.Body); code != "ROW_ALREADY_RESOLVED" {
		t.Fatalf("error code = %s, want ROW_ALREADY_RESOLVED", code)
	}
}

func TestConfirmAll(t *testing.T) {
	userID := uuid.New()
	sessionID := uuid.New()

	svc := &fakeService{
		confirmAllFn: func(gotUser, gotSession uuid.UUID, scope string) (int, error) {
			if scope != "AUTO" {
				t.Errorf("scope = %s, want AUTO", scope)
			}
			return 12, nil
		},
	}
	router := newTestRouter(svc, userID)

	req := httptest.NewRequest(http.MethodPost, "/v1/imports/"+sessionID.String()+"/confirm-all", strings.NewReader(`{"scope":"AUTO"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["imported"] != 12 {
		t.Fatalf("imported = %d, want 12", resp["imported"])
	}
}

func TestBadSessionID(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc, uuid.New())

	req := httptest.NewRequest(http.MethodGet, "/v1/imports/not-a-uuid/rows", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
