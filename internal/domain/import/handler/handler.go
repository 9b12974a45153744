// Package handler exposes the statement import pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/finly-app/finly/internal/domain/common"
	"github.com/finly-app/finly/internal/domain/import/repository"
	"github.com/finly-app/finly/internal/domain/import/service"
	"github.com/finly-app/finly/pkg/middleware"
)

// Service is the slice of the import service the handlers use.
type Service interface {
	CreateSession(ctx context.Context, userID uuid.UUID, filename, contentType string, data []byte) (*repository.ImportSession, error)
	GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*repository.ImportSession, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*repository.ImportSession, error)
	ListRows(ctx context.Context, userID, sessionID uuid.UUID) ([]*repository.ImportRow, error)
	ConfirmRow(ctx context.Context, userID, sessionID, rowID uuid.UUID, action string, overrides *service.FieldOverrides) (*repository.ImportRow, error)
	ConfirmAll(ctx context.Context, userID, sessionID uuid.UUID, scope string) (int, error)
}

// ImportHandler serves the /v1/imports routes.
type ImportHandler struct {
	svc            Service
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewImportHandler constructs a new handler.
func NewImportHandler(svc Service, logger *slog.Logger, maxUploadBytes int64) *ImportHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &ImportHandler{svc: svc, logger: logger, maxUploadBytes: maxUploadBytes}
}

// Routes mounts the import endpoints on a router.
func (h *ImportHandler) Routes(r chi.Router) {
	r.Post("/", h.Upload)
	r.Get("/", h.ListSessions)
	r.Get("/{sessionID}", h.GetSession)
	r.Get("/{sessionID}/rows", h.ListRows)
	r.Patch("/{sessionID}/rows/{rowID}", h.ConfirmRow)
	r.Post("/{sessionID}/confirm-all", h.ConfirmAll)
}

type sessionResponse struct {
	ID            uuid.UUID `json:"id"`
	Status        string    `json:"status"`
	SourceFile    string    `json:"source_file"`
	BankFormat    string    `json:"bank_format"`
	RowCount      int       `json:"row_count"`
	AutoCount     int       `json:"auto_count"`
	ReviewCount   int       `json:"review_count"`
	ProgressDone  int       `json:"progress_done"`
	ProgressTotal int       `json:"progress_total"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type rowResponse struct {
	ID              uuid.UUID         `json:"id"`
	Position        int               `json:"position"`
	RawData         map[string]string `json:"raw_data"`
	AmountMinor     *int64            `json:"amount_minor"`
	TxnTime         *time.Time        `json:"txn_time"`
	Direction       *string           `json:"direction"`
	Narration       string            `json:"narration"`
	Category        *string           `json:"category"`
	Platform        *string           `json:"platform"`
	PaymentMethod   *string           `json:"payment_method"`
	Notes           string            `json:"notes,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Recurring       bool              `json:"recurring"`
	ClassifiedBy    string            `json:"classified_by"`
	Confidence      confidenceBody    `json:"confidence"`
	Status          string            `json:"status"`
	PostedExpenseID *uuid.UUID        `json:"posted_expense_id,omitempty"`
}

type confidenceBody struct {
	Amount   float64 `json:"amount"`
	Datetime float64 `json:"datetime"`
	Type     float64 `json:"type"`
	Category float64 `json:"category"`
	Platform float64 `json:"platform"`
	Method   float64 `json:"payment_method"`
}

type confirmRowRequest struct {
	Action string                  `json:"action"`
	Fields *service.FieldOverrides `json:"fields,omitempty"`
}

type confirmAllRequest struct {
	Scope string `json:"scope"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Upload accepts a multipart statement file and starts an import session. The
// response returns before classification finishes; clients poll the session.
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, r, common.ErrUnauthenticated)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		h.writeError(w, r, common.ErrFileRequired)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, common.ErrFileRequired)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, common.ErrFileRequired)
		return
	}

	session, err := h.svc.CreateSession(r.Context(), userID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, toSessionResponse(session))
}

// GetSession returns one session, including parse progress.
func (h *ImportHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	session, err := h.svc.GetSession(r.Context(), userID, sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// ListSessions returns the caller's sessions, newest first.
func (h *ImportHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, r, common.ErrUnauthenticated)
		return
	}

	sessions, err := h.svc.ListSessions(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		out[i] = toSessionResponse(s)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// ListRows returns a session's rows once parsing is done.
func (h *ImportHandler) ListRows(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	rows, err := h.svc.ListRows(r.Context(), userID, sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]rowResponse, len(rows))
	for i, row := range rows {
		out[i] = toRowResponse(row)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

// ConfirmRow resolves one row with an optional field override payload.
func (h *ImportHandler) ConfirmRow(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}
	rowID, err := uuid.Parse(chi.URLParam(r, "rowID"))
	if err != nil {
		h.writeError(w, r, common.ErrNotFound)
		return
	}

	var req confirmRowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, common.ErrValidation)
		return
	}

	row, err := h.svc.ConfirmRow(r.Context(), userID, sessionID, rowID, req.Action, req.Fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRowResponse(row))
}

// ConfirmAll bulk-resolves pending rows in the requested scope.
func (h *ImportHandler) ConfirmAll(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	var req confirmAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, common.ErrValidation)
		return
	}

	count, err := h.svc.ConfirmAll(r.Context(), userID, sessionID, req.Scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"imported": count})
}

func (h *ImportHandler) sessionScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, r, common.ErrUnauthenticated)
		return uuid.Nil, uuid.Nil, false
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, common.ErrNotFound)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, sessionID, true
}

var statusByCode = map[string]int{
	"FILE_REQUIRED":         http.StatusBadRequest,
	"UNSUPPORTED_FILE_TYPE": http.StatusUnprocessableEntity,
	"EMPTY_FILE":            http.StatusUnprocessableEntity,
	"VALIDATION":            http.StatusUnprocessableEntity,
	"SESSION_NOT_READY":     http.StatusConflict,
	"ROW_ALREADY_RESOLVED":  http.StatusConflict,
	"CONFLICT":              http.StatusConflict,
	"NOT_FOUND":             http.StatusNotFound,
	"UNAUTHENTICATED":       http.StatusUnauthorized,
	"FORBIDDEN":             http.StatusForbidden,
	"BAD_REQUEST":           http.StatusBadRequest,
}

func (h *ImportHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := common.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err, "path", r.URL.Path)
	}

	var body errorBody
	body.Error.Code = code
	body.Error.Message = publicMessage(err, status)
	h.writeJSON(w, status, body)
}

// publicMessage hides internal error detail on 5xx responses.
func publicMessage(err error, status int) string {
	if status >= http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

func (h *ImportHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrBodyNotAllowed) {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func toSessionResponse(s *repository.ImportSession) sessionResponse {
	return sessionResponse{
		ID:            s.ID,
		Status:        s.Status,
		SourceFile:    s.SourceFile,
		BankFormat:    s.BankFormat,
		RowCount:      s.RowCount,
		AutoCount:     s.AutoCount,
		ReviewCount:   s.ReviewCount,
		ProgressDone:  s.ProgressDone,
		ProgressTotal: s.ProgressTotal,
		ErrorMessage:  s.ErrorMessage,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func toRowResponse(row *repository.ImportRow) rowResponse {
	return rowResponse{
		ID:            row.ID,
		Position:      row.Position,
		RawData:       row.RawData,
		AmountMinor:   row.AmountMinor,
		TxnTime:       row.TxnTime,
		Direction:     row.Direction,
		Narration:     row.Narration,
		Category:      row.Category,
		Platform:      row.Platform,
		PaymentMethod: row.PaymentMethod,
		Notes:         row.Notes,
		Tags:          row.Tags,
		Recurring:     row.Recurring,
		ClassifiedBy:  row.ClassifiedBy,
		Confidence: confidenceBody{
			Amount:   row.Confidence.Amount,
			Datetime: row.Confidence.Datetime,
			Type:     row.Confidence.Type,
			Category: row.Confidence.Category,
			Platform: row.Confidence.Platform,
			Method:   row.Confidence.Method,
		},
		Status:          row.Status,
		PostedExpenseID: row.PostedExpenseID,
	}
}
