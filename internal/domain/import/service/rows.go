package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finly-app/finly/internal/domain/common"
	"github.com/finly-app/finly/internal/domain/expense"
	"github.com/finly-app/finly/internal/domain/import/ai"
	"github.com/finly-app/finly/internal/domain/import/classifier"
	"github.com/finly-app/finly/internal/domain/import/normalizer"
	"github.com/finly-app/finly/internal/domain/import/repository"
	"github.com/finly-app/finly/pkg/observability"
)

// FieldOverrides carries caller edits applied on confirmation. Nil fields
// keep the classified value.
type FieldOverrides struct {
	AmountMinor   *int64     `json:"amount_minor,omitempty"`
	TxnTime       *time.Time `json:"txn_time,omitempty"`
	Direction     *string    `json:"direction,omitempty"`
	Category      *string    `json:"category,omitempty"`
	Platform      *string    `json:"platform,omitempty"`
	PaymentMethod *string    `json:"payment_method,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
}

// GetSession returns a session owned by the user.
func (s *ImportService) GetSession(ctx context.Context, userID, sessionID uuid.UUID) (*repository.ImportSession, error) {
	session, err := s.repo.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get import session: %w", err)
	}
	if session == nil {
		return nil, common.ErrNotFound
	}
	return session, nil
}

// ListSessions returns the user's sessions, newest first.
func (s *ImportService) ListSessions(ctx context.Context, userID uuid.UUID) ([]*repository.ImportSession, error) {
	sessions, err := s.repo.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import sessions: %w", err)
	}
	return sessions, nil
}

// ListRows returns a session's rows in file order. Rows are not readable
// while the pipeline is still parsing.
func (s *ImportService) ListRows(ctx context.Context, userID, sessionID uuid.UUID) ([]*repository.ImportRow, error) {
	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == repository.SessionParsing {
		return nil, common.ErrSessionNotReady
	}

	rows, err := s.repo.ListRows(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import rows: %w", err)
	}
	return rows, nil
}

// ConfirmRow resolves one pending row. CONFIRM materializes a ledger entry
// with any field overrides applied; SKIP discards the row. Either way the row
// leaves PENDING exactly once.
func (s *ImportService) ConfirmRow(ctx context.Context, userID, sessionID, rowID uuid.UUID, action string, overrides *FieldOverrides) (*repository.ImportRow, error) {
	if action != ActionConfirm && action != ActionSkip {
		return nil, fmt.Errorf("%w: action must be %s or %s", common.ErrValidation, ActionConfirm, ActionSkip)
	}

	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == repository.SessionParsing {
		return nil, common.ErrSessionNotReady
	}
	if session.Status != repository.SessionReviewing {
		return nil, fmt.Errorf("%w: session is %s", common.ErrConflict, session.Status)
	}

	row, err := s.repo.GetRow(ctx, sessionID, rowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get import row: %w", err)
	}
	if row == nil {
		return nil, common.ErrNotFound
	}
	if row.Status != repository.RowPending {
		return nil, common.ErrRowResolved
	}

	if action == ActionSkip {
		ok, err := s.repo.SkipRow(ctx, rowID)
		if err != nil {
			return nil, fmt.Errorf("failed to skip row: %w", err)
		}
		if !ok {
			return nil, common.ErrRowResolved
		}
		observability.RowsResolvedTotal.WithLabelValues("skip").Inc()
		return s.repo.GetRow(ctx, sessionID, rowID)
	}

	applyOverrides(row, overrides)
	entry, err := entryFromRow(session.UserID, row)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.MaterializeRow(ctx, repository.Materialization{RowID: row.ID, Entry: entry})
	if err != nil {
		return nil, fmt.Errorf("failed to materialize row: %w", err)
	}
	if !ok {
		return nil, common.ErrRowResolved
	}

	observability.RowsResolvedTotal.WithLabelValues("confirm").Inc()
	return s.repo.GetRow(ctx, sessionID, rowID)
}

// ConfirmAll bulk-materializes pending rows. Scope AUTO takes only
// rule-classified rows; ALL takes every pending row that has the structural
// fields a ledger entry needs, and completes the session once nothing is
// left pending. Returns how many rows materialized.
func (s *ImportService) ConfirmAll(ctx context.Context, userID, sessionID uuid.UUID, scope string) (int, error) {
	if scope != ScopeAuto && scope != ScopeAll {
		return 0, fmt.Errorf("%w: scope must be %s or %s", common.ErrValidation, ScopeAuto, ScopeAll)
	}

	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}
	if session.Status == repository.SessionParsing {
		return 0, common.ErrSessionNotReady
	}
	if session.Status != repository.SessionReviewing {
		return 0, fmt.Errorf("%w: session is %s", common.ErrConflict, session.Status)
	}

	pending, err := s.repo.ListPendingRows(ctx, sessionID, scope == ScopeAuto)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending rows: %w", err)
	}

	items := make([]repository.Materialization, 0, len(pending))
	for _, row := range pending {
		entry, err := entryFromRow(session.UserID, row)
		if err != nil {
			// Rows missing structural fields need per-row edits; bulk
			// confirmation leaves them pending.
			continue
		}
		items = append(items, repository.Materialization{RowID: row.ID, Entry: entry})
	}

	count, err := s.repo.MaterializeRows(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("failed to materialize rows: %w", err)
	}
	observability.RowsResolvedTotal.WithLabelValues("confirm").Add(float64(count))

	if scope == ScopeAll {
		remaining, err := s.repo.CountPendingRows(ctx, sessionID)
		if err != nil {
			return count, fmt.Errorf("failed to count pending rows: %w", err)
		}
		if remaining == 0 {
			ok, err := s.repo.TransitionSession(ctx, sessionID, repository.SessionReviewing, repository.SessionComplete, nil)
			if err != nil {
				return count, fmt.Errorf("failed to complete session: %w", err)
			}
			if ok {
				observability.ImportSessionsTotal.WithLabelValues("complete").Inc()
			}
		}
	}

	return count, nil
}

func applyOverrides(row *repository.ImportRow, o *FieldOverrides) {
	if o == nil {
		return
	}
	if o.AmountMinor != nil {
		row.AmountMinor = o.AmountMinor
	}
	if o.TxnTime != nil {
		row.TxnTime = o.TxnTime
	}
	if o.Direction != nil {
		row.Direction = o.Direction
	}
	if o.Category != nil {
		row.Category = o.Category
	}
	if o.Platform != nil {
		row.Platform = o.Platform
	}
	if o.PaymentMethod != nil {
		row.PaymentMethod = o.PaymentMethod
	}
	if o.Notes != nil {
		row.Notes = *o.Notes
	}
	if o.Tags != nil {
		row.Tags = o.Tags
	}
}

// entryFromRow builds the ledger entry a confirmed row becomes. Amount, time
// and direction are mandatory; a row from a headerless statement needs
// overrides before it can confirm.
func entryFromRow(userID uuid.UUID, row *repository.ImportRow) (*expense.Entry, error) {
	if row.AmountMinor == nil {
		return nil, fmt.Errorf("%w: amount is required", common.ErrValidation)
	}
	if row.TxnTime == nil {
		return nil, fmt.Errorf("%w: transaction time is required", common.ErrValidation)
	}
	if row.Direction == nil {
		return nil, fmt.Errorf("%w: direction is required", common.ErrValidation)
	}

	rowID := row.ID
	return &expense.Entry{
		UserID:        userID,
		AmountMinor:   *row.AmountMinor,
		TxnTime:       *row.TxnTime,
		Direction:     *row.Direction,
		Category:      derefOr(row.Category, "Uncategorized"),
		Platform:      derefOr(row.Platform, ""),
		PaymentMethod: derefOr(row.PaymentMethod, ""),
		Notes:         row.Notes,
		Tags:          row.Tags,
		Source:        expense.SourceImport,
		ImportRowID:   &rowID,
		Narration:     row.Narration,
	}, nil
}

func derefOr(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}

func toImportRow(sessionID uuid.UUID, position int, row classifier.Row) *repository.ImportRow {
	out := &repository.ImportRow{
		ID:           uuid.New(),
		SessionID:    sessionID,
		Position:     position,
		RawData:      row.RawData,
		Narration:    row.Narration,
		Notes:        row.Notes,
		Tags:         row.Tags,
		Recurring:    row.Recurring,
		ClassifiedBy: row.ClassifiedBy,
		Confidence:   row.Confidence,
		Status:       repository.RowPending,
	}
	if row.Amount != nil {
		minor := normalizer.ToMinorUnits(*row.Amount)
		out.AmountMinor = &minor
	}
	if row.Time != nil {
		t := *row.Time
		out.TxnTime = &t
	}
	if row.Direction != nil {
		d := string(*row.Direction)
		out.Direction = &d
	}
	if row.Category != "" {
		c := row.Category
		out.Category = &c
	}
	if row.Platform != "" {
		p := row.Platform
		out.Platform = &p
	}
	if row.PaymentMethod != "" {
		m := row.PaymentMethod
		out.PaymentMethod = &m
	}
	return out
}

func toAIRequest(row *repository.ImportRow) ai.Request {
	req := ai.Request{Narration: row.Narration}
	if row.AmountMinor != nil {
		req.Amount = decimal.NewFromInt(*row.AmountMinor).Shift(-2).StringFixed(2)
	}
	if row.Direction != nil {
		req.Direction = *row.Direction
	}
	if row.TxnTime != nil {
		req.Datetime = row.TxnTime.Format(time.RFC3339)
	}
	return req
}

// mergeAIResult overwrites the weak fields with the model's answer.
// Structural confidences are untouched; the model's confidence is capped so
// an AI row can never clear the auto-accept gate.
func mergeAIResult(row *repository.ImportRow, res ai.Result) {
	conf := res.Confidence
	if conf > ai.ConfidenceCeiling {
		conf = ai.ConfidenceCeiling
	}
	if conf < 0 {
		conf = 0
	}

	if res.Category != "" {
		c := res.Category
		row.Category = &c
		row.Confidence.Category = conf
	}
	if res.Platform != "" {
		p := res.Platform
		row.Platform = &p
		row.Confidence.Platform = conf
	}
	if res.PaymentMethod != "" {
		m := res.PaymentMethod
		row.PaymentMethod = &m
		row.Confidence.Method = conf
	}
	if len(res.Tags) > 0 {
		row.Tags = res.Tags
	}
	row.ClassifiedBy = classifier.ByAI
}
