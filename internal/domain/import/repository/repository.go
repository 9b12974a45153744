// Package repository provides data access for import sessions and rows.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/finly-app/finly/internal/domain/expense"
	"github.com/finly-app/finly/internal/domain/import/classifier"
)

// Session statuses.
const (
	SessionParsing   = "PARSING"
	SessionReviewing = "REVIEWING"
	SessionFailed    = "FAILED"
	SessionComplete  = "COMPLETE"
)

// Row statuses.
const (
	RowPending   = "PENDING"
	RowConfirmed = "CONFIRMED"
	RowSkipped   = "SKIPPED"
)

// ImportSession tracks one statement upload through review.
type ImportSession struct {
	ID            uuid.UUID `db:"id"`
	UserID        uuid.UUID `db:"user_id"`
	Status        string    `db:"status"`
	SourceFile    string    `db:"source_file"`
	BankFormat    string    `db:"bank_format"`
	RowCount      int       `db:"row_count"`
	AutoCount     int       `db:"auto_count"`
	ReviewCount   int       `db:"review_count"`
	ProgressDone  int       `db:"progress_done"`
	ProgressTotal int       `db:"progress_total"`
	ErrorMessage  *string   `db:"error_message"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ImportRow is one candidate transaction derived from the statement.
// PostedExpenseID is set once, on first confirmation, and never reassigned.
type ImportRow struct {
	ID              uuid.UUID         `db:"id"`
	SessionID       uuid.UUID         `db:"session_id"`
	Position        int               `db:"position"`
	RawData         map[string]string `db:"raw_data"`
	AmountMinor     *int64            `db:"amount_minor"`
	TxnTime         *time.Time        `db:"txn_time"`
	Direction       *string           `db:"direction"`
	Narration       string            `db:"narration"`
	Category        *string           `db:"category"`
	Platform        *string           `db:"platform"`
	PaymentMethod   *string           `db:"payment_method"`
	Notes           string            `db:"notes"`
	Tags            []string          `db:"tags"`
	Recurring       bool              `db:"recurring"`
	ClassifiedBy    string            `db:"classified_by"`
	Confidence      classifier.Scores
	Status          string     `db:"status"`
	PostedExpenseID *uuid.UUID `db:"posted_expense_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// Materialization pairs a pending row with the ledger entry it becomes.
type Materialization struct {
	RowID uuid.UUID
	Entry *expense.Entry
}

// ImportRepository defines data access for the import pipeline.
type ImportRepository interface {
	// Sessions
	CreateSession(ctx context.Context, s *ImportSession) error
	GetSession(ctx context.Context, id, userID uuid.UUID) (*ImportSession, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*ImportSession, error)
	// TransitionSession moves a session from an expected status to a new one.
	// Returns false when the session was not in the expected status, so the
	// pipeline and the watchdog cannot both win a transition.
	TransitionSession(ctx context.Context, id uuid.UUID, from, to string, errorMessage *string) (bool, error)
	UpdateSessionProgress(ctx context.Context, id uuid.UUID, done int) error
	SetSessionCounts(ctx context.Context, id uuid.UUID, autoCount, reviewCount int) error
	// MarkStalledSessions fails sessions stuck in PARSING with no progress
	// writes for longer than the cutoff. Returns how many were marked.
	MarkStalledSessions(ctx context.Context, olderThan time.Duration) (int, error)

	// Rows
	InsertRows(ctx context.Context, rows []*ImportRow) error
	GetRow(ctx context.Context, sessionID, rowID uuid.UUID) (*ImportRow, error)
	ListRows(ctx context.Context, sessionID uuid.UUID) ([]*ImportRow, error)
	ListPendingRows(ctx context.Context, sessionID uuid.UUID, ruleOnly bool) ([]*ImportRow, error)
	CountPendingRows(ctx context.Context, sessionID uuid.UUID) (int, error)
	// UpdateRowClassification overwrites a row's classification after AI
	// fallback.
	UpdateRowClassification(ctx context.Context, row *ImportRow) error
	// SkipRow moves a row PENDING -> SKIPPED; false when the row was already
	// resolved.
	SkipRow(ctx context.Context, rowID uuid.UUID) (bool, error)
	// MaterializeRow confirms one row and inserts its ledger entry in a
	// single transaction. The status compare-and-swap guarantees at most one
	// entry per row; false means the row was already resolved.
	MaterializeRow(ctx context.Context, m Materialization) (bool, error)
	// MaterializeRows bulk-confirms rows, one entry each, skipping rows that
	// lost the compare-and-swap. Returns how many materialized.
	MaterializeRows(ctx context.Context, items []Materialization) (int, error)
}
