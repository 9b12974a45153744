package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/finly-app/finly/internal/domain/expense"
)

// PgxPool is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresImportRepository implements ImportRepository using PostgreSQL.
type PostgresImportRepository struct {
	pool PgxPool
}

// NewPostgresImportRepository creates a new PostgreSQL-backed import repository.
func NewPostgresImportRepository(pool PgxPool) *PostgresImportRepository {
	return &PostgresImportRepository{pool: pool}
}

const createSessionQuery = `
	INSERT INTO import_sessions (
		id, user_id, status, source_file, bank_format,
		row_count, auto_count, review_count, progress_done, progress_total
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// CreateSession inserts a new import session.
func (r *PostgresImportRepository) CreateSession(ctx context.Context, s *ImportSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SessionParsing
	}

	_, err := r.pool.Exec(ctx, createSessionQuery,
		s.ID, s.UserID, s.Status, s.SourceFile, s.BankFormat,
		s.RowCount, s.AutoCount, s.ReviewCount, s.ProgressDone, s.ProgressTotal,
	)
	if err != nil {
		return fmt.Errorf("failed to create import session: %w", err)
	}
	return nil
}

const getSessionQuery = `
	SELECT id, user_id, status, source_file, bank_format,
	       row_count, auto_count, review_count, progress_done, progress_total,
	       error_message, created_at, updated_at
	FROM import_sessions
	WHERE id = $1 AND user_id = $2
`

// GetSession retrieves a session scoped to its owning user.
func (r *PostgresImportRepository) GetSession(ctx context.Context, id, userID uuid.UUID) (*ImportSession, error) {
	var s ImportSession
	err := r.pool.QueryRow(ctx, getSessionQuery, id, userID).Scan(
		&s.ID, &s.UserID, &s.Status, &s.SourceFile, &s.BankFormat,
		&s.RowCount, &s.AutoCount, &s.ReviewCount, &s.ProgressDone, &s.ProgressTotal,
		&s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import session: %w", err)
	}
	return &s, nil
}

const listSessionsQuery = `
	SELECT id, user_id, status, source_file, bank_format,
	       row_count, auto_count, review_count, progress_done, progress_total,
	       error_message, created_at, updated_at
	FROM import_sessions
	WHERE user_id = $1
	ORDER BY created_at DESC
`

// ListSessions returns a user's sessions, newest first.
func (r *PostgresImportRepository) ListSessions(ctx context.Context, userID uuid.UUID) ([]*ImportSession, error) {
	rows, err := r.pool.Query(ctx, listSessionsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ImportSession
	for rows.Next() {
		var s ImportSession
		err := rows.Scan(
			&s.ID, &s.UserID, &s.Status, &s.SourceFile, &s.BankFormat,
			&s.RowCount, &s.AutoCount, &s.ReviewCount, &s.ProgressDone, &s.ProgressTotal,
			&s.ErrorMessage, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

const transitionSessionQuery = `
	UPDATE import_sessions
	SET status = $3, error_message = $4, updated_at = NOW()
	WHERE id = $1 AND status = $2
`

// TransitionSession compare-and-swaps the session status.
func (r *PostgresImportRepository) TransitionSession(ctx context.Context, id uuid.UUID, from, to string, errorMessage *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, transitionSessionQuery, id, from, to, errorMessage)
	if err != nil {
		return false, fmt.Errorf("failed to transition import session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const updateSessionProgressQuery = `
	UPDATE import_sessions SET progress_done = $2, updated_at = NOW() WHERE id = $1
`

// UpdateSessionProgress writes the monotonic progress counter. The updated_at
// touch doubles as the watchdog liveness signal.
func (r *PostgresImportRepository) UpdateSessionProgress(ctx context.Context, id uuid.UUID, done int) error {
	_, err := r.pool.Exec(ctx, updateSessionProgressQuery, id, done)
	if err != nil {
		return fmt.Errorf("failed to update session progress: %w", err)
	}
	return nil
}

const setSessionCountsQuery = `
	UPDATE import_sessions SET auto_count = $2, review_count = $3, updated_at = NOW() WHERE id = $1
`

// SetSessionCounts fixes the auto/review partition sizes at partition time.
func (r *PostgresImportRepository) SetSessionCounts(ctx context.Context, id uuid.UUID, autoCount, reviewCount int) error {
	_, err := r.pool.Exec(ctx, setSessionCountsQuery, id, autoCount, reviewCount)
	if err != nil {
		return fmt.Errorf("failed to set session counts: %w", err)
	}
	return nil
}

const markStalledSessionsQuery = `
	UPDATE import_sessions
	SET status = $1, error_message = 'import stalled; no progress before timeout', updated_at = NOW()
	WHERE status = $2 AND updated_at < $3
`

// MarkStalledSessions fails PARSING sessions with no liveness writes since
// the cutoff.
func (r *PostgresImportRepository) MarkStalledSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := r.pool.Exec(ctx, markStalledSessionsQuery, SessionFailed, SessionParsing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stalled sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var importRowColumns = []string{
	"id", "session_id", "position", "raw_data", "amount_minor", "txn_time",
	"direction", "narration", "category", "platform", "payment_method",
	"notes", "tags", "recurring", "classified_by",
	"conf_amount", "conf_datetime", "conf_type", "conf_category",
	"conf_platform", "conf_method", "status",
}

// InsertRows bulk-inserts classified rows with COPY, preserving position
// order.
func (r *PostgresImportRepository) InsertRows(ctx context.Context, rows []*ImportRow) error {
	if len(rows) == 0 {
		return nil
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"import_rows"},
		importRowColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := rows[i]
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}
			if row.Status == "" {
				row.Status = RowPending
			}
			if row.Tags == nil {
				row.Tags = []string{}
			}
			return []any{
				row.ID, row.SessionID, row.Position, row.RawData, row.AmountMinor,
				row.TxnTime, row.Direction, row.Narration, row.Category,
				row.Platform, row.PaymentMethod, row.Notes, row.Tags,
				row.Recurring, row.ClassifiedBy,
				row.Confidence.Amount, row.Confidence.Datetime, row.Confidence.Type,
				row.Confidence.Category, row.Confidence.Platform, row.Confidence.Method,
				row.Status,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to bulk insert import rows: %w", err)
	}
	return nil
}

const rowSelectColumns = `
	id, session_id, position, raw_data, amount_minor, txn_time, direction,
	narration, category, platform, payment_method, notes, tags, recurring,
	classified_by, conf_amount, conf_datetime, conf_type, conf_category,
	conf_platform, conf_method, status, posted_expense_id, created_at, updated_at
`

const getRowQuery = `
	SELECT` + rowSelectColumns + `
	FROM import_rows
	WHERE id = $1 AND session_id = $2
`

// GetRow retrieves one row scoped to its session.
func (r *PostgresImportRepository) GetRow(ctx context.Context, sessionID, rowID uuid.UUID) (*ImportRow, error) {
	row, err := scanRow(r.pool.QueryRow(ctx, getRowQuery, rowID, sessionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import row: %w", err)
	}
	return row, nil
}

const listRowsQuery = `
	SELECT` + rowSelectColumns + `
	FROM import_rows
	WHERE session_id = $1
	ORDER BY position
`

// ListRows returns all rows of a session in insertion order.
func (r *PostgresImportRepository) ListRows(ctx context.Context, sessionID uuid.UUID) ([]*ImportRow, error) {
	rows, err := r.pool.Query(ctx, listRowsQuery, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import rows: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

const listPendingRowsQuery = `
	SELECT` + rowSelectColumns + `
	FROM import_rows
	WHERE session_id = $1 AND status = $2
	ORDER BY position
`

const listPendingRuleRowsQuery = `
	SELECT` + rowSelectColumns + `
	FROM import_rows
	WHERE session_id = $1 AND status = $2 AND classified_by = $3
	ORDER BY position
`

// ListPendingRows returns PENDING rows, optionally only rule-classified ones.
func (r *PostgresImportRepository) ListPendingRows(ctx context.Context, sessionID uuid.UUID, ruleOnly bool) ([]*ImportRow, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if ruleOnly {
		rows, err = r.pool.Query(ctx, listPendingRuleRowsQuery, sessionID, RowPending, "RULE")
	} else {
		rows, err = r.pool.Query(ctx, listPendingRowsQuery, sessionID, RowPending)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list pending rows: %w", err)
	}
	defer rows.Close()
	return collectRows(rows)
}

const countPendingRowsQuery = `
	SELECT COUNT(*) FROM import_rows WHERE session_id = $1 AND status = $2
`

// CountPendingRows counts rows still awaiting review.
func (r *PostgresImportRepository) CountPendingRows(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countPendingRowsQuery, sessionID, RowPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pending rows: %w", err)
	}
	return n, nil
}

const updateRowClassificationQuery = `
	UPDATE import_rows SET
		category = $2, platform = $3, payment_method = $4, tags = $5,
		classified_by = $6,
		conf_category = $7, conf_platform = $8, conf_method = $9,
		updated_at = NOW()
	WHERE id = $1
`

// UpdateRowClassification overwrites classification fields after AI fallback.
func (r *PostgresImportRepository) UpdateRowClassification(ctx context.Context, row *ImportRow) error {
	if row.Tags == nil {
		row.Tags = []string{}
	}
	_, err := r.pool.Exec(ctx, updateRowClassificationQuery,
		row.ID, row.Category, row.Platform, row.PaymentMethod, row.Tags,
		row.ClassifiedBy,
		row.Confidence.Category, row.Confidence.Platform, row.Confidence.Method,
	)
	if err != nil {
		return fmt.Errorf("failed to update row classification: %w", err)
	}
	return nil
}

const skipRowQuery = `
	UPDATE import_rows SET status = $2, updated_at = NOW()
	WHERE id = $1 AND status = $3
`

// SkipRow compare-and-swaps a row from PENDING to SKIPPED.
func (r *PostgresImportRepository) SkipRow(ctx context.Context, rowID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, skipRowQuery, rowID, RowSkipped, RowPending)
	if err != nil {
		return false, fmt.Errorf("failed to skip import row: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const confirmRowQuery = `
	UPDATE import_rows SET status = $2, posted_expense_id = $3, updated_at = NOW()
	WHERE id = $1 AND status = $4
`

// MaterializeRow confirms one row and inserts its ledger entry atomically.
func (r *PostgresImportRepository) MaterializeRow(ctx context.Context, m Materialization) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin materialization: %w", err)
	}
	defer tx.Rollback(ctx)

	ok, err := materializeInTx(ctx, tx, m)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit materialization: %w", err)
	}
	return true, nil
}

// MaterializeRows bulk-confirms rows in one transaction. Rows that lose the
// status compare-and-swap are skipped, not failed.
func (r *PostgresImportRepository) MaterializeRows(ctx context.Context, items []Materialization) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin bulk materialization: %w", err)
	}
	defer tx.Rollback(ctx)

	imported := 0
	for _, m := range items {
		ok, err := materializeInTx(ctx, tx, m)
		if err != nil {
			return 0, err
		}
		if ok {
			imported++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit bulk materialization: %w", err)
	}
	return imported, nil
}

func materializeInTx(ctx context.Context, tx pgx.Tx, m Materialization) (bool, error) {
	if m.Entry.ID == uuid.Nil {
		m.Entry.ID = uuid.New()
	}

	tag, err := tx.Exec(ctx, confirmRowQuery, m.RowID, RowConfirmed, m.Entry.ID, RowPending)
	if err != nil {
		return false, fmt.Errorf("failed to confirm import row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	rowID := m.RowID
	m.Entry.ImportRowID = &rowID
	m.Entry.Source = expense.SourceImport
	if err := expense.InsertTx(ctx, tx, m.Entry); err != nil {
		return false, err
	}
	return true, nil
}

func scanRow(row pgx.Row) (*ImportRow, error) {
	var r ImportRow
	err := row.Scan(
		&r.ID, &r.SessionID, &r.Position, &r.RawData, &r.AmountMinor,
		&r.TxnTime, &r.Direction, &r.Narration, &r.Category, &r.Platform,
		&r.PaymentMethod, &r.Notes, &r.Tags, &r.Recurring, &r.ClassifiedBy,
		&r.Confidence.Amount, &r.Confidence.Datetime, &r.Confidence.Type,
		&r.Confidence.Category, &r.Confidence.Platform, &r.Confidence.Method,
		&r.Status, &r.PostedExpenseID, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRows(rows pgx.Rows) ([]*ImportRow, error) {
	var out []*ImportRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
