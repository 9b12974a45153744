// Package expense holds the ledger entry model that confirmed import rows
// materialize into. Entry CRUD surfaces live elsewhere; this package owns the
// shape and the insert used during materialization.
package expense

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Entry is one persisted ledger entry.
type Entry struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AmountMinor   int64
	TxnTime       time.Time
	Direction     string
	Category      string
	Platform      string
	PaymentMethod string
	Notes         string
	Tags          []string
	Source        string
	ImportRowID   *uuid.UUID
	Narration     string
	CreatedAt     time.Time
}

// SourceImport marks entries materialized from a statement import.
const SourceImport = "import"

const insertEntryQuery = `
	INSERT INTO expenses (
		id, user_id, amount_minor, txn_time, direction, category, platform,
		payment_method, notes, tags, source, import_row_id, narration
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// InsertTx inserts an entry inside the caller's transaction. The unique
// constraint on import_row_id backs exactly-once materialization.
func InsertTx(ctx context.Context, tx pgx.Tx, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}

	_, err := tx.Exec(ctx, insertEntryQuery,
		e.ID, e.UserID, e.AmountMinor, e.TxnTime, e.Direction, e.Category,
		e.Platform, e.PaymentMethod, e.Notes, e.Tags, e.Source, e.ImportRowID,
		e.Narration,
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}
