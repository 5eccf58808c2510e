package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/sqlboiler/v4/boil"
)

// ReconciliationKind classifies why an operation needs manual follow-up.
type ReconciliationKind string

const (
	// ReconciliationMintEventMissed: the mint transaction confirmed but its
	// event was not observed within the grace interval; a token may exist
	// on-chain with no ledger row.
	ReconciliationMintEventMissed ReconciliationKind = "mint_event_missed"
	// ReconciliationRefundFailed: currency moved to the seller and the
	// compensating refund also failed; funds are stranded until an operator
	// intervenes.
	ReconciliationRefundFailed ReconciliationKind = "refund_failed"
)

// ReconciliationRecord is the durable operator signal for an operation that
// ended with chain and ledger state out of sync.
type ReconciliationRecord struct {
	ID        uuid.UUID
	Kind      ReconciliationKind
	Reference string // originating record id, e.g. "mint:42"
	TxHash    string
	Wallet    string
	Amount    string
	Detail    string
	CreatedAt time.Time
}

// InsertReconciliation persists a reconciliation record.
func (s *Store) InsertReconciliation(ctx context.Context, exec boil.ContextExecutor, r *ReconciliationRecord) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO reconciliation_records (id, kind, reference, tx_hash, wallet, amount, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := exec.ExecContext(ctx, query,
		r.ID, string(r.Kind), r.Reference, r.TxHash, r.Wallet, r.Amount, r.Detail, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation record: %w", err)
	}
	return nil
}

// ListOpenReconciliations returns reconciliation records for operator review,
// newest first.
func (s *Store) ListOpenReconciliations(ctx context.Context, exec boil.ContextExecutor, limit int) ([]*ReconciliationRecord, error) {
	query := `
		SELECT id, kind, reference, tx_hash, wallet, amount, detail, created_at
		FROM reconciliation_records
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := exec.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation records: %w", err)
	}
	defer rows.Close()

	var records []*ReconciliationRecord
	for rows.Next() {
		var r ReconciliationRecord
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.Reference, &r.TxHash, &r.Wallet, &r.Amount, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation record: %w", err)
		}
		r.Kind = ReconciliationKind(kind)
		records = append(records, &r)
	}

	return records, rows.Err()
}
