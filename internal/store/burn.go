package store

import (
	"context"
	"fmt"

	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/boil"
)

// BurnRecord is the ledger row for one burn operation.
type BurnRecord struct {
	BurnID    int64
	MintID    int64
	AssetNo   int64
	ProductNo int64
	TokenID   string
	State     BurnState
	TxHash    null.String
}

// CompleteBurn records the burn transaction hash and moves the record to its
// terminal success state.
func (s *Store) CompleteBurn(ctx context.Context, exec boil.ContextExecutor, burnID int64, txHash string) error {
	query := fmt.Sprintf(`
		UPDATE burn_records
		SET state = $2, tx_hash = $3
		WHERE burn_id = $1 AND state IN (%s)`,
		stateInList(burnStatesAllowing(BurnStateBurned)))

	res, err := exec.ExecContext(ctx, query, burnID, string(BurnStateBurned), txHash)
	if err != nil {
		return fmt.Errorf("failed to complete burn record %d: %w", burnID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("burn record %d not found or not in a state allowing burned", burnID)
	}

	return nil
}

// DeleteBurnRecord removes a pending burn record after a failed burn. Mint
// and asset rows are left untouched: nothing happened on-chain.
func (s *Store) DeleteBurnRecord(ctx context.Context, exec boil.ContextExecutor, burnID int64) error {
	query := `DELETE FROM burn_records WHERE burn_id = $1`

	if _, err := exec.ExecContext(ctx, query, burnID); err != nil {
		return fmt.Errorf("failed to delete burn record %d: %w", burnID, err)
	}
	return nil
}
