package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/boil"
)

// MintRecord is the ledger row for one mint operation. TokenID and TxHash
// are set together on confirmation; a row never carries one without the
// other.
type MintRecord struct {
	MintID    int64
	AssetNo   int64
	ProductNo int64
	IssuedTo  string
	TokenID   null.String
	TxHash    null.String
	State     MintState
	Used      bool
	Burned    bool
}

// GetMintByTokenID resolves the issuing mint record for a token. The burn
// saga uses this to discover a token's issuer before touching the chain.
func (s *Store) GetMintByTokenID(ctx context.Context, exec boil.ContextExecutor, tokenID string) (*MintRecord, error) {
	query := `
		SELECT mint_id, asset_no, product_no, issued_to, token_id, tx_hash, state, used_flag, burned_flag
		FROM mint_records
		WHERE token_id = $1`

	return scanMintRecord(exec.QueryRowContext(ctx, query, tokenID))
}

func scanMintRecord(row *sql.Row) (*MintRecord, error) {
	var r MintRecord
	var state string
	err := row.Scan(&r.MintID, &r.AssetNo, &r.ProductNo, &r.IssuedTo, &r.TokenID, &r.TxHash, &state, &r.Used, &r.Burned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan mint record: %w", err)
	}

	r.State, err = ParseMintState(state)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// UpdateMintState moves a mint record to the given state. The statement only
// matches rows in a state the transition table allows, so a redelivered
// message cannot move a terminal row.
func (s *Store) UpdateMintState(ctx context.Context, exec boil.ContextExecutor, mintID int64, state MintState) error {
	query := fmt.Sprintf(
		`UPDATE mint_records SET state = $2 WHERE mint_id = $1 AND state IN (%s)`,
		stateInList(mintStatesAllowing(state)))

	res, err := exec.ExecContext(ctx, query, mintID, string(state))
	if err != nil {
		return fmt.Errorf("failed to update mint record %d state: %w", mintID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mint record %d not found or not in a state allowing %s", mintID, state)
	}

	return nil
}

// CompleteMint records the confirmed token id and transaction hash and moves
// the record to its terminal success state.
func (s *Store) CompleteMint(ctx context.Context, exec boil.ContextExecutor, mintID int64, tokenID, txHash string) error {
	query := fmt.Sprintf(`
		UPDATE mint_records
		SET token_id = $2, tx_hash = $3, state = $4
		WHERE mint_id = $1 AND state IN (%s)`,
		stateInList(mintStatesAllowing(MintStateTokenAssigned)))

	res, err := exec.ExecContext(ctx, query, mintID, tokenID, txHash, string(MintStateTokenAssigned))
	if err != nil {
		return fmt.Errorf("failed to complete mint record %d: %w", mintID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mint record %d not found or not awaiting chain confirmation", mintID)
	}

	return nil
}

// SetMintBurned flags the issuing record of a burned token.
func (s *Store) SetMintBurned(ctx context.Context, exec boil.ContextExecutor, mintID int64) error {
	query := `UPDATE mint_records SET burned_flag = TRUE WHERE mint_id = $1`

	if _, err := exec.ExecContext(ctx, query, mintID); err != nil {
		return fmt.Errorf("failed to flag mint record %d burned: %w", mintID, err)
	}
	return nil
}

// DeleteMintRecord removes a pending mint record after a failed operation.
func (s *Store) DeleteMintRecord(ctx context.Context, exec boil.ContextExecutor, mintID int64) error {
	query := `DELETE FROM mint_records WHERE mint_id = $1`

	if _, err := exec.ExecContext(ctx, query, mintID); err != nil {
		return fmt.Errorf("failed to delete mint record %d: %w", mintID, err)
	}
	return nil
}
