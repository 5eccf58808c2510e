package store

import (
	"context"
	"fmt"

	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/boil"
)

// TransferRecord is the ledger row for one token purchase: a currency leg
// followed by a token (or fresh-mint) leg.
type TransferRecord struct {
	TransferID      int64
	PurchaseAssetNo null.Int64
	PurchaseNo      null.Int64
	MarketNo        null.Int64
	FromAddr        string
	ToAddr          string
	TokenID         string
	TxHash          null.String
	Result          TransferState
}

// MarkCurrencySent persists the currency-leg transaction hash before the
// token leg runs, so a crash between the two phases is identifiable. Rows in
// a state the transition table forbids are left alone and reported.
func (s *Store) MarkCurrencySent(ctx context.Context, exec boil.ContextExecutor, transferID int64, txHash string) error {
	query := fmt.Sprintf(`
		UPDATE transfer_records
		SET result = $2, tx_hash = $3
		WHERE transfer_id = $1 AND result IN (%s)`,
		stateInList(transferStatesAllowing(TransferStateCurrencySent)))

	res, err := exec.ExecContext(ctx, query, transferID, string(TransferStateCurrencySent), txHash)
	if err != nil {
		return fmt.Errorf("failed to mark transfer %d currency sent: %w", transferID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transfer record %d not found or not in a state allowing currency_sent", transferID)
	}

	return nil
}

// UpdateTransferResult moves a transfer record to the given state without
// touching its transaction hash.
func (s *Store) UpdateTransferResult(ctx context.Context, exec boil.ContextExecutor, transferID int64, state TransferState) error {
	query := fmt.Sprintf(
		`UPDATE transfer_records SET result = $2 WHERE transfer_id = $1 AND result IN (%s)`,
		stateInList(transferStatesAllowing(state)))

	res, err := exec.ExecContext(ctx, query, transferID, string(state))
	if err != nil {
		return fmt.Errorf("failed to update transfer %d result: %w", transferID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transfer record %d not found or not in a state allowing %s", transferID, state)
	}

	return nil
}

// CompleteTransfer records the token-leg hash and moves the record to its
// terminal success state.
func (s *Store) CompleteTransfer(ctx context.Context, exec boil.ContextExecutor, transferID int64, txHash string) error {
	query := fmt.Sprintf(`
		UPDATE transfer_records
		SET result = $2, tx_hash = $3
		WHERE transfer_id = $1 AND result IN (%s)`,
		stateInList(transferStatesAllowing(TransferStateTokenDelivered)))

	res, err := exec.ExecContext(ctx, query, transferID, string(TransferStateTokenDelivered), txHash)
	if err != nil {
		return fmt.Errorf("failed to complete transfer record %d: %w", transferID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transfer record %d not found or past currency_sent", transferID)
	}

	return nil
}

// DeleteTransferRecord removes a pending transfer record after a failed
// operation.
func (s *Store) DeleteTransferRecord(ctx context.Context, exec boil.ContextExecutor, transferID int64) error {
	query := `DELETE FROM transfer_records WHERE transfer_id = $1`

	if _, err := exec.ExecContext(ctx, query, transferID); err != nil {
		return fmt.Errorf("failed to delete transfer record %d: %w", transferID, err)
	}
	return nil
}

// TransferRecordExists reports whether a completed transfer already exists
// for the given asset/product/token/buyer tuple. The transfer-and-mint saga
// checks this before inserting, so a redelivered message cannot create a
// duplicate row.
func (s *Store) TransferRecordExists(ctx context.Context, exec boil.ContextExecutor, assetNo, productNo int64, tokenID, toAddr string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM transfer_records t
			JOIN mint_records m ON m.token_id = t.token_id
			WHERE m.asset_no = $1 AND m.product_no = $2 AND t.token_id = $3 AND t.to_addr = $4
		)`

	var exists bool
	if err := exec.QueryRowContext(ctx, query, assetNo, productNo, tokenID, toAddr).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check transfer record existence: %w", err)
	}

	return exists, nil
}

// InsertTransferRecord creates a completed transfer record. Used by the
// transfer-and-mint saga, whose record is created only after the fresh token
// is assigned.
func (s *Store) InsertTransferRecord(ctx context.Context, exec boil.ContextExecutor, r *TransferRecord) error {
	query := `
		INSERT INTO transfer_records (purchase_asset_no, purchase_no, market_no, from_addr, to_addr, token_id, tx_hash, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := exec.ExecContext(ctx, query,
		r.PurchaseAssetNo, r.PurchaseNo, r.MarketNo,
		r.FromAddr, r.ToAddr, r.TokenID, r.TxHash, string(r.Result))
	if err != nil {
		return fmt.Errorf("failed to insert transfer record: %w", err)
	}
	return nil
}

// MarkPurchasePaid moves the purchase rows to their paid state and stamps
// the delivered token id on the purchase asset.
func (s *Store) MarkPurchasePaid(ctx context.Context, exec boil.ContextExecutor, purchaseNo, purchaseAssetNo int64, tokenID string) error {
	query := `UPDATE purchases SET state = 'paid' WHERE purchase_no = $1`
	if _, err := exec.ExecContext(ctx, query, purchaseNo); err != nil {
		return fmt.Errorf("failed to mark purchase %d paid: %w", purchaseNo, err)
	}

	query = `UPDATE purchase_assets SET state = 'paid', token_id = $2 WHERE purchase_asset_no = $1`
	if _, err := exec.ExecContext(ctx, query, purchaseAssetNo, tokenID); err != nil {
		return fmt.Errorf("failed to mark purchase asset %d paid: %w", purchaseAssetNo, err)
	}

	return nil
}

// DeletePurchaseRows removes the purchase rows pre-created for a purchase
// whose on-chain flow failed.
func (s *Store) DeletePurchaseRows(ctx context.Context, exec boil.ContextExecutor, purchaseNo, purchaseAssetNo int64) error {
	query := `DELETE FROM purchase_assets WHERE purchase_asset_no = $1`
	if _, err := exec.ExecContext(ctx, query, purchaseAssetNo); err != nil {
		return fmt.Errorf("failed to delete purchase asset %d: %w", purchaseAssetNo, err)
	}

	query = `DELETE FROM purchases WHERE purchase_no = $1`
	if _, err := exec.ExecContext(ctx, query, purchaseNo); err != nil {
		return fmt.Errorf("failed to delete purchase %d: %w", purchaseNo, err)
	}

	return nil
}
