package store

import (
	"context"
	"fmt"

	"github.com/volatiletech/sqlboiler/v4/boil"
)

// AssignAssetToken stamps the confirmed token id on the asset. When the
// asset's sale window opens today the asset goes on sale in the same
// statement.
func (s *Store) AssignAssetToken(ctx context.Context, exec boil.ContextExecutor, assetNo int64, tokenID string) error {
	query := `
		UPDATE assets
		SET token_id = $2,
		    state = CASE WHEN sale_start_date IS NOT NULL AND sale_start_date::date <= CURRENT_DATE
		                 THEN $3 ELSE state END
		WHERE asset_no = $1`

	res, err := exec.ExecContext(ctx, query, assetNo, tokenID, string(AssetStateOnSale))
	if err != nil {
		return fmt.Errorf("failed to assign token to asset %d: %w", assetNo, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("asset %d not found", assetNo)
	}

	return nil
}

// MarkAssetSoldByToken flags the asset holding the given token as sold.
func (s *Store) MarkAssetSoldByToken(ctx context.Context, exec boil.ContextExecutor, tokenID string) error {
	query := `UPDATE assets SET sold_flag = TRUE, state = $2 WHERE token_id = $1`

	if _, err := exec.ExecContext(ctx, query, tokenID, string(AssetStateSold)); err != nil {
		return fmt.Errorf("failed to mark asset sold for token %s: %w", tokenID, err)
	}
	return nil
}

// DeactivateAsset takes a burned asset out of circulation.
func (s *Store) DeactivateAsset(ctx context.Context, exec boil.ContextExecutor, assetNo int64) error {
	query := `UPDATE assets SET use_flag = FALSE WHERE asset_no = $1`

	if _, err := exec.ExecContext(ctx, query, assetNo); err != nil {
		return fmt.Errorf("failed to deactivate asset %d: %w", assetNo, err)
	}
	return nil
}
