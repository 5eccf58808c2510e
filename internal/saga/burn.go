package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/blockchain"
	"github.com/artbay/market-bridge/internal/notifier"
	"github.com/artbay/market-bridge/internal/queue"
)

// ExecuteBurn retires a token: resolve the issuing mint record, submit the
// burn, then flag the mint record, deactivate the asset and close the burn
// record in one transaction.
func (o *Orchestrator) ExecuteBurn(ctx context.Context, cmd queue.BurnCommand) error {
	session, err := o.openSession(cmd.OwnerKey, cmd.OwnerAddress)
	if err != nil {
		log.Error().Err(err).Int64("burn_id", cmd.BurnID).Msg("Burn key resolution failed")
		return o.failBurn(ctx, cmd, fmt.Sprintf("key resolution failed: %v", err))
	}
	defer session.Close()

	rec, err := o.store.GetMintByTokenID(ctx, o.store.DB(), cmd.TokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return o.failBurn(ctx, cmd, fmt.Sprintf("token %s has no issuing mint record", cmd.TokenID))
	}
	if err != nil {
		return fmt.Errorf("burn %d issuer lookup: %w", cmd.BurnID, err)
	}
	if rec.Burned {
		return o.failBurn(ctx, cmd, fmt.Sprintf("token %s is already burned", cmd.TokenID))
	}

	txHash, err := session.BurnNFT(ctx, cmd.TokenID)
	if err != nil {
		if errors.Is(err, blockchain.ErrUnreachable) {
			return fmt.Errorf("burn %d: %w", cmd.BurnID, err)
		}
		log.Error().Err(err).Int64("burn_id", cmd.BurnID).Msg("Burn transaction rejected")
		return o.failBurn(ctx, cmd, err.Error())
	}

	err = o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := o.store.CompleteBurn(ctx, tx, cmd.BurnID, txHash); err != nil {
			return err
		}
		if err := o.store.SetMintBurned(ctx, tx, rec.MintID); err != nil {
			return err
		}
		return o.store.DeactivateAsset(ctx, tx, cmd.AssetNo)
	})
	if err != nil {
		return fmt.Errorf("burn %d ledger update: %w", cmd.BurnID, err)
	}

	log.Info().
		Int64("burn_id", cmd.BurnID).
		Str("token_id", cmd.TokenID).
		Str("tx_hash", txHash).
		Msg("Burn completed")

	o.notify.Notify(cmd.OwnerAddress, notifier.Success("Burn", map[string]interface{}{
		"burn_id":  cmd.BurnID,
		"mint_id":  cmd.MintID,
		"asset_no": cmd.AssetNo,
		"token_id": cmd.TokenID,
		"tx_hash":  txHash,
	}))
	return nil
}

// failBurn removes the pending burn row and tells the client. Mint and asset
// rows are untouched because nothing happened on-chain.
func (o *Orchestrator) failBurn(ctx context.Context, cmd queue.BurnCommand, reason string) error {
	if err := o.store.DeleteBurnRecord(ctx, o.store.DB(), cmd.BurnID); err != nil {
		return fmt.Errorf("burn %d cleanup: %w", cmd.BurnID, err)
	}

	o.notify.Notify(cmd.OwnerAddress, notifier.Failure("Burn", reason, map[string]interface{}{
		"burn_id":  cmd.BurnID,
		"token_id": cmd.TokenID,
	}))
	return nil
}
