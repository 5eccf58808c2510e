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
	"github.com/artbay/market-bridge/internal/store"
)

// ExecuteMint mints a fresh token for an asset: submit the mint, wait for the
// confirmed transaction's event to learn the assigned token id, then record
// token id and hash on the ledger in one transaction.
//
// A confirmed transaction whose event is never observed within the grace
// interval leaves the chain and the ledger out of sync: a token may exist
// with no row claiming it. That case is recorded for manual reconciliation
// and the pending row is removed, mirroring the failure path.
func (o *Orchestrator) ExecuteMint(ctx context.Context, cmd queue.MintCommand) error {
	session, err := o.openSession(cmd.OwnerKey, cmd.OwnerAddress)
	if err != nil {
		// Unresolvable or mismatched keys never heal by redelivery.
		log.Error().Err(err).Int64("mint_id", cmd.MintID).Msg("Mint key resolution failed")
		return o.failMint(ctx, cmd, fmt.Sprintf("key resolution failed: %v", err))
	}
	defer session.Close()

	if err := o.store.UpdateMintState(ctx, o.store.DB(), cmd.MintID, store.MintStateAwaitingChain); err != nil {
		return err
	}

	txHash, err := session.MintNFT(ctx, cmd.AssetNo, cmd.ProductNo)
	if err != nil {
		if errors.Is(err, blockchain.ErrUnreachable) {
			return fmt.Errorf("mint %d: %w", cmd.MintID, err)
		}
		log.Error().Err(err).Int64("mint_id", cmd.MintID).Msg("Mint transaction rejected")
		return o.failMint(ctx, cmd, err.Error())
	}

	evCtx, cancel := context.WithTimeout(ctx, o.cfg.EventGraceInterval)
	defer cancel()

	event, err := session.WaitForMintEvent(evCtx, txHash)
	if err != nil {
		log.Error().
			Err(err).
			Int64("mint_id", cmd.MintID).
			Str("tx_hash", txHash).
			Msg("Mint confirmed but event not observed, recording for reconciliation")

		recErr := o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if err := o.store.InsertReconciliation(ctx, tx, &store.ReconciliationRecord{
				Kind:      store.ReconciliationMintEventMissed,
				Reference: fmt.Sprintf("mint:%d", cmd.MintID),
				TxHash:    txHash,
				Wallet:    cmd.OwnerAddress,
				Detail:    "mint transaction confirmed but NewMintNFT event not observed within grace interval",
			}); err != nil {
				return err
			}
			return o.store.DeleteMintRecord(ctx, tx, cmd.MintID)
		})
		if recErr != nil {
			return fmt.Errorf("mint %d reconciliation record: %w", cmd.MintID, recErr)
		}

		o.notify.Notify(cmd.OwnerAddress, notifier.Failure("Mint", "mint result could not be confirmed", map[string]interface{}{
			"mint_id":    cmd.MintID,
			"asset_no":   cmd.AssetNo,
			"product_no": cmd.ProductNo,
			"tx_hash":    txHash,
		}))
		return nil
	}

	err = o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := o.store.CompleteMint(ctx, tx, cmd.MintID, event.TokenID, txHash); err != nil {
			return err
		}
		return o.store.AssignAssetToken(ctx, tx, cmd.AssetNo, event.TokenID)
	})
	if err != nil {
		return fmt.Errorf("mint %d ledger update: %w", cmd.MintID, err)
	}

	log.Info().
		Int64("mint_id", cmd.MintID).
		Str("token_id", event.TokenID).
		Str("tx_hash", txHash).
		Msg("Mint completed")

	o.notify.Notify(cmd.OwnerAddress, notifier.Success("Mint", map[string]interface{}{
		"mint_id":    cmd.MintID,
		"asset_no":   cmd.AssetNo,
		"product_no": cmd.ProductNo,
		"token_id":   event.TokenID,
		"tx_hash":    txHash,
	}))
	return nil
}

// failMint removes the pending mint row and tells the client. Nothing moved
// on-chain, so deletion alone restores the pre-request state.
func (o *Orchestrator) failMint(ctx context.Context, cmd queue.MintCommand, reason string) error {
	if err := o.store.DeleteMintRecord(ctx, o.store.DB(), cmd.MintID); err != nil {
		return fmt.Errorf("mint %d cleanup: %w", cmd.MintID, err)
	}

	o.notify.Notify(cmd.OwnerAddress, notifier.Failure("Mint", reason, map[string]interface{}{
		"mint_id":    cmd.MintID,
		"asset_no":   cmd.AssetNo,
		"product_no": cmd.ProductNo,
	}))
	return nil
}
