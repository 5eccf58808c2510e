package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/volatiletech/null/v8"

	"github.com/artbay/market-bridge/internal/blockchain"
	"github.com/artbay/market-bridge/internal/notifier"
	"github.com/artbay/market-bridge/internal/queue"
	"github.com/artbay/market-bridge/internal/store"
)

// ExecuteTransferMint runs a paid creator sale: the buyer pays the seller
// against the listing token, then a fresh token is minted into the buyer's
// wallet. The transfer record is inserted only after the fresh token id is
// known, guarded by an existence check so a redelivered message cannot
// charge the buyer or create a duplicate row a second time.
func (o *Orchestrator) ExecuteTransferMint(ctx context.Context, cmd queue.TransferMintCommand) error {
	done, err := o.store.TransferRecordExists(ctx, o.store.DB(), cmd.AssetNo, cmd.ProductNo, cmd.TokenID, cmd.OwnerAddress)
	if err != nil {
		return fmt.Errorf("transfer-mint %d idempotency check: %w", cmd.MintID, err)
	}
	if done {
		log.Warn().
			Int64("mint_id", cmd.MintID).
			Str("token_id", cmd.TokenID).
			Str("buyer", cmd.OwnerAddress).
			Msg("Transfer-mint already completed, dropping redelivered message")
		return nil
	}

	buyer, seller, err := o.openPair(cmd.OwnerKey, cmd.OwnerAddress, cmd.SellerKey, cmd.SellerAddress)
	if err != nil {
		log.Error().Err(err).Int64("mint_id", cmd.MintID).Msg("Transfer-mint key resolution failed")
		return o.failTransferMintClean(ctx, cmd, "TransferNMint", fmt.Sprintf("key resolution failed: %v", err))
	}
	defer buyer.Close()
	defer seller.Close()

	wei := weiFromPrice(cmd.Price)
	sellerAddr := common.HexToAddress(cmd.SellerAddress)
	buyerAddr := common.HexToAddress(cmd.OwnerAddress)

	etherTx, err := buyer.TransferEther(ctx, cmd.TokenID, wei, sellerAddr)
	if err != nil {
		if errors.Is(err, blockchain.ErrUnreachable) {
			return fmt.Errorf("transfer-mint %d currency leg: %w", cmd.MintID, err)
		}
		log.Error().Err(err).Int64("mint_id", cmd.MintID).Msg("Currency leg rejected")
		return o.failTransferMintClean(ctx, cmd, "Transfer-Ether", err.Error())
	}

	if err := o.store.UpdateMintState(ctx, o.store.DB(), cmd.MintID, store.MintStateAwaitingChain); err != nil {
		// Currency already moved; without the marker the mint record cannot
		// advance. Surface for dead-lettering.
		return fmt.Errorf("transfer-mint %d mint marker: %w", cmd.MintID, err)
	}

	mintTx, err := buyer.MintNFT(ctx, cmd.AssetNo, cmd.ProductNo)
	if err != nil {
		log.Error().
			Err(err).
			Int64("mint_id", cmd.MintID).
			Str("currency_tx", etherTx).
			Msg("Mint leg failed after currency moved, compensating")
		return o.compensateTransferMint(ctx, cmd, seller, buyerAddr, wei, etherTx)
	}

	evCtx, cancel := context.WithTimeout(ctx, o.cfg.EventGraceInterval)
	defer cancel()

	event, err := buyer.WaitForMintEvent(evCtx, mintTx)
	if err != nil {
		// Currency moved and the mint confirmed, but the assigned token id is
		// unknown. Neither completing nor refunding is safe; hand the whole
		// operation to an operator.
		log.Error().
			Err(err).
			Int64("mint_id", cmd.MintID).
			Str("mint_tx", mintTx).
			Msg("Mint confirmed but event not observed, recording for reconciliation")

		recErr := o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if err := o.store.InsertReconciliation(ctx, tx, &store.ReconciliationRecord{
				Kind:      store.ReconciliationMintEventMissed,
				Reference: fmt.Sprintf("mint:%d purchase:%d", cmd.MintID, cmd.PurchaseNo),
				TxHash:    mintTx,
				Wallet:    cmd.OwnerAddress,
				Amount:    wei.String(),
				Detail:    "transfer-mint: currency sent and mint confirmed, but token id unknown",
			}); err != nil {
				return err
			}
			if err := o.store.DeleteMintRecord(ctx, tx, cmd.MintID); err != nil {
				return err
			}
			return o.store.DeletePurchaseRows(ctx, tx, cmd.PurchaseNo, cmd.PurchaseAssetNo)
		})
		if recErr != nil {
			return fmt.Errorf("transfer-mint %d reconciliation record: %w", cmd.MintID, recErr)
		}

		o.notify.Notify(cmd.OwnerAddress, notifier.Failure("TransferNMint", "mint result could not be confirmed", map[string]interface{}{
			"mint_id":     cmd.MintID,
			"purchase_no": cmd.PurchaseNo,
			"tx_hash":     mintTx,
		}))
		return nil
	}

	err = o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Re-check inside the transaction; a concurrent redelivery may have
		// completed between the early guard and here.
		exists, err := o.store.TransferRecordExists(ctx, tx, cmd.AssetNo, cmd.ProductNo, cmd.TokenID, cmd.OwnerAddress)
		if err != nil {
			return err
		}
		if !exists {
			if err := o.store.InsertTransferRecord(ctx, tx, &store.TransferRecord{
				PurchaseAssetNo: null.Int64From(cmd.PurchaseAssetNo),
				PurchaseNo:      null.Int64From(cmd.PurchaseNo),
				FromAddr:        cmd.SellerAddress,
				ToAddr:          cmd.OwnerAddress,
				TokenID:         cmd.TokenID,
				TxHash:          null.StringFrom(mintTx),
				Result:          store.TransferStateTokenDelivered,
			}); err != nil {
				return err
			}
		}
		if err := o.store.CompleteMint(ctx, tx, cmd.MintID, event.TokenID, mintTx); err != nil {
			return err
		}
		return o.store.MarkPurchasePaid(ctx, tx, cmd.PurchaseNo, cmd.PurchaseAssetNo, event.TokenID)
	})
	if err != nil {
		return fmt.Errorf("transfer-mint %d ledger update: %w", cmd.MintID, err)
	}

	log.Info().
		Int64("mint_id", cmd.MintID).
		Str("token_id", event.TokenID).
		Str("tx_hash", mintTx).
		Msg("Transfer-mint completed")

	o.notify.Notify(cmd.OwnerAddress, notifier.Success("TransferNMint", map[string]interface{}{
		"mint_id":     cmd.MintID,
		"purchase_no": cmd.PurchaseNo,
		"token_id":    event.TokenID,
		"price":       cmd.Price.String(),
		"tx_hash":     mintTx,
	}))
	return nil
}

// failTransferMintClean removes the pending rows after a failure with no
// chain side effects.
func (o *Orchestrator) failTransferMintClean(ctx context.Context, cmd queue.TransferMintCommand, phase, reason string) error {
	err := o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := o.store.DeleteMintRecord(ctx, tx, cmd.MintID); err != nil {
			return err
		}
		return o.store.DeletePurchaseRows(ctx, tx, cmd.PurchaseNo, cmd.PurchaseAssetNo)
	})
	if err != nil {
		return fmt.Errorf("transfer-mint %d cleanup: %w", cmd.MintID, err)
	}

	o.notify.Notify(cmd.OwnerAddress, notifier.Failure(phase, reason, map[string]interface{}{
		"mint_id":     cmd.MintID,
		"purchase_no": cmd.PurchaseNo,
		"token_id":    cmd.TokenID,
	}))
	return nil
}

// compensateTransferMint refunds the buyer once after a failed mint leg.
func (o *Orchestrator) compensateTransferMint(ctx context.Context, cmd queue.TransferMintCommand, seller ChainSession, buyerAddr common.Address, wei *big.Int, etherTx string) error {
	err := o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := o.store.DeleteMintRecord(ctx, tx, cmd.MintID); err != nil {
			return err
		}
		return o.store.DeletePurchaseRows(ctx, tx, cmd.PurchaseNo, cmd.PurchaseAssetNo)
	})
	if err != nil {
		return fmt.Errorf("transfer-mint %d compensation cleanup: %w", cmd.MintID, err)
	}

	o.notify.Notify(cmd.OwnerAddress, notifier.Failure("TransferNMint", "mint failed after payment", map[string]interface{}{
		"mint_id":     cmd.MintID,
		"purchase_no": cmd.PurchaseNo,
	}))

	refundTx, refundErr := seller.TransferEther(ctx, cmd.TokenID, wei, buyerAddr)
	if refundErr != nil {
		log.Error().
			Err(refundErr).
			Int64("mint_id", cmd.MintID).
			Str("currency_tx", etherTx).
			Msg("Refund failed, buyer funds stranded, recording for reconciliation")

		if err := o.store.InsertReconciliation(ctx, o.store.DB(), &store.ReconciliationRecord{
			Kind:      store.ReconciliationRefundFailed,
			Reference: fmt.Sprintf("purchase:%d", cmd.PurchaseNo),
			TxHash:    etherTx,
			Wallet:    cmd.OwnerAddress,
			Amount:    wei.String(),
			Detail:    fmt.Sprintf("transfer-mint refund to buyer failed: %v", refundErr),
		}); err != nil {
			return fmt.Errorf("transfer-mint %d reconciliation record: %w", cmd.MintID, err)
		}

		o.notify.Notify(cmd.OwnerAddress, notifier.Failure("RecvTransfer-Ether", "refund failed", map[string]interface{}{
			"purchase_no": cmd.PurchaseNo,
			"amount_wei":  wei.String(),
		}))
		return nil
	}

	log.Info().
		Int64("mint_id", cmd.MintID).
		Str("refund_tx", refundTx).
		Msg("Buyer refunded after failed mint leg")

	o.notify.Notify(cmd.OwnerAddress, notifier.Success("RecvTransfer-Ether", map[string]interface{}{
		"purchase_no": cmd.PurchaseNo,
		"amount_wei":  wei.String(),
		"tx_hash":     refundTx,
	}))
	return nil
}
