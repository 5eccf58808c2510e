package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/blockchain"
	"github.com/artbay/market-bridge/internal/notifier"
	"github.com/artbay/market-bridge/internal/queue"
	"github.com/artbay/market-bridge/internal/store"
)

// ExecuteTransfer runs a paid token sale in two sequential chain legs: the
// buyer pays the seller, then the seller's token moves to the buyer. The
// currency leg is persisted before the token leg starts, so a crash between
// the legs leaves an identifiable "currency_sent" row.
//
// If the token leg fails after the currency moved, one compensating refund
// is attempted. A failed refund strands the buyer's payment; that case is
// recorded for manual reconciliation rather than retried.
func (o *Orchestrator) ExecuteTransfer(ctx context.Context, cmd queue.TransferCommand) error {
	buyer, seller, err := o.openPair(cmd.OwnerKey, cmd.OwnerAddress, cmd.SellerKey, cmd.SellerAddress)
	if err != nil {
		log.Error().Err(err).Int64("transfer_id", cmd.TransferID).Msg("Transfer key resolution failed")
		return o.failTransferClean(ctx, cmd, "Transfer", fmt.Sprintf("key resolution failed: %v", err))
	}
	defer buyer.Close()
	defer seller.Close()

	wei := weiFromPrice(cmd.Price)
	sellerAddr := common.HexToAddress(cmd.SellerAddress)
	buyerAddr := common.HexToAddress(cmd.OwnerAddress)

	etherTx, err := buyer.TransferEther(ctx, cmd.TokenID, wei, sellerAddr)
	if err != nil {
		if errors.Is(err, blockchain.ErrUnreachable) {
			return fmt.Errorf("transfer %d currency leg: %w", cmd.TransferID, err)
		}
		log.Error().Err(err).Int64("transfer_id", cmd.TransferID).Msg("Currency leg rejected")
		return o.failTransferClean(ctx, cmd, "Transfer-Ether", err.Error())
	}

	if err := o.store.MarkCurrencySent(ctx, o.store.DB(), cmd.TransferID, etherTx); err != nil {
		// Currency already moved; without the marker row the operation cannot
		// be resumed safely. Surface for dead-lettering.
		return fmt.Errorf("transfer %d currency marker: %w", cmd.TransferID, err)
	}

	tokenTx, err := seller.TransferToken(ctx, cmd.TokenID, buyerAddr)
	if err != nil {
		log.Error().
			Err(err).
			Int64("transfer_id", cmd.TransferID).
			Str("currency_tx", etherTx).
			Msg("Token leg failed after currency moved, compensating")
		return o.compensateTransfer(ctx, cmd, seller, buyerAddr, wei, etherTx)
	}

	err = o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := o.store.CompleteTransfer(ctx, tx, cmd.TransferID, tokenTx); err != nil {
			return err
		}
		if err := o.store.MarkPurchasePaid(ctx, tx, cmd.PurchaseNo, cmd.PurchaseAssetNo, cmd.TokenID); err != nil {
			return err
		}
		return o.store.MarkAssetSoldByToken(ctx, tx, cmd.TokenID)
	})
	if err != nil {
		return fmt.Errorf("transfer %d ledger update: %w", cmd.TransferID, err)
	}

	log.Info().
		Int64("transfer_id", cmd.TransferID).
		Str("token_id", cmd.TokenID).
		Str("tx_hash", tokenTx).
		Msg("Transfer completed")

	o.notify.Notify(cmd.OwnerAddress, notifier.Success("Transfer", map[string]interface{}{
		"transfer_id": cmd.TransferID,
		"token_id":    cmd.TokenID,
		"price":       cmd.Price.String(),
		"tx_hash":     tokenTx,
	}))
	return nil
}

// failTransferClean removes the pending rows after a failure with no chain
// side effects and reports the failure phase to the buyer.
func (o *Orchestrator) failTransferClean(ctx context.Context, cmd queue.TransferCommand, phase, reason string) error {
	err := o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := o.store.DeleteTransferRecord(ctx, tx, cmd.TransferID); err != nil {
			return err
		}
		return o.store.DeletePurchaseRows(ctx, tx, cmd.PurchaseNo, cmd.PurchaseAssetNo)
	})
	if err != nil {
		return fmt.Errorf("transfer %d cleanup: %w", cmd.TransferID, err)
	}

	o.notify.Notify(cmd.OwnerAddress, notifier.Failure(phase, reason, map[string]interface{}{
		"transfer_id": cmd.TransferID,
		"token_id":    cmd.TokenID,
	}))
	return nil
}

// compensateTransfer handles a token leg that failed after the buyer's
// currency reached the seller: delete the pending rows, report the failed
// phase, then refund the exact amount from the seller back to the buyer.
// The refund is attempted once.
func (o *Orchestrator) compensateTransfer(ctx context.Context, cmd queue.TransferCommand, seller ChainSession, buyerAddr common.Address, wei *big.Int, etherTx string) error {
	if err := o.store.UpdateTransferResult(ctx, o.store.DB(), cmd.TransferID, store.TransferStateCompensating); err != nil {
		return fmt.Errorf("transfer %d compensation marker: %w", cmd.TransferID, err)
	}

	err := o.store.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := o.store.DeleteTransferRecord(ctx, tx, cmd.TransferID); err != nil {
			return err
		}
		return o.store.DeletePurchaseRows(ctx, tx, cmd.PurchaseNo, cmd.PurchaseAssetNo)
	})
	if err != nil {
		return fmt.Errorf("transfer %d compensation cleanup: %w", cmd.TransferID, err)
	}

	o.notify.Notify(cmd.OwnerAddress, notifier.Failure("Transfer-Token", "token delivery failed", map[string]interface{}{
		"transfer_id": cmd.TransferID,
		"token_id":    cmd.TokenID,
	}))

	refundTx, refundErr := seller.TransferEther(ctx, cmd.TokenID, wei, buyerAddr)
	if refundErr != nil {
		log.Error().
			Err(refundErr).
			Int64("transfer_id", cmd.TransferID).
			Str("currency_tx", etherTx).
			Msg("Refund failed, buyer funds stranded, recording for reconciliation")

		if err := o.store.InsertReconciliation(ctx, o.store.DB(), &store.ReconciliationRecord{
			Kind:      store.ReconciliationRefundFailed,
			Reference: fmt.Sprintf("transfer:%d", cmd.TransferID),
			TxHash:    etherTx,
			Wallet:    cmd.OwnerAddress,
			Amount:    wei.String(),
			Detail:    fmt.Sprintf("refund to buyer failed: %v", refundErr),
		}); err != nil {
			return fmt.Errorf("transfer %d reconciliation record: %w", cmd.TransferID, err)
		}

		o.notify.Notify(cmd.OwnerAddress, notifier.Failure("RecvTransfer-Ether", "refund failed", map[string]interface{}{
			"transfer_id": cmd.TransferID,
			"amount_wei":  wei.String(),
		}))
		return nil
	}

	log.Info().
		Int64("transfer_id", cmd.TransferID).
		Str("refund_tx", refundTx).
		Msg("Buyer refunded after failed token delivery")

	o.notify.Notify(cmd.OwnerAddress, notifier.Success("RecvTransfer-Ether", map[string]interface{}{
		"transfer_id": cmd.TransferID,
		"amount_wei":  wei.String(),
		"tx_hash":     refundTx,
	}))
	return nil
}

// openPair resolves and verifies both wallets before any chain call so a bad
// key cannot surface between the two legs.
func (o *Orchestrator) openPair(buyerKey, buyerAddr, sellerKey, sellerAddr string) (ChainSession, ChainSession, error) {
	buyer, err := o.openSession(buyerKey, buyerAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("buyer session: %w", err)
	}

	seller, err := o.openSession(sellerKey, sellerAddr)
	if err != nil {
		buyer.Close()
		return nil, nil, fmt.Errorf("seller session: %w", err)
	}

	return buyer, seller, nil
}
