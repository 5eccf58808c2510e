package saga

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artbay/market-bridge/internal/blockchain"
	"github.com/artbay/market-bridge/internal/queue"
)

const (
	buyerAddr  = "0x2222222222222222222222222222222222222222"
	sellerAddr = "0x3333333333333333333333333333333333333333"
)

func transferCommand() queue.TransferCommand {
	return queue.TransferCommand{
		TransferID:      11,
		TokenID:         "42",
		Price:           decimal.RequireFromString("0.3"),
		OwnerAddress:    buyerAddr,
		OwnerKey:        "env:BUYER_KEY",
		SellerAddress:   sellerAddr,
		SellerKey:       "env:SELLER_KEY",
		PurchaseAssetNo: 21,
		PurchaseNo:      31,
	}
}

func transferFixture() (*fakeSession, *fakeSession, *fakeFactory) {
	buyer := &fakeSession{addr: common.HexToAddress(buyerAddr), etherTxs: []string{"0xeth"}}
	seller := &fakeSession{addr: common.HexToAddress(sellerAddr), tokenTx: "0xtok"}
	factory := &fakeFactory{sessions: map[string]*fakeSession{
		"env:BUYER_KEY":  buyer,
		"env:SELLER_KEY": seller,
	}}
	return buyer, seller, factory
}

func expectTransferCleanup(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM transfer_records").
		WithArgs(int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM purchase_assets").
		WithArgs(int64(21)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM purchases").
		WithArgs(int64(31)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestExecuteTransferSuccess(t *testing.T) {
	st, mock := newTestStore(t)
	buyer, seller, factory := transferFixture()
	notif := &fakeNotifier{}

	mock.ExpectExec("UPDATE transfer_records").
		WithArgs(int64(11), "currency_sent", "0xeth").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transfer_records").
		WithArgs(int64(11), "token_delivered", "0xtok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE purchases").
		WithArgs(int64(31)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE purchase_assets").
		WithArgs(int64(21), "42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE assets").
		WithArgs("42", "sold").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	o := New(st, factory, notif, testChainConfig())
	require.NoError(t, o.ExecuteTransfer(context.Background(), transferCommand()))

	require.NoError(t, mock.ExpectationsWereMet())

	// Currency went buyer -> seller, token went seller -> buyer.
	require.Len(t, buyer.etherCalls, 1)
	assert.Equal(t, "300000000000000000", buyer.etherCalls[0].amount.String())
	assert.Equal(t, common.HexToAddress(sellerAddr), buyer.etherCalls[0].to)
	require.Len(t, seller.tokenCalls, 1)
	assert.Equal(t, common.HexToAddress(buyerAddr), seller.tokenCalls[0])

	assert.Equal(t, []string{"success:Transfer"}, notif.types())
	assert.True(t, buyer.closed)
	assert.True(t, seller.closed)
}

func TestExecuteTransferCurrencyLegRejected(t *testing.T) {
	st, mock := newTestStore(t)
	buyer, seller, factory := transferFixture()
	buyer.etherErrs = []error{fmt.Errorf("%w: transferEther: insufficient funds", blockchain.ErrRejected)}
	notif := &fakeNotifier{}

	expectTransferCleanup(mock)

	o := New(st, factory, notif, testChainConfig())
	require.NoError(t, o.ExecuteTransfer(context.Background(), transferCommand()))

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"failed:Transfer-Ether"}, notif.types())
	assert.Empty(t, seller.tokenCalls)
	assert.Empty(t, seller.etherCalls)
}

func TestExecuteTransferCurrencyLegUnreachableIsRetriable(t *testing.T) {
	st, mock := newTestStore(t)
	buyer, seller, factory := transferFixture()
	buyer.etherErrs = []error{fmt.Errorf("%w: no receipt", blockchain.ErrUnreachable)}
	notif := &fakeNotifier{}

	o := New(st, factory, notif, testChainConfig())
	err := o.ExecuteTransfer(context.Background(), transferCommand())

	require.Error(t, err)
	assert.True(t, errors.Is(err, blockchain.ErrUnreachable))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, notif.sent)
	assert.Empty(t, seller.tokenCalls)
}

func TestExecuteTransferTokenLegFailureRefundsExactAmountOnce(t *testing.T) {
	st, mock := newTestStore(t)
	buyer, seller, factory := transferFixture()
	seller.tokenErr = fmt.Errorf("%w: transferToken: not token owner", blockchain.ErrRejected)
	seller.etherTxs = []string{"0xrefund"}
	notif := &fakeNotifier{}

	mock.ExpectExec("UPDATE transfer_records").
		WithArgs(int64(11), "currency_sent", "0xeth").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transfer_records").
		WithArgs(int64(11), "compensating").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectTransferCleanup(mock)

	o := New(st, factory, notif, testChainConfig())
	require.NoError(t, o.ExecuteTransfer(context.Background(), transferCommand()))

	require.NoError(t, mock.ExpectationsWereMet())

	// Exactly one refund, reversing the exact wei amount back to the buyer.
	require.Len(t, seller.etherCalls, 1)
	assert.Equal(t, "300000000000000000", seller.etherCalls[0].amount.String())
	assert.Equal(t, common.HexToAddress(buyerAddr), seller.etherCalls[0].to)
	require.Len(t, buyer.etherCalls, 1)

	assert.Equal(t, []string{"failed:Transfer-Token", "success:RecvTransfer-Ether"}, notif.types())
}

func TestExecuteTransferRefundFailureRecordsReconciliation(t *testing.T) {
	st, mock := newTestStore(t)
	buyer, seller, factory := transferFixture()
	seller.tokenErr = fmt.Errorf("%w: transferToken: not token owner", blockchain.ErrRejected)
	seller.etherErrs = []error{fmt.Errorf("%w: no receipt", blockchain.ErrUnreachable)}
	notif := &fakeNotifier{}

	mock.ExpectExec("UPDATE transfer_records").
		WithArgs(int64(11), "currency_sent", "0xeth").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE transfer_records").
		WithArgs(int64(11), "compensating").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectTransferCleanup(mock)
	mock.ExpectExec("INSERT INTO reconciliation_records").
		WithArgs(sqlmock.AnyArg(), "refund_failed", "transfer:11", "0xeth", buyerAddr, "300000000000000000", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	o := New(st, factory, notif, testChainConfig())
	require.NoError(t, o.ExecuteTransfer(context.Background(), transferCommand()))

	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, buyer.etherCalls, 1)
	require.Len(t, seller.etherCalls, 1)
	assert.Equal(t, []string{"failed:Transfer-Token", "failed:RecvTransfer-Ether"}, notif.types())
}

// The transfer saga has no pre-chain idempotency guard: a redelivered message
// charges the buyer again before the ledger can object. The guarded
// currency_sent write then matches no row, so the delivery fails loudly
// instead of delivering the token twice. Only transfer-mint checks before the
// chain call.
func TestExecuteTransferRedeliveryChargesAgain(t *testing.T) {
	st, mock := newTestStore(t)
	buyer, seller, factory := transferFixture()
	buyer.etherTxs = []string{"0xeth", "0xeth2"}
	notif := &fakeNotifier{}

	// First delivery completes normally.
	mock.ExpectExec("UPDATE transfer_records").
		WithArgs(int64(11), "currency_sent", "0xeth").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transfer_records").
		WithArgs(int64(11), "token_delivered", "0xtok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE purchases").
		WithArgs(int64(31)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE purchase_assets").
		WithArgs(int64(21), "42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE assets").
		WithArgs("42", "sold").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Second delivery: the row already sits at token_delivered, so the guarded
	// currency_sent write matches nothing.
	mock.ExpectExec("UPDATE transfer_records").
		WithArgs(int64(11), "currency_sent", "0xeth2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	o := New(st, factory, notif, testChainConfig())
	require.NoError(t, o.ExecuteTransfer(context.Background(), transferCommand()))

	err := o.ExecuteTransfer(context.Background(), transferCommand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in a state allowing currency_sent")

	require.NoError(t, mock.ExpectationsWereMet())
	assert.Len(t, buyer.etherCalls, 2, "buyer is charged once per delivery")
	require.Len(t, seller.tokenCalls, 1, "token moves only on the first delivery")
}
