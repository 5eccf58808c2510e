package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db), mock
}

func TestInTxCommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE mint_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		return s.UpdateMintState(ctx, tx, 1, MintStateAwaitingChain)
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE mint_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := fmt.Errorf("second step failed")
	err := s.InTx(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if err := s.UpdateMintState(ctx, tx, 1, MintStateAwaitingChain); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMintByTokenIDScansStates(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"mint_id", "asset_no", "product_no", "issued_to", "token_id", "tx_hash", "state", "used_flag", "burned_flag",
	}).AddRow(int64(7), int64(5), int64(1), "0xabc", "42", "0xhash", "token_assigned", false, false)

	mock.ExpectQuery("SELECT (.+) FROM mint_records").WithArgs("42").WillReturnRows(rows)

	r, err := s.GetMintByTokenID(context.Background(), s.DB(), "42")
	require.NoError(t, err)

	assert.Equal(t, int64(7), r.MintID)
	assert.Equal(t, MintStateTokenAssigned, r.State)
	assert.Equal(t, "42", r.TokenID.String)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMintByTokenIDRejectsUnknownState(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"mint_id", "asset_no", "product_no", "issued_to", "token_id", "tx_hash", "state", "used_flag", "burned_flag",
	}).AddRow(int64(7), int64(5), int64(1), "0xabc", nil, nil, "exploded", false, false)

	mock.ExpectQuery("SELECT (.+) FROM mint_records").WithArgs("42").WillReturnRows(rows)

	_, err := s.GetMintByTokenID(context.Background(), s.DB(), "42")
	require.Error(t, err)
}

func TestUpdateMintStateGuardsTransitions(t *testing.T) {
	s, mock := newMockStore(t)

	// The write carries its allowed source states, so a row that already
	// reached a terminal state is left untouched.
	mock.ExpectExec(`UPDATE mint_records SET state = \$2 WHERE mint_id = \$1 AND state IN \('awaiting_chain', 'requested'\)`).
		WithArgs(int64(7), "awaiting_chain").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateMintState(context.Background(), s.DB(), 7, MintStateAwaitingChain)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in a state allowing awaiting_chain")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCurrencySentGuardsTransitions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE transfer_records SET result = \$2(.+)AND result IN \('currency_sent', 'requested'\)`).
		WithArgs(int64(11), "currency_sent", "0xeth").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkCurrencySent(context.Background(), s.DB(), 11, "0xeth")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in a state allowing currency_sent")
}

func TestUpdateTransferResultGuardsTransitions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE transfer_records SET result = \$2 WHERE transfer_id = \$1 AND result IN \('compensating', 'currency_sent'\)`).
		WithArgs(int64(11), "compensating").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateTransferResult(context.Background(), s.DB(), 11, TransferStateCompensating)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in a state allowing compensating")
}

func TestCompleteBurnGuardsTransitions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE burn_records SET(.+)AND state IN \('burned', 'requested'\)`).
		WithArgs(int64(13), "burned", "0xburn").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CompleteBurn(context.Background(), s.DB(), 13, "0xburn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in a state allowing burned")
}

func TestCompleteMintRequiresExistingRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE mint_records").
		WithArgs(int64(7), "42", "0xhash", "token_assigned").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CompleteMint(context.Background(), s.DB(), 7, "42", "0xhash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestTransferRecordExists(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(5), int64(1), "42", "0xbuyer").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.TransferRecordExists(context.Background(), s.DB(), 5, 1, "42", "0xbuyer")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestInsertReconciliationFillsDefaults(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO reconciliation_records").
		WithArgs(sqlmock.AnyArg(), "refund_failed", "transfer:11", "0xeth", "0xbuyer", "300", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := &ReconciliationRecord{
		Kind:      ReconciliationRefundFailed,
		Reference: "transfer:11",
		TxHash:    "0xeth",
		Wallet:    "0xbuyer",
		Amount:    "300",
		Detail:    "refund rejected",
	}
	require.NoError(t, s.InsertReconciliation(context.Background(), s.DB(), r))

	assert.NotZero(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
