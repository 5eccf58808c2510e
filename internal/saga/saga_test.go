package saga

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artbay/market-bridge/internal/blockchain"
	"github.com/artbay/market-bridge/internal/config"
	"github.com/artbay/market-bridge/internal/notifier"
	"github.com/artbay/market-bridge/internal/store"
)

type etherCall struct {
	tokenID string
	amount  *big.Int
	to      common.Address
}

// fakeSession scripts one wallet's chain behavior for a saga run.
type fakeSession struct {
	addr common.Address

	mintTx   string
	mintErr  error
	event    *blockchain.MintEvent
	eventErr error

	etherTxs   []string
	etherErrs  []error
	etherCalls []etherCall

	tokenTx    string
	tokenErr   error
	tokenCalls []common.Address

	burnTx    string
	burnErr   error
	burnCalls []string

	closed bool
}

func (f *fakeSession) Address() common.Address { return f.addr }
func (f *fakeSession) Close()                  { f.closed = true }

func (f *fakeSession) MintNFT(_ context.Context, _, _ int64) (string, error) {
	return f.mintTx, f.mintErr
}

func (f *fakeSession) WaitForMintEvent(_ context.Context, _ string) (*blockchain.MintEvent, error) {
	return f.event, f.eventErr
}

func (f *fakeSession) TransferEther(_ context.Context, tokenID string, amountWei *big.Int, counterparty common.Address) (string, error) {
	i := len(f.etherCalls)
	f.etherCalls = append(f.etherCalls, etherCall{tokenID: tokenID, amount: amountWei, to: counterparty})

	var tx string
	var err error
	if i < len(f.etherTxs) {
		tx = f.etherTxs[i]
	}
	if i < len(f.etherErrs) {
		err = f.etherErrs[i]
	}
	return tx, err
}

func (f *fakeSession) TransferToken(_ context.Context, _ string, to common.Address) (string, error) {
	f.tokenCalls = append(f.tokenCalls, to)
	return f.tokenTx, f.tokenErr
}

func (f *fakeSession) BurnNFT(_ context.Context, tokenID string) (string, error) {
	f.burnCalls = append(f.burnCalls, tokenID)
	return f.burnTx, f.burnErr
}

// fakeFactory hands out scripted sessions by key reference.
type fakeFactory struct {
	sessions map[string]*fakeSession
	opened   []string
}

func (f *fakeFactory) Session(keyRef string) (ChainSession, error) {
	f.opened = append(f.opened, keyRef)
	s, ok := f.sessions[keyRef]
	if !ok {
		return nil, fmt.Errorf("unknown key reference %q", keyRef)
	}
	return s, nil
}

type sentNotification struct {
	wallet  string
	payload notifier.Payload
}

// fakeNotifier records every payload a saga emits.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeNotifier) Notify(wallet string, p notifier.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{wallet: wallet, payload: p})
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.payload.Status+":"+n.payload.Type)
	}
	return out
}

func newTestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return store.New(db), mock
}

func testChainConfig() config.BlockchainConfig {
	return config.BlockchainConfig{
		RPCURL:              "http://localhost:8545",
		ChainID:             1337,
		ContractAddress:     "0x00000000000000000000000000000000000000aa",
		ConfirmTimeout:      time.Second,
		ConfirmPollInterval: 10 * time.Millisecond,
		EventGraceInterval:  50 * time.Millisecond,
	}
}

func TestWeiFromPrice(t *testing.T) {
	tests := []struct {
		price string
		wei   string
	}{
		{price: "0.3", wei: "300000000000000000"},
		{price: "1", wei: "1000000000000000000"},
		{price: "0.000000000000000001", wei: "1"},
		{price: "2.5", wei: "2500000000000000000"},
	}

	for _, tt := range tests {
		price, err := decimal.NewFromString(tt.price)
		require.NoError(t, err)
		assert.Equal(t, tt.wei, weiFromPrice(price).String(), "price %s", tt.price)
	}
}
