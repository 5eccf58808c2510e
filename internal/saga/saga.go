// Package saga runs each queued command through its multi-step chain and
// ledger flow. Every step either completes, compensates, or records the
// operation for manual reconciliation before the message is acknowledged.
package saga

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/artbay/market-bridge/internal/blockchain"
	"github.com/artbay/market-bridge/internal/config"
	"github.com/artbay/market-bridge/internal/notifier"
	"github.com/artbay/market-bridge/internal/queue"
	"github.com/artbay/market-bridge/internal/signer"
	"github.com/artbay/market-bridge/internal/store"
)

// ChainSession is the per-operation contract handle a saga drives. One
// session serves exactly one message and is closed when the saga ends.
type ChainSession interface {
	Address() common.Address
	MintNFT(ctx context.Context, assetNo, productNo int64) (string, error)
	WaitForMintEvent(ctx context.Context, txHash string) (*blockchain.MintEvent, error)
	TransferEther(ctx context.Context, tokenID string, amountWei *big.Int, counterparty common.Address) (string, error)
	TransferToken(ctx context.Context, tokenID string, to common.Address) (string, error)
	BurnNFT(ctx context.Context, tokenID string) (string, error)
	Close()
}

// SessionFactory opens a fresh chain session for a wallet key reference.
type SessionFactory interface {
	Session(keyRef string) (ChainSession, error)
}

// Notifier delivers terminal results to the originating wallet.
type Notifier interface {
	Notify(wallet string, p notifier.Payload)
}

// Orchestrator implements queue.Dispatcher: one saga per command type.
type Orchestrator struct {
	store    *store.Store
	sessions SessionFactory
	notify   Notifier
	cfg      config.BlockchainConfig
}

var _ queue.Dispatcher = (*Orchestrator)(nil)

// New creates the saga orchestrator.
func New(st *store.Store, sessions SessionFactory, n Notifier, cfg config.BlockchainConfig) *Orchestrator {
	return &Orchestrator{
		store:    st,
		sessions: sessions,
		notify:   n,
		cfg:      cfg,
	}
}

// weiFromPrice converts a decimal ether price to wei.
func weiFromPrice(price decimal.Decimal) *big.Int {
	return price.Shift(18).BigInt()
}

// openSession resolves a key reference and verifies the resulting wallet is
// the one the command claims to act for. A mismatched key must never sign
// on another wallet's behalf.
func (o *Orchestrator) openSession(keyRef, wallet string) (ChainSession, error) {
	session, err := o.sessions.Session(keyRef)
	if err != nil {
		return nil, err
	}

	if session.Address() != common.HexToAddress(wallet) {
		session.Close()
		return nil, fmt.Errorf("key does not control wallet %s", wallet)
	}

	return session, nil
}

// dialerFactory binds the RPC dialer and the key resolver into a
// SessionFactory.
type dialerFactory struct {
	dialer *blockchain.Dialer
	keys   signer.Resolver
}

// NewSessionFactory creates the production session factory: key references
// are resolved per call and never cached.
func NewSessionFactory(dialer *blockchain.Dialer, keys signer.Resolver) SessionFactory {
	return &dialerFactory{dialer: dialer, keys: keys}
}

func (f *dialerFactory) Session(keyRef string) (ChainSession, error) {
	key, err := f.keys.Resolve(keyRef)
	if err != nil {
		return nil, err
	}
	return f.dialer.Session(key)
}
