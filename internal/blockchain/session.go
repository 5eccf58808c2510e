package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/config"
)

// ErrUnreachable marks network-class failures: the chain could not be
// reached or the transaction could not be confirmed in time. Callers may
// retry these before any value has moved.
var ErrUnreachable = errors.New("chain unreachable")

// ErrRejected marks transactions the chain accepted the connection for but
// refused: invalid input or contract state. Not retriable.
var ErrRejected = errors.New("transaction rejected")

// MintEvent is the correlated NewMintNFT event for a submitted mint.
type MintEvent struct {
	Owner       common.Address
	AssetName   string
	TokenID     string
	CreatedTime *big.Int
	TxHash      common.Hash
}

// Dialer is a per-call session factory. It holds only process-wide read-only
// configuration; every message gets its own Session so event filters and
// wallet state never leak between concurrent operations.
type Dialer struct {
	cfg config.BlockchainConfig
}

// NewDialer creates a session factory for the configured chain.
func NewDialer(cfg config.BlockchainConfig) *Dialer {
	return &Dialer{cfg: cfg}
}

// Session returns a contract session bound to the wallet of the given key.
// Construction performs no network call; the RPC connection is established
// lazily on first use.
func (d *Dialer) Session(key *ecdsa.PrivateKey) (*Session, error) {
	if key == nil {
		return nil, fmt.Errorf("session requires a private key")
	}

	return &Session{
		cfg:     d.cfg,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Session is a contract handle bound to one wallet for one operation.
type Session struct {
	cfg     config.BlockchainConfig
	key     *ecdsa.PrivateKey
	address common.Address

	mu        sync.Mutex
	client    *ethclient.Client
	contract  *MarketNFT
	mintFrom  uint64 // block to scan from when correlating the mint event
	mintWatch bool
}

// Address returns the wallet address this session signs with.
func (s *Session) Address() common.Address {
	return s.address
}

// Close releases the underlying RPC connection.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Close()
		s.client = nil
		s.contract = nil
	}
}

// ensure dials the RPC endpoint and binds the contract on first use.
func (s *Session) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	client, err := ethclient.DialContext(ctx, s.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrUnreachable, s.cfg.RPCURL, err)
	}

	contract, err := NewMarketNFT(s.cfg.Contract(), client)
	if err != nil {
		client.Close()
		return err
	}

	s.client = client
	s.contract = contract
	return nil
}

func (s *Session) transactOpts(ctx context.Context, value *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, big.NewInt(s.cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = value
	return opts, nil
}

// MintNFT submits a mint call and waits for inclusion. The block height at
// submit time is recorded so WaitForMintEvent can scan for the emitted event.
func (s *Session) MintNFT(ctx context.Context, assetNo, productNo int64) (string, error) {
	if err := s.ensure(ctx); err != nil {
		return "", err
	}

	// Record the scan start before submitting: the event must not be missed
	// even if it lands in the inclusion block.
	from, err := s.client.BlockNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: block number: %v", ErrUnreachable, err)
	}
	s.mu.Lock()
	s.mintFrom = from
	s.mintWatch = true
	s.mu.Unlock()

	opts, err := s.transactOpts(ctx, nil)
	if err != nil {
		return "", err
	}

	tx, err := s.contract.MintNFT(opts, big.NewInt(assetNo), big.NewInt(productNo))
	if err != nil {
		return "", classifySubmitError("mintNFT", err)
	}

	if _, err := s.waitForReceipt(ctx, tx.Hash()); err != nil {
		return tx.Hash().Hex(), err
	}

	return tx.Hash().Hex(), nil
}

// WaitForMintEvent polls for the NewMintNFT event matching the given mint
// transaction until the context deadline. A missed event surfaces as the
// context error; the caller decides how to treat the resulting ambiguity
// between chain and ledger state.
func (s *Session) WaitForMintEvent(ctx context.Context, txHash string) (*MintEvent, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	from := s.mintFrom
	watching := s.mintWatch
	s.mu.Unlock()

	if !watching {
		return nil, fmt.Errorf("no mint submitted on this session")
	}

	want := common.HexToHash(txHash)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		events, err := s.contract.FilterNewMintNFT(&bind.FilterOpts{Start: from, Context: ctx}, []common.Address{s.address})
		if err != nil {
			log.Warn().Err(err).Str("tx_hash", txHash).Msg("Failed to filter mint events, will retry")
		}

		for _, ev := range events {
			if ev.Raw.TxHash != want {
				continue
			}

			tokenID, err := ParseMintTokenID(ev.AssetName)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRejected, err)
			}

			return &MintEvent{
				Owner:       ev.Owner,
				AssetName:   ev.AssetName,
				TokenID:     tokenID,
				CreatedTime: ev.CreatedTime,
				TxHash:      ev.Raw.TxHash,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mint event for tx %s not observed: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// TransferEther submits the payable currency leg and waits for inclusion.
func (s *Session) TransferEther(ctx context.Context, tokenID string, amountWei *big.Int, counterparty common.Address) (string, error) {
	if err := s.ensure(ctx); err != nil {
		return "", err
	}

	id, err := tokenIDToBig(tokenID)
	if err != nil {
		return "", err
	}

	opts, err := s.transactOpts(ctx, amountWei)
	if err != nil {
		return "", err
	}

	tx, err := s.contract.TransferEther(opts, id, amountWei, counterparty)
	if err != nil {
		return "", classifySubmitError("transferEther", err)
	}

	if _, err := s.waitForReceipt(ctx, tx.Hash()); err != nil {
		return tx.Hash().Hex(), err
	}

	return tx.Hash().Hex(), nil
}

// TransferToken submits a token move and waits for inclusion.
func (s *Session) TransferToken(ctx context.Context, tokenID string, to common.Address) (string, error) {
	if err := s.ensure(ctx); err != nil {
		return "", err
	}

	id, err := tokenIDToBig(tokenID)
	if err != nil {
		return "", err
	}

	opts, err := s.transactOpts(ctx, nil)
	if err != nil {
		return "", err
	}

	tx, err := s.contract.TransferToken(opts, id, to)
	if err != nil {
		return "", classifySubmitError("transferToken", err)
	}

	if _, err := s.waitForReceipt(ctx, tx.Hash()); err != nil {
		return tx.Hash().Hex(), err
	}

	return tx.Hash().Hex(), nil
}

// BurnNFT submits a burn call and waits for inclusion.
func (s *Session) BurnNFT(ctx context.Context, tokenID string) (string, error) {
	if err := s.ensure(ctx); err != nil {
		return "", err
	}

	id, err := tokenIDToBig(tokenID)
	if err != nil {
		return "", err
	}

	opts, err := s.transactOpts(ctx, nil)
	if err != nil {
		return "", err
	}

	tx, err := s.contract.BurnNFT(opts, id)
	if err != nil {
		return "", classifySubmitError("burnNFT", err)
	}

	if _, err := s.waitForReceipt(ctx, tx.Hash()); err != nil {
		return tx.Hash().Hex(), err
	}

	return tx.Hash().Hex(), nil
}

// waitForReceipt polls for the transaction receipt until the configured
// confirm timeout. Status 0 receipts are rejected transactions.
func (s *Session) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	timeout := time.After(s.cfg.ConfirmTimeout)
	ticker := time.NewTicker(s.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: awaiting receipt for %s: %v", ErrUnreachable, txHash.Hex(), ctx.Err())
		case <-timeout:
			return nil, fmt.Errorf("%w: no receipt for %s within %s", ErrUnreachable, txHash.Hex(), s.cfg.ConfirmTimeout)
		case <-ticker.C:
			receipt, err := s.client.TransactionReceipt(ctx, txHash)
			if err != nil {
				// Not mined yet, keep polling.
				continue
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("%w: tx %s failed with status %d", ErrRejected, txHash.Hex(), receipt.Status)
			}
			return receipt, nil
		}
	}
}

func tokenIDToBig(tokenID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("%w: token id %q is not numeric", ErrRejected, tokenID)
	}
	return id, nil
}

// classifySubmitError separates transport failures from on-chain refusals.
func classifySubmitError(method string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s submit: %v", ErrUnreachable, method, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrRejected, method, err)
}
