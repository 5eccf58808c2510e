package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/artbay/market-bridge/internal/util"
)

// BlockchainConfig contains the chain connection parameters shared by all
// contract sessions. The values are process-wide and read-only; wallets are
// constructed per message.
type BlockchainConfig struct {
	RPCURL          string `envconfig:"RPC_URL"`
	ChainID         int64  `envconfig:"CHAIN_ID"`
	ContractAddress string `envconfig:"CONTRACT_ADDRESS"`

	// ConfirmTimeout bounds the wait for transaction inclusion.
	ConfirmTimeout time.Duration `envconfig:"CONFIRM_TIMEOUT"`
	// ConfirmPollInterval is the receipt polling interval.
	ConfirmPollInterval time.Duration `envconfig:"CONFIRM_POLL_INTERVAL"`
	// EventGraceInterval bounds the wait for the mint event that carries the
	// server-assigned token id.
	EventGraceInterval time.Duration `envconfig:"EVENT_GRACE_INTERVAL"`
}

// LoadBlockchainConfig loads blockchain configuration from environment variables.
func LoadBlockchainConfig() BlockchainConfig {
	return BlockchainConfig{
		RPCURL:              util.GetEnv("CHAIN_RPC_URL", "http://localhost:8545"),
		ChainID:             util.GetEnvAsInt64("CHAIN_ID", 11155111),
		ContractAddress:     util.GetEnv("CHAIN_CONTRACT_ADDRESS", ""),
		ConfirmTimeout:      util.GetEnvAsDuration("CHAIN_CONFIRM_TIMEOUT", 5*time.Minute),
		ConfirmPollInterval: util.GetEnvAsDuration("CHAIN_CONFIRM_POLL_INTERVAL", 3*time.Second),
		EventGraceInterval:  util.GetEnvAsDuration("CHAIN_EVENT_GRACE_INTERVAL", 30*time.Second),
	}
}

// Contract returns the configured contract address.
func (b BlockchainConfig) Contract() common.Address {
	return common.HexToAddress(b.ContractAddress)
}

// Validate checks if the blockchain configuration is usable.
func (b BlockchainConfig) Validate() error {
	if b.RPCURL == "" {
		return fmt.Errorf("chain RPC URL is required")
	}

	if b.ChainID <= 0 {
		return fmt.Errorf("chain ID must be positive")
	}

	if !common.IsHexAddress(b.ContractAddress) {
		return fmt.Errorf("contract address %q is not a valid hex address", b.ContractAddress)
	}

	if b.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm timeout must be positive")
	}

	if b.EventGraceInterval <= 0 {
		return fmt.Errorf("event grace interval must be positive")
	}

	return nil
}
