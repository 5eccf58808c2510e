package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artbay/market-bridge/internal/config"
)

func TestInitConsumerRejectsInvalidBlockchainConfig(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()
	cfg.Blockchain.ContractAddress = "not-an-address"

	s := NewServer(cfg)
	err := s.InitConsumer()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "blockchain configuration")
	assert.Nil(t, s.Consumer)
}

func TestNewServerIsNotReady(t *testing.T) {
	s := NewServer(config.DefaultServiceConfigFromEnv())
	assert.False(t, s.Ready())
}
