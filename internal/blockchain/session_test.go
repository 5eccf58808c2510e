package blockchain

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artbay/market-bridge/internal/config"
)

func testConfig() config.BlockchainConfig {
	return config.BlockchainConfig{
		RPCURL:              "http://localhost:8545",
		ChainID:             1337,
		ContractAddress:     "0x00000000000000000000000000000000000000aa",
		ConfirmTimeout:      time.Second,
		ConfirmPollInterval: 10 * time.Millisecond,
		EventGraceInterval:  50 * time.Millisecond,
	}
}

func TestSessionBindsWalletWithoutDialing(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	d := NewDialer(testConfig())
	s, err := d.Session(key)
	require.NoError(t, err)
	defer s.Close()

	// Construction is offline: the address comes from the key alone.
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.Address())
}

func TestSessionsAreIndependent(t *testing.T) {
	keyA, err := crypto.GenerateKey()
	require.NoError(t, err)
	keyB, err := crypto.GenerateKey()
	require.NoError(t, err)

	d := NewDialer(testConfig())

	a, err := d.Session(keyA)
	require.NoError(t, err)
	defer a.Close()
	b, err := d.Session(keyB)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Address(), b.Address())
}
