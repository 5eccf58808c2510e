package blockchain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// marketNFTABI is the ABI of the marketplace NFT contract surface this
// service drives. Token ids are assigned on-chain and reported through the
// NewMintNFT event's asset name.
const marketNFTABI = `[
  {"type":"function","name":"mintNFT","stateMutability":"nonpayable","inputs":[{"name":"assetNo","type":"uint256"},{"name":"productNo","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"transferEther","stateMutability":"payable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"counterparty","type":"address"}],"outputs":[]},
  {"type":"function","name":"transferToken","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"to","type":"address"}],"outputs":[]},
  {"type":"function","name":"burnNFT","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"NewMintNFT","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"assetName","type":"string","indexed":false},{"name":"createdTime","type":"uint256","indexed":false}]},
  {"type":"event","name":"NewTransferEther","anonymous":false,"inputs":[{"name":"buyer","type":"address","indexed":true},{"name":"seller","type":"address","indexed":true},{"name":"price","type":"uint256","indexed":false}]},
  {"type":"event","name":"NewTransferToken","anonymous":false,"inputs":[{"name":"seller","type":"address","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":false}]},
  {"type":"event","name":"NewBurnNFT","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":false}]}
]`

// MarketNFT is a thin binding around the marketplace contract.
type MarketNFT struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewMarketNFT binds the marketplace contract at the given address.
func NewMarketNFT(address common.Address, backend bind.ContractBackend) (*MarketNFT, error) {
	parsed, err := abi.JSON(strings.NewReader(marketNFTABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse market NFT ABI: %w", err)
	}

	return &MarketNFT{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// MintNFT submits a mint call for the given asset and product numbers. The
// assigned token id arrives out-of-band via the NewMintNFT event.
func (m *MarketNFT) MintNFT(opts *bind.TransactOpts, assetNo, productNo *big.Int) (*types.Transaction, error) {
	return m.contract.Transact(opts, "mintNFT", assetNo, productNo)
}

// TransferEther submits the payable currency leg of a purchase. The amount
// must also be attached as the call value.
func (m *MarketNFT) TransferEther(opts *bind.TransactOpts, tokenID, amount *big.Int, counterparty common.Address) (*types.Transaction, error) {
	return m.contract.Transact(opts, "transferEther", tokenID, amount, counterparty)
}

// TransferToken submits a token ownership move to the given address.
func (m *MarketNFT) TransferToken(opts *bind.TransactOpts, tokenID *big.Int, to common.Address) (*types.Transaction, error) {
	return m.contract.Transact(opts, "transferToken", tokenID, to)
}

// BurnNFT submits a burn call for the given token id.
func (m *MarketNFT) BurnNFT(opts *bind.TransactOpts, tokenID *big.Int) (*types.Transaction, error) {
	return m.contract.Transact(opts, "burnNFT", tokenID)
}

// MarketNFTNewMintNFT represents a NewMintNFT contract event.
type MarketNFTNewMintNFT struct {
	Owner       common.Address
	AssetName   string
	CreatedTime *big.Int
	Raw         types.Log
}

// FilterNewMintNFT retrieves NewMintNFT events within the given block range,
// optionally filtered by owner.
func (m *MarketNFT) FilterNewMintNFT(opts *bind.FilterOpts, owner []common.Address) ([]*MarketNFTNewMintNFT, error) {
	ownerRule := make([]interface{}, 0, len(owner))
	for _, o := range owner {
		ownerRule = append(ownerRule, o)
	}

	logs, sub, err := m.contract.FilterLogs(opts, "NewMintNFT", ownerRule)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	var events []*MarketNFTNewMintNFT
	unpack := func(l types.Log) error {
		ev := new(MarketNFTNewMintNFT)
		if err := m.contract.UnpackLog(ev, "NewMintNFT", l); err != nil {
			return err
		}
		ev.Raw = l
		events = append(events, ev)
		return nil
	}

	for {
		select {
		case l := <-logs:
			if err := unpack(l); err != nil {
				return nil, err
			}
		case err := <-sub.Err():
			// Drain anything still buffered before reporting completion.
			for {
				select {
				case l := <-logs:
					if uerr := unpack(l); uerr != nil {
						return nil, uerr
					}
				default:
					return events, err
				}
			}
		}
	}
}

// ParseMintTokenID extracts the server-assigned token id from the structured
// asset name emitted with NewMintNFT. The token id is the suffix after the
// last separator, e.g. "5_1_42" yields "42".
func ParseMintTokenID(assetName string) (string, error) {
	idx := strings.LastIndex(assetName, "_")
	if idx < 0 || idx == len(assetName)-1 {
		return "", fmt.Errorf("asset name %q carries no token id suffix", assetName)
	}

	tokenID := assetName[idx+1:]
	if _, ok := new(big.Int).SetString(tokenID, 10); !ok {
		return "", fmt.Errorf("asset name %q token id suffix is not numeric", assetName)
	}

	return tokenID, nil
}
