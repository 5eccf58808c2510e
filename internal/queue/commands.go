package queue

import (
	"context"

	"github.com/shopspring/decimal"
)

// Command identifies one of the orchestrator's queue subjects.
type Command string

const (
	CommandMint         Command = "mint"
	CommandTransfer     Command = "transfer"
	CommandTransferMint Command = "transfer_mint"
	CommandBurn         Command = "burn"
)

// AllCommands lists every command queue the consumer drains.
func AllCommands() []Command {
	return []Command{CommandMint, CommandTransfer, CommandTransferMint, CommandBurn}
}

// Valid reports whether the command names a known queue subject.
func (c Command) Valid() bool {
	switch c {
	case CommandMint, CommandTransfer, CommandTransferMint, CommandBurn:
		return true
	}
	return false
}

// MintCommand requests a fresh token for an asset. The assigned token id
// arrives via contract event.
type MintCommand struct {
	MintID       int64  `json:"mint_id"`
	AssetNo      int64  `json:"asset_no"`
	ProductNo    int64  `json:"product_no"`
	OwnerAddress string `json:"owner_address"`
	OwnerKey     string `json:"owner_key"`
}

// TransferCommand requests a paid token move: currency to the seller, then
// the token to the buyer.
type TransferCommand struct {
	TransferID      int64           `json:"transfer_id"`
	TokenID         string          `json:"token_id"`
	Price           decimal.Decimal `json:"price"`
	OwnerAddress    string          `json:"owner_address"`
	OwnerKey        string          `json:"owner_key"`
	SellerAddress   string          `json:"seller_address"`
	SellerKey       string          `json:"seller_key"`
	PurchaseAssetNo int64           `json:"purchase_asset_no"`
	PurchaseNo      int64           `json:"purchase_no"`
}

// TransferMintCommand requests a paid creator resale: currency to the
// seller, then a fresh token minted for the buyer.
type TransferMintCommand struct {
	MintID          int64           `json:"mint_id"`
	TokenID         string          `json:"token_id"`
	Price           decimal.Decimal `json:"price"`
	OwnerAddress    string          `json:"owner_address"`
	OwnerKey        string          `json:"owner_key"`
	SellerAddress   string          `json:"seller_address"`
	SellerKey       string          `json:"seller_key"`
	PurchaseAssetNo int64           `json:"purchase_asset_no"`
	PurchaseNo      int64           `json:"purchase_no"`
	AssetNo         int64           `json:"asset_no"`
	ProductNo       int64           `json:"product_no"`
}

// BurnCommand requests retiring a token.
type BurnCommand struct {
	BurnID       int64  `json:"burn_id"`
	MintID       int64  `json:"mint_id"`
	AssetNo      int64  `json:"asset_no"`
	ProductNo    int64  `json:"product_no"`
	TokenID      string `json:"token_id"`
	OwnerAddress string `json:"owner_address"`
	OwnerKey     string `json:"owner_key"`
}

// Dispatcher runs one saga per command. An implementation returns nil once
// the operation reached a durably recorded terminal state (success, failure
// cleanup, or compensation); a wrapped blockchain.ErrUnreachable means
// nothing irreversible happened yet and the message may be retried.
type Dispatcher interface {
	ExecuteMint(ctx context.Context, cmd MintCommand) error
	ExecuteTransfer(ctx context.Context, cmd TransferCommand) error
	ExecuteTransferMint(ctx context.Context, cmd TransferMintCommand) error
	ExecuteBurn(ctx context.Context, cmd BurnCommand) error
}
