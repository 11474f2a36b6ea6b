package lnclient

import (
	"context"
)

// LNClient is the capability the engine holds on the underlying Lightning
// node. Implementations translate backend errors into the sentinel errors in
// errors.go so callers never classify by error text.
type LNClient interface {
	GetInfo(ctx context.Context) (*NodeInfo, error)
	NewAddress(ctx context.Context) (string, error)
	OpenChannel(ctx context.Context, request *OpenChannelRequest) (*OpenChannelResponse, error)
	CloseChannel(ctx context.Context, request *CloseChannelRequest) error
	ListChannels(ctx context.Context) ([]Channel, error)
	GetBalances(ctx context.Context) (*BalancesResponse, error)
	SendToAddress(ctx context.Context, amountSat uint64, address string) (txId string, err error)
	Shutdown() error
}

type NodeInfo struct {
	Alias       string `json:"alias"`
	Color       string `json:"color"`
	Pubkey      string `json:"pubkey"`
	Network     string `json:"network"`
	BlockHeight uint32 `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	Synced      bool   `json:"synced"`
}

type OpenChannelRequest struct {
	NodeId     string  `json:"node_id"`
	Address    string  `json:"address"`
	Port       uint32  `json:"port"`
	AmountMsat uint64  `json:"amount_msat"`
	PushMsat   *uint64 `json:"push_msat,omitempty"`
	Public     bool    `json:"public"`
}

type OpenChannelResponse struct {
	ChannelId   string `json:"channel_id"`
	FundingTxId string `json:"funding_tx_id"`
}

type CloseChannelRequest struct {
	ChannelId string `json:"channel_id"`
	NodeId    string `json:"node_id"`
	Force     bool   `json:"force"`
}

type Channel struct {
	Id                string `json:"id"`
	RemotePubkey      string `json:"remote_pubkey"`
	FundingTxId       string `json:"funding_tx_id"`
	CapacityMsat      uint64 `json:"capacity_msat"`
	LocalBalanceMsat  uint64 `json:"local_balance_msat"`
	RemoteBalanceMsat uint64 `json:"remote_balance_msat"`
	Active            bool   `json:"active"`
	Public            bool   `json:"public"`
	Confirmations     uint32 `json:"confirmations"`
}

type BalancesResponse struct {
	TotalOnchainSat     uint64 `json:"total_onchain_sat"`
	SpendableOnchainSat uint64 `json:"spendable_onchain_sat"`
	TotalLightningMsat  uint64 `json:"total_lightning_msat"`
}
