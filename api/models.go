package api

type InfoResponse struct {
	Network            string   `json:"network"`
	NodePubkey         string   `json:"node_pubkey"`
	MinChannelSizeMsat uint64   `json:"min_channel_size_msat"`
	MaxChannelSizeMsat uint64   `json:"max_channel_size_msat"`
	MinFeeMsat         uint64   `json:"min_fee_msat"`
	FeeRatePPK         uint64   `json:"fee_rate_ppk"`
	AcceptedMints      []string `json:"accepted_mints"`
}

type NodeInfoResponse struct {
	Pubkey      string `json:"pubkey"`
	Alias       string `json:"alias"`
	Network     string `json:"network"`
	BlockHeight uint32 `json:"block_height"`
	Synced      bool   `json:"synced"`
}

type NewAddressResponse struct {
	Address string `json:"address"`
}

type OpenChannelRequest struct {
	NodePubkey string  `json:"node_pubkey" validate:"required"`
	Address    string  `json:"address" validate:"required"`
	Port       uint32  `json:"port"`
	AmountMsat uint64  `json:"amount_msat" validate:"required"`
	PushMsat   *uint64 `json:"push_msat,omitempty"`
	Public     bool    `json:"public"`
}

type OpenChannelResponse struct {
	ChannelId   string `json:"channel_id"`
	FundingTxId string `json:"funding_tx_id"`
}

type CloseChannelRequest struct {
	ChannelId  string `json:"channel_id" validate:"required"`
	NodePubkey string `json:"node_pubkey"`
	Force      bool   `json:"force"`
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

type SendOnchainRequest struct {
	ToAddress string `json:"to_address" validate:"required"`
	AmountSat uint64 `json:"amount_sat" validate:"required"`
}

type SendOnchainResponse struct {
	TxId string `json:"tx_id"`
}

type QuoteListEntry struct {
	Id                  string `json:"id"`
	State               string `json:"state"`
	RequestedAmountMsat uint64 `json:"requested_amount_msat"`
	CounterpartyNodeId  string `json:"counterparty_node_id"`
	PriceMsat           uint64 `json:"price_msat"`
	TotalMsat           uint64 `json:"total_msat"`
	ChannelId           string `json:"channel_id,omitempty"`
	FailureReason       string `json:"failure_reason,omitempty"`
	CreatedAt           string `json:"created_at"`
	ExpiresAt           string `json:"expires_at"`
}

type ListQuotesResponse struct {
	Quotes []QuoteListEntry `json:"quotes"`
}
