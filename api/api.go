package api

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/thesimplekid/cashu-lsp/config"
	"github.com/thesimplekid/cashu-lsp/db"
	"github.com/thesimplekid/cashu-lsp/events"
	"github.com/thesimplekid/cashu-lsp/lnclient"
	"github.com/thesimplekid/cashu-lsp/policy"
	"github.com/thesimplekid/cashu-lsp/quotes"
)

type API interface {
	GetInfo(ctx context.Context) (*InfoResponse, error)
	CreateQuote(ctx context.Context, request *quotes.CreateQuoteRequest) (*quotes.CreateQuoteResponse, error)
	GetQuote(ctx context.Context, quoteId string) (*quotes.QuoteStatusResponse, error)
	ListQuotes(ctx context.Context, limit uint64, offset uint64) (*ListQuotesResponse, error)

	GetNodeInfo(ctx context.Context) (*NodeInfoResponse, error)
	GetNewAddress(ctx context.Context) (*NewAddressResponse, error)
	OpenChannel(ctx context.Context, request *OpenChannelRequest) (*OpenChannelResponse, error)
	CloseChannel(ctx context.Context, request *CloseChannelRequest) error
	ListChannels(ctx context.Context) ([]Channel, error)
	GetBalances(ctx context.Context) (*BalancesResponse, error)
	SendOnchain(ctx context.Context, request *SendOnchainRequest) (*SendOnchainResponse, error)
}

type api struct {
	db             *gorm.DB
	cfg            config.Config
	evaluator      *policy.Evaluator
	quotesSvc      quotes.QuotesService
	lnClient       lnclient.LNClient
	eventPublisher events.EventPublisher
}

func NewAPI(gormDB *gorm.DB, cfg config.Config, evaluator *policy.Evaluator, quotesSvc quotes.QuotesService, lnClient lnclient.LNClient, eventPublisher events.EventPublisher) *api {
	return &api{
		db:             gormDB,
		cfg:            cfg,
		evaluator:      evaluator,
		quotesSvc:      quotesSvc,
		lnClient:       lnClient,
		eventPublisher: eventPublisher,
	}
}

func (api *api) GetInfo(ctx context.Context) (*InfoResponse, error) {
	nodeInfo, err := api.lnClient.GetInfo(ctx)
	if err != nil {
		return nil, err
	}

	return &InfoResponse{
		Network:            api.cfg.GetNetwork(),
		NodePubkey:         nodeInfo.Pubkey,
		MinChannelSizeMsat: api.evaluator.MinChannelSizeMsat,
		MaxChannelSizeMsat: api.evaluator.MaxChannelSizeMsat,
		MinFeeMsat:         api.evaluator.MinFeeMsat,
		FeeRatePPK:         api.evaluator.FeeRatePPK,
		AcceptedMints:      api.cfg.GetEnv().GetAcceptedMints(),
	}, nil
}

func (api *api) CreateQuote(ctx context.Context, request *quotes.CreateQuoteRequest) (*quotes.CreateQuoteResponse, error) {
	return api.quotesSvc.CreateQuote(ctx, request)
}

func (api *api) GetQuote(ctx context.Context, quoteId string) (*quotes.QuoteStatusResponse, error) {
	quote, err := api.quotesSvc.GetQuote(ctx, quoteId)
	if err != nil {
		return nil, err
	}
	return quotes.NewQuoteStatusResponse(quote), nil
}

func (api *api) ListQuotes(ctx context.Context, limit uint64, offset uint64) (*ListQuotesResponse, error) {
	dbQuotes, err := api.quotesSvc.ListQuotes(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	entries := make([]QuoteListEntry, 0, len(dbQuotes))
	for i := range dbQuotes {
		entries = append(entries, newQuoteListEntry(&dbQuotes[i]))
	}
	return &ListQuotesResponse{Quotes: entries}, nil
}

func newQuoteListEntry(quote *db.Quote) QuoteListEntry {
	entry := QuoteListEntry{
		Id:                  quote.ID,
		State:               quote.State,
		RequestedAmountMsat: quote.RequestedAmountMsat,
		CounterpartyNodeId:  quote.CounterpartyNodeId,
		PriceMsat:           quote.PriceMsat,
		TotalMsat:           quote.TotalMsat,
		FailureReason:       quote.FailureReason,
		CreatedAt:           quote.CreatedAt.Format(time.RFC3339),
		ExpiresAt:           quote.ExpiresAt.Format(time.RFC3339),
	}
	if quote.ChannelId != nil {
		entry.ChannelId = *quote.ChannelId
	}
	return entry
}

func (api *api) GetNodeInfo(ctx context.Context) (*NodeInfoResponse, error) {
	nodeInfo, err := api.lnClient.GetInfo(ctx)
	if err != nil {
		return nil, err
	}
	return &NodeInfoResponse{
		Pubkey:      nodeInfo.Pubkey,
		Alias:       nodeInfo.Alias,
		Network:     nodeInfo.Network,
		BlockHeight: nodeInfo.BlockHeight,
		Synced:      nodeInfo.Synced,
	}, nil
}

func (api *api) GetNewAddress(ctx context.Context) (*NewAddressResponse, error) {
	address, err := api.lnClient.NewAddress(ctx)
	if err != nil {
		return nil, err
	}
	return &NewAddressResponse{Address: address}, nil
}

func (api *api) OpenChannel(ctx context.Context, request *OpenChannelRequest) (*OpenChannelResponse, error) {
	response, err := api.lnClient.OpenChannel(ctx, &lnclient.OpenChannelRequest{
		NodeId:     request.NodePubkey,
		Address:    request.Address,
		Port:       request.Port,
		AmountMsat: request.AmountMsat,
		PushMsat:   request.PushMsat,
		Public:     request.Public,
	})
	if err != nil {
		return nil, err
	}
	return &OpenChannelResponse{
		ChannelId:   response.ChannelId,
		FundingTxId: response.FundingTxId,
	}, nil
}

func (api *api) CloseChannel(ctx context.Context, request *CloseChannelRequest) error {
	return api.lnClient.CloseChannel(ctx, &lnclient.CloseChannelRequest{
		ChannelId: request.ChannelId,
		NodeId:    request.NodePubkey,
		Force:     request.Force,
	})
}

func (api *api) ListChannels(ctx context.Context) ([]Channel, error) {
	channels, err := api.lnClient.ListChannels(ctx)
	if err != nil {
		return nil, err
	}

	apiChannels := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		apiChannels = append(apiChannels, Channel{
			Id:                channel.Id,
			RemotePubkey:      channel.RemotePubkey,
			FundingTxId:       channel.FundingTxId,
			CapacityMsat:      channel.CapacityMsat,
			LocalBalanceMsat:  channel.LocalBalanceMsat,
			RemoteBalanceMsat: channel.RemoteBalanceMsat,
			Active:            channel.Active,
			Public:            channel.Public,
			Confirmations:     channel.Confirmations,
		})
	}
	return apiChannels, nil
}

func (api *api) GetBalances(ctx context.Context) (*BalancesResponse, error) {
	balances, err := api.lnClient.GetBalances(ctx)
	if err != nil {
		return nil, err
	}
	return &BalancesResponse{
		TotalOnchainSat:     balances.TotalOnchainSat,
		SpendableOnchainSat: balances.SpendableOnchainSat,
		TotalLightningMsat:  balances.TotalLightningMsat,
	}, nil
}

func (api *api) SendOnchain(ctx context.Context, request *SendOnchainRequest) (*SendOnchainResponse, error) {
	txId, err := api.lnClient.SendToAddress(ctx, request.AmountSat, request.ToAddress)
	if err != nil {
		return nil, err
	}
	return &SendOnchainResponse{TxId: txId}, nil
}
