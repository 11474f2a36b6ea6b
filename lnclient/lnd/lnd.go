package lnd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thesimplekid/cashu-lsp/lnclient"
	"github.com/thesimplekid/cashu-lsp/lnclient/lnd/wrapper"
	"github.com/thesimplekid/cashu-lsp/logger"
)

type LNDService struct {
	client   *wrapper.LNDWrapper
	nodeInfo *lnclient.NodeInfo
	cancel   context.CancelFunc
	ctx      context.Context
}

func NewLNDService(ctx context.Context, lndAddress, lndCertHex, lndMacaroonHex string) (result lnclient.LNClient, err error) {
	if lndAddress == "" || lndMacaroonHex == "" {
		return nil, errors.New("one or more required LND configuration are missing")
	}

	lndClient, err := wrapper.NewLNDclient(wrapper.LNDoptions{
		Address:     lndAddress,
		CertHex:     lndCertHex,
		MacaroonHex: lndMacaroonHex,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to create new LND client")
		return nil, err
	}

	var nodeInfo *lnclient.NodeInfo
	maxRetries := 5
	for i := range maxRetries {
		nodeInfo, err = fetchNodeInfo(ctx, lndClient)
		if err == nil {
			break
		}
		logger.Logger.Error().Err(err).
			Int("iteration", i).
			Msg("Failed to connect to LND, retrying in 2s")

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			logger.Logger.Error().Err(ctx.Err()).Msg("Context cancelled during LND connection retries")
			return nil, ctx.Err()
		}
	}

	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to connect to LND on final attempt, not attempting further retries")
		return nil, err
	}

	lndCtx, cancel := context.WithCancel(ctx)

	lndService := &LNDService{
		client:   lndClient,
		nodeInfo: nodeInfo,
		cancel:   cancel,
		ctx:      lndCtx,
	}

	logger.Logger.Info().Str("alias", nodeInfo.Alias).Msg("Connected to LND")

	return lndService, nil
}

func fetchNodeInfo(ctx context.Context, client *wrapper.LNDWrapper) (*lnclient.NodeInfo, error) {
	resp, err := client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, err
	}
	network := resp.Chains[0].Network
	if network == "mainnet" {
		network = "bitcoin"
	}
	client.IdentityPubkey = resp.IdentityPubkey
	return &lnclient.NodeInfo{
		Alias:       resp.Alias,
		Color:       resp.Color,
		Pubkey:      resp.IdentityPubkey,
		Network:     network,
		BlockHeight: resp.BlockHeight,
		BlockHash:   resp.BlockHash,
		Synced:      resp.SyncedToChain,
	}, nil
}

func (svc *LNDService) Shutdown() error {
	logger.Logger.Info().Msg("cancelling LND context")
	svc.cancel()
	return svc.client.Close()
}

func (svc *LNDService) GetInfo(ctx context.Context) (*lnclient.NodeInfo, error) {
	return svc.nodeInfo, nil
}

func (svc *LNDService) NewAddress(ctx context.Context) (string, error) {
	resp, err := svc.client.NewAddress(ctx, &lnrpc.NewAddressRequest{
		Type: lnrpc.AddressType_WITNESS_PUBKEY_HASH,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("NewAddress failed")
		return "", classifyNodeError(err)
	}
	return resp.Address, nil
}

func (svc *LNDService) connectPeer(ctx context.Context, nodeId string, address string, port uint32) error {
	_, err := svc.client.ConnectPeer(ctx, &lnrpc.ConnectPeerRequest{
		Addr: &lnrpc.LightningAddress{
			Pubkey: nodeId,
			Host:   address + ":" + strconv.Itoa(int(port)),
		},
		Timeout: 30,
	})

	if grpcErr, ok := status.FromError(err); ok && err != nil {
		if strings.HasPrefix(grpcErr.Message(), "already connected to peer") {
			return nil
		}
	}
	return err
}

func (svc *LNDService) OpenChannel(ctx context.Context, openChannelRequest *lnclient.OpenChannelRequest) (*lnclient.OpenChannelResponse, error) {
	err := svc.connectPeer(ctx, openChannelRequest.NodeId, openChannelRequest.Address, openChannelRequest.Port)
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("peer_id", openChannelRequest.NodeId).
			Msg("Failed to connect to peer")
		return nil, classifyConnectError(err)
	}

	logger.Logger.Info().
		Str("peer_id", openChannelRequest.NodeId).
		Uint64("amount_msat", openChannelRequest.AmountMsat).
		Msg("Opening channel")

	nodePub, err := hex.DecodeString(openChannelRequest.NodeId)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid node pubkey", lnclient.ErrPeerConnectFailed)
	}

	req := &lnrpc.OpenChannelRequest{
		NodePubkey:         nodePub,
		Private:            !openChannelRequest.Public,
		LocalFundingAmount: int64(openChannelRequest.AmountMsat / 1000),
	}
	if openChannelRequest.PushMsat != nil {
		req.PushSat = int64(*openChannelRequest.PushMsat / 1000)
	}

	channel, err := svc.client.OpenChannelSync(ctx, req)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to open channel")
		return nil, classifyOpenError(err)
	}

	fundingTxidBytes := channel.GetFundingTxidBytes()

	// we get the funding transaction id bytes in reverse
	for i, j := 0, len(fundingTxidBytes)-1; i < j; i, j = i+1, j-1 {
		fundingTxidBytes[i], fundingTxidBytes[j] = fundingTxidBytes[j], fundingTxidBytes[i]
	}

	fundingTxId := hex.EncodeToString(fundingTxidBytes)

	return &lnclient.OpenChannelResponse{
		ChannelId:   fmt.Sprintf("%s:%d", fundingTxId, channel.GetOutputIndex()),
		FundingTxId: fundingTxId,
	}, nil
}

func (svc *LNDService) CloseChannel(ctx context.Context, closeChannelRequest *lnclient.CloseChannelRequest) error {
	logger.Logger.Info().
		Interface("request", closeChannelRequest).
		Msg("Closing Channel")

	channelPoint, err := parseChannelPoint(closeChannelRequest.ChannelId)
	if err != nil {
		return err
	}

	stream, err := svc.client.CloseChannel(ctx, &lnrpc.CloseChannelRequest{
		ChannelPoint: channelPoint,
		Force:        closeChannelRequest.Force,
	})
	if err != nil {
		logger.Logger.Error().Err(err).Interface("request", closeChannelRequest).Msg("Failed to close channel")
		return classifyNodeError(err)
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			return classifyNodeError(err)
		}

		switch update := resp.Update.(type) {
		case *lnrpc.CloseStatusUpdate_ClosePending:
			logger.Logger.Info().
				Str("closing_txid", hex.EncodeToString(update.ClosePending.Txid)).
				Msg("Channel close pending")
			return nil
		}
	}
}

func (svc *LNDService) ListChannels(ctx context.Context) ([]lnclient.Channel, error) {
	resp, err := svc.client.ListChannels(ctx, &lnrpc.ListChannelsRequest{})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list channels")
		return nil, classifyNodeError(err)
	}

	nodeInfo, err := svc.client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return nil, classifyNodeError(err)
	}

	channels := make([]lnclient.Channel, 0, len(resp.Channels))
	for _, channel := range resp.Channels {
		var confirmations uint32
		if channel.ChanId > 0 {
			// short channel id encodes the funding block height
			blockHeight := uint32(channel.ChanId >> 40)
			confirmations = nodeInfo.BlockHeight - blockHeight + 1
		}

		channels = append(channels, lnclient.Channel{
			Id:                channel.ChannelPoint,
			RemotePubkey:      channel.RemotePubkey,
			FundingTxId:       strings.Split(channel.ChannelPoint, ":")[0],
			CapacityMsat:      uint64(channel.Capacity) * 1000,
			LocalBalanceMsat:  uint64(channel.LocalBalance) * 1000,
			RemoteBalanceMsat: uint64(channel.RemoteBalance) * 1000,
			Active:            channel.Active,
			Public:            !channel.Private,
			Confirmations:     confirmations,
		})
	}

	// pending channels matter for crash recovery: a funding tx that was
	// broadcast but not yet confirmed still counts as an open in progress
	pending, err := svc.client.PendingChannels(ctx, &lnrpc.PendingChannelsRequest{})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list pending channels")
		return nil, classifyNodeError(err)
	}
	for _, pendingChannel := range pending.PendingOpenChannels {
		channels = append(channels, lnclient.Channel{
			Id:                pendingChannel.Channel.ChannelPoint,
			RemotePubkey:      pendingChannel.Channel.RemoteNodePub,
			FundingTxId:       strings.Split(pendingChannel.Channel.ChannelPoint, ":")[0],
			CapacityMsat:      uint64(pendingChannel.Channel.Capacity) * 1000,
			LocalBalanceMsat:  uint64(pendingChannel.Channel.LocalBalance) * 1000,
			RemoteBalanceMsat: uint64(pendingChannel.Channel.RemoteBalance) * 1000,
			Active:            false,
			Public:            !pendingChannel.Channel.Private,
		})
	}

	return channels, nil
}

func (svc *LNDService) GetBalances(ctx context.Context) (*lnclient.BalancesResponse, error) {
	walletBalance, err := svc.client.WalletBalance(ctx, &lnrpc.WalletBalanceRequest{})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to fetch wallet balance")
		return nil, classifyNodeError(err)
	}

	channelBalance, err := svc.client.ChannelBalance(ctx, &lnrpc.ChannelBalanceRequest{})
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to fetch channel balance")
		return nil, classifyNodeError(err)
	}

	return &lnclient.BalancesResponse{
		TotalOnchainSat:     uint64(walletBalance.TotalBalance),
		SpendableOnchainSat: uint64(walletBalance.ConfirmedBalance),
		TotalLightningMsat:  channelBalance.LocalBalance.GetMsat(),
	}, nil
}

func (svc *LNDService) SendToAddress(ctx context.Context, amountSat uint64, address string) (string, error) {
	resp, err := svc.client.SendCoins(ctx, &lnrpc.SendCoinsRequest{
		Addr:       address,
		Amount:     int64(amountSat),
		TargetConf: 1,
	})
	if err != nil {
		logger.Logger.Error().Err(err).
			Str("address", address).
			Uint64("amount_sat", amountSat).
			Msg("Failed to send onchain")
		return "", classifyNodeError(err)
	}
	return resp.Txid, nil
}

func parseChannelPoint(channelPointStr string) (*lnrpc.ChannelPoint, error) {
	channelPointParts := strings.Split(channelPointStr, ":")
	if len(channelPointParts) != 2 {
		return nil, errors.New("invalid channel point")
	}

	outputIndex, err := strconv.ParseUint(channelPointParts[1], 10, 32)
	if err != nil {
		return nil, err
	}

	return &lnrpc.ChannelPoint{
		FundingTxid: &lnrpc.ChannelPoint_FundingTxidStr{
			FundingTxidStr: channelPointParts[0],
		},
		OutputIndex: uint32(outputIndex),
	}, nil
}

// classifyNodeError maps transport-level failures against our own node onto
// the lnclient taxonomy.
func classifyNodeError(err error) error {
	if err == nil {
		return nil
	}
	if grpcErr, ok := status.FromError(err); ok {
		switch grpcErr.Code() {
		case codes.Unavailable, codes.DeadlineExceeded:
			return fmt.Errorf("%w: %s", lnclient.ErrNodeUnavailable, grpcErr.Message())
		}
	}
	return err
}

// classifyConnectError maps a ConnectPeer failure. A dial timeout or refused
// connection is transient; a rejected handshake or a malformed identity is
// permanent.
func classifyConnectError(err error) error {
	if err == nil {
		return nil
	}
	if grpcErr, ok := status.FromError(err); ok {
		msg := grpcErr.Message()
		switch {
		case grpcErr.Code() == codes.Unavailable || grpcErr.Code() == codes.DeadlineExceeded:
			return fmt.Errorf("%w: %s", lnclient.ErrNodeUnavailable, msg)
		case strings.Contains(msg, "connection refused"),
			strings.Contains(msg, "dial tcp"),
			strings.Contains(msg, "i/o timeout"),
			strings.Contains(msg, "peer is not online"):
			return fmt.Errorf("%w: %s", lnclient.ErrPeerUnavailable, msg)
		}
	}
	return fmt.Errorf("%w: %s", lnclient.ErrPeerConnectFailed, err.Error())
}

// classifyOpenError maps an OpenChannelSync failure.
func classifyOpenError(err error) error {
	if err == nil {
		return nil
	}
	if grpcErr, ok := status.FromError(err); ok {
		msg := grpcErr.Message()
		switch {
		case grpcErr.Code() == codes.Unavailable || grpcErr.Code() == codes.DeadlineExceeded:
			return fmt.Errorf("%w: %s", lnclient.ErrNodeUnavailable, msg)
		case strings.Contains(msg, "not enough witness outputs"),
			strings.Contains(msg, "insufficient funds"),
			strings.Contains(msg, "insufficient local balance"):
			return fmt.Errorf("%w: %s", lnclient.ErrInsufficientFunds, msg)
		case strings.Contains(msg, "peer is not online"),
			strings.Contains(msg, "not connected"):
			return fmt.Errorf("%w: %s", lnclient.ErrPeerUnavailable, msg)
		case strings.Contains(msg, "pending channels exceed maximum"),
			strings.Contains(msg, "funding"):
			return fmt.Errorf("%w: %s", lnclient.ErrFundingFailed, msg)
		}
	}
	return fmt.Errorf("%w: %s", lnclient.ErrFundingFailed, err.Error())
}
