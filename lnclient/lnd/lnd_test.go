package lnd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/thesimplekid/cashu-lsp/lnclient"
)

func TestClassifyNodeError(t *testing.T) {
	err := classifyNodeError(status.Error(codes.Unavailable, "connection error"))
	assert.ErrorIs(t, err, lnclient.ErrNodeUnavailable)
	assert.True(t, lnclient.IsRetryable(err))

	err = classifyNodeError(status.Error(codes.DeadlineExceeded, "context deadline exceeded"))
	assert.ErrorIs(t, err, lnclient.ErrNodeUnavailable)

	// unknown failures pass through unclassified
	opaque := errors.New("something else")
	assert.Equal(t, opaque, classifyNodeError(opaque))

	assert.NoError(t, classifyNodeError(nil))
}

func TestClassifyConnectError(t *testing.T) {
	err := classifyConnectError(status.Error(codes.Unknown, "dial tcp 203.0.113.7:9735: i/o timeout"))
	assert.ErrorIs(t, err, lnclient.ErrPeerUnavailable)
	assert.True(t, lnclient.IsRetryable(err))

	err = classifyConnectError(status.Error(codes.Unknown, "connection refused"))
	assert.ErrorIs(t, err, lnclient.ErrPeerUnavailable)

	err = classifyConnectError(status.Error(codes.Unavailable, "connection error"))
	assert.ErrorIs(t, err, lnclient.ErrNodeUnavailable)

	// a rejected handshake is permanent
	err = classifyConnectError(status.Error(codes.Unknown, "invalid key length"))
	assert.ErrorIs(t, err, lnclient.ErrPeerConnectFailed)
	assert.False(t, lnclient.IsRetryable(err))
}

func TestClassifyOpenError(t *testing.T) {
	err := classifyOpenError(status.Error(codes.Unknown, "not enough witness outputs to create funding transaction"))
	assert.ErrorIs(t, err, lnclient.ErrInsufficientFunds)
	assert.False(t, lnclient.IsRetryable(err))

	err = classifyOpenError(status.Error(codes.Unknown, "peer is not online"))
	assert.ErrorIs(t, err, lnclient.ErrPeerUnavailable)
	assert.True(t, lnclient.IsRetryable(err))

	err = classifyOpenError(status.Error(codes.Unavailable, "connection error"))
	assert.ErrorIs(t, err, lnclient.ErrNodeUnavailable)

	// anything unrecognized is treated as a transient funding failure
	err = classifyOpenError(status.Error(codes.Unknown, "synchronizing blockchain"))
	assert.ErrorIs(t, err, lnclient.ErrFundingFailed)
	assert.True(t, lnclient.IsRetryable(err))
}

func TestParseChannelPoint(t *testing.T) {
	channelPoint, err := parseChannelPoint("abcd1234:1")
	assert.NoError(t, err)
	assert.Equal(t, "abcd1234", channelPoint.GetFundingTxidStr())
	assert.Equal(t, uint32(1), channelPoint.OutputIndex)

	_, err = parseChannelPoint("abcd1234")
	assert.Error(t, err)
}
