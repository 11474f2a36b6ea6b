package lnclient

import "errors"

// Error taxonomy for node operations. Retryability drives the provisioning
// state machine, so classification has to be an explicit mapping rather than
// something inferred from error strings.
var (
	// ErrNodeUnavailable - our own node cannot be reached at all
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrPeerUnavailable - the counterparty is unreachable right now
	// (dial timeout, connection refused). Routinely resolves itself.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrPeerConnectFailed - the counterparty actively rejected the
	// connection or the supplied identity is invalid
	ErrPeerConnectFailed = errors.New("failed to connect to peer")

	// ErrInsufficientFunds - the onchain wallet cannot fund the channel
	ErrInsufficientFunds = errors.New("insufficient onchain funds")

	// ErrFundingFailed - the funding transaction could not be built or
	// broadcast for a transient reason
	ErrFundingFailed = errors.New("channel funding failed")
)

// IsRetryable reports whether a provisioning attempt that failed with err may
// be retried. A peer that is merely offline is retried (the customer already
// paid); a rejected handshake or an invalid pubkey is not going to fix itself
// and neither is an empty wallet.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrFundingFailed) ||
		errors.Is(err, ErrPeerUnavailable) ||
		errors.Is(err, ErrNodeUnavailable)
}
