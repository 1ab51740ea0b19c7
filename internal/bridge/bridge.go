package bridge

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// LockRequest asks the bridge to lock tokens held by Source and release
// them to Target on Aurora.
type LockRequest struct {
	// TransferID is the caller-assigned identifier for this transfer. The
	// caller persists it before submitting, so a settled outcome can always
	// be routed back even if the submission response is lost.
	TransferID string
	// Source is the forwarder account whose balance is locked.
	Source string
	// Target is the destination address on Aurora.
	Target common.Address
	// TokenID is the NEP-141 token being bridged.
	TokenID string
	// Amount is the net amount to move across.
	Amount sdkmath.Uint
}

// Outcome is the settlement result of a previously submitted lock.
type Outcome struct {
	TransferID string
	Success    bool
	// Reason describes the failure when Success is false.
	Reason string
}

// Bridge is the external lock-and-notify collaborator. Lock returns as soon
// as the transfer is submitted; the outcome arrives later and is fetched by
// the settlement worker via PollOutcome. Consensus, relaying and proof
// verification all live behind this interface.
//
// Outcome delivery is at-least-once: PollOutcome keeps reporting a settled
// outcome until Ack, so a consumer that fails mid-application sees the same
// outcome again on its next poll.
type Bridge interface {
	// Lock submits a cross-chain transfer under req.TransferID.
	Lock(ctx context.Context, req LockRequest) error
	// PollOutcome reports whether the given transfer has settled, and how.
	// ok is false while the transfer is still in flight. A settled outcome
	// is reported on every poll until acknowledged.
	PollOutcome(ctx context.Context, transferID string) (outcome Outcome, ok bool, err error)
	// Ack marks a settled outcome as fully applied; it will not be
	// reported again.
	Ack(ctx context.Context, transferID string) error
}

// Token is the fungible-token collaborator (NEP-141 client view). The
// forwarder is a client of this interface, never its implementation.
type Token interface {
	// BalanceOf returns the balance of account in the given token.
	BalanceOf(ctx context.Context, tokenID, account string) (sdkmath.Uint, error)
	// Transfer moves amount of the given token between two accounts.
	Transfer(ctx context.Context, tokenID, from, to string, amount sdkmath.Uint) error
}
