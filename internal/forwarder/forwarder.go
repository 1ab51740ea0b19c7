// Package forwarder implements the per-binding forwarding state machine.
//
// Each forwarder cycles Idle -> Forwarding -> Idle (or Failed) across the
// asynchronous bridge boundary. The Idle/Forwarding/Failed guard is what
// serializes forward attempts: the bridge call returns before the balance
// leaves custody, so a second forward must be rejected by state, not by
// balance exhaustion.
package forwarder

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/btcsuite/btcutil/base58"
	"go.uber.org/zap"

	"github.com/aurora-is-near/aurora-forwarder/internal/bridge"
	"github.com/aurora-is-near/aurora-forwarder/internal/feepolicy"
	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

var (
	// ErrForwardInProgress rejects a forward while a bridge transfer is in
	// flight for the same forwarder.
	ErrForwardInProgress = errors.New("forward already in progress")

	// ErrUnknownForwarder means no forwarder is deployed at the account.
	ErrUnknownForwarder = errors.New("unknown forwarder")

	// ErrUnexpectedOutcome means a bridge outcome arrived for a transfer no
	// forwarder is waiting on. Outcomes are delivered by the settlement
	// worker only, so this indicates an invariant violation.
	ErrUnexpectedOutcome = errors.New("bridge outcome matches no pending transfer")
)

// Service executes the forward/settle protocol over persisted forwarder
// records. It is a client of the token and bridge collaborators, never
// their implementation.
type Service struct {
	store  Store
	token  bridge.Token
	bridge bridge.Bridge
	logger *zap.Logger
}

// NewService creates a forwarder service.
func NewService(store Store, token bridge.Token, br bridge.Bridge, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		token:  token,
		bridge: br,
		logger: logger.Named("forwarder"),
	}
}

// Deploy initializes a forwarder record for a freshly derived account.
// Satisfies the factory's deployment primitive.
func (s *Service) Deploy(ctx context.Context, accountID string, binding models.Binding) error {
	rec := models.ForwarderRecord{
		AccountID:  accountID,
		Binding:    binding,
		State:      models.StateIdle,
		PendingFee: sdkmath.ZeroUint(),
		PendingNet: sdkmath.ZeroUint(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("create forwarder %s: %w", accountID, err)
	}
	return nil
}

// Get returns the current record for a forwarder account.
func (s *Service) Get(ctx context.Context, accountID string) (models.ForwarderRecord, error) {
	rec, ok, err := s.store.Get(ctx, accountID)
	if err != nil {
		return models.ForwarderRecord{}, fmt.Errorf("load forwarder %s: %w", accountID, err)
	}
	if !ok {
		return models.ForwarderRecord{}, fmt.Errorf("%s: %w", accountID, ErrUnknownForwarder)
	}
	return rec, nil
}

// Forward splits the forwarder's full token balance per its fee config and
// submits the net amount to the bridge. Permissionless: the destination is
// fixed by the binding. Returns the updated record.
//
// Zero balance is an idempotent no-op so racing permissionless callers never
// observe an error. A forward while one is already in flight is rejected
// with ErrForwardInProgress; the state transition happens before any
// external call and is itself the re-entrancy guard. The transfer id is
// assigned here and persisted in the same write as the transition, so a
// record in FORWARDING always names the transfer it is waiting on.
func (s *Service) Forward(ctx context.Context, accountID string) (models.ForwarderRecord, error) {
	rec, err := s.Get(ctx, accountID)
	if err != nil {
		return models.ForwarderRecord{}, err
	}
	if rec.State == models.StateForwarding {
		return rec, fmt.Errorf("%s: %w", accountID, ErrForwardInProgress)
	}

	balance, err := s.token.BalanceOf(ctx, rec.Binding.TokenID, accountID)
	if err != nil {
		return rec, fmt.Errorf("query balance of %s: %w", accountID, err)
	}
	if balance.IsZero() {
		s.logger.Debug("Nothing to forward",
			zap.String("account_id", accountID),
			zap.String("state", string(rec.State)))
		return rec, nil
	}

	split, err := feepolicy.ComputeSplit(balance, rec.Binding.Fee)
	if err != nil {
		// Overflow fails closed: no state change, no transfer intent.
		return rec, fmt.Errorf("fee split for %s: %w", accountID, err)
	}

	rec.State = models.StateForwarding
	rec.FailReason = ""
	rec.PendingFee = split.Fee
	rec.PendingNet = split.Net
	rec.PendingTransferID = newTransferID(accountID, rec.Binding.TokenID, split.Net)
	if err := s.store.Save(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist forwarding state for %s: %w", accountID, err)
	}

	err = s.bridge.Lock(ctx, bridge.LockRequest{
		TransferID: rec.PendingTransferID,
		Source:     accountID,
		Target:     rec.Binding.Target,
		TokenID:    rec.Binding.TokenID,
		Amount:     split.Net,
	})
	if err != nil {
		// Submission never left the chain; record the failure and keep the
		// full balance in custody for a retry.
		s.logger.Warn("Bridge lock submission failed",
			zap.String("account_id", accountID),
			zap.Error(err))
		return s.settle(ctx, rec, models.StateFailed, fmt.Sprintf("bridge submission: %v", err))
	}

	s.logger.Info("Forward submitted",
		zap.String("account_id", accountID),
		zap.String("transfer_id", rec.PendingTransferID),
		zap.String("target", rec.Binding.Target.Hex()),
		zap.String("fee", split.Fee.String()),
		zap.String("net", split.Net.String()))

	return rec, nil
}

// OnBridgeResult applies a settled bridge outcome to the forwarder that
// submitted it. Invoked by the settlement worker, not by arbitrary callers.
// Outcome delivery is at-least-once, so the settled state is persisted
// before the fee moves: a redelivery after a failed store write replays the
// whole application, while a redelivery after a committed one finds no
// pending transfer and cannot pay the fee twice.
//
// The fee is committed only here, on success, so a failed forward never
// skims a fee. On failure the full balance stays in custody and a later
// Forward recomputes the split against the then-current balance.
func (s *Service) OnBridgeResult(ctx context.Context, outcome bridge.Outcome) (models.ForwarderRecord, error) {
	rec, ok, err := s.store.GetByTransfer(ctx, outcome.TransferID)
	if err != nil {
		return models.ForwarderRecord{}, fmt.Errorf("load transfer %s: %w", outcome.TransferID, err)
	}
	if !ok || rec.State != models.StateForwarding {
		return models.ForwarderRecord{}, fmt.Errorf("transfer %s: %w", outcome.TransferID, ErrUnexpectedOutcome)
	}

	if !outcome.Success {
		s.logger.Warn("Bridge transfer failed",
			zap.String("account_id", rec.AccountID),
			zap.String("transfer_id", outcome.TransferID),
			zap.String("reason", outcome.Reason))
		return s.settle(ctx, rec, models.StateFailed, outcome.Reason)
	}

	feeOwed := rec.PendingFee
	netMoved := rec.PendingNet

	rec, err = s.settle(ctx, rec, models.StateIdle, "")
	if err != nil {
		// Nothing moved yet; the unacknowledged outcome is redelivered and
		// the application retried on the next poll.
		return rec, err
	}

	if !feeOwed.IsZero() {
		err := s.token.Transfer(ctx, rec.Binding.TokenID, rec.AccountID, rec.Binding.FeeCollector, feeOwed)
		if err != nil {
			// The net amount is already across; the unpaid fee stays in
			// custody and rides the next forward cycle.
			s.logger.Error("Fee transfer failed after bridge success",
				zap.String("account_id", rec.AccountID),
				zap.String("fee_collector", rec.Binding.FeeCollector),
				zap.Error(err))
			return s.settle(ctx, rec, models.StateFailed, fmt.Sprintf("fee transfer: %v", err))
		}
	}

	s.logger.Info("Forward settled",
		zap.String("account_id", rec.AccountID),
		zap.String("transfer_id", outcome.TransferID),
		zap.String("fee", feeOwed.String()),
		zap.String("net", netMoved.String()))

	return rec, nil
}

// settle moves a forwarder to its resting state and clears the pending
// transfer bookkeeping.
func (s *Service) settle(ctx context.Context, rec models.ForwarderRecord, state models.ForwarderState, reason string) (models.ForwarderRecord, error) {
	rec.State = state
	rec.FailReason = reason
	rec.PendingTransferID = ""
	rec.PendingFee = sdkmath.ZeroUint()
	rec.PendingNet = sdkmath.ZeroUint()
	if err := s.store.Save(ctx, rec); err != nil {
		return rec, fmt.Errorf("persist settled state for %s: %w", rec.AccountID, err)
	}
	return rec, nil
}

// newTransferID derives a NEAR-style base58 receipt identifier for a bridge
// submission. Unique per submission, including retries of the same amount.
func newTransferID(accountID, tokenID string, amount sdkmath.Uint) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d",
		accountID, tokenID, amount, time.Now().UnixNano())))
	return base58.Encode(sum[:])
}
