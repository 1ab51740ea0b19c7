package bridge

import (
	"context"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// FakeToken is an in-memory NEP-141 ledger used by tests and by the
// simulation backend.
type FakeToken struct {
	mu       sync.Mutex
	balances map[string]map[string]sdkmath.Uint // tokenID -> account -> balance
}

// NewFakeToken creates an empty in-memory token ledger.
func NewFakeToken() *FakeToken {
	return &FakeToken{balances: make(map[string]map[string]sdkmath.Uint)}
}

// Mint credits amount to account. Used to model deposits arriving at a
// forwarder from outside the system.
func (t *FakeToken) Mint(tokenID, account string, amount sdkmath.Uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(tokenID, account, amount)
}

// Burn removes amount from account, modelling value leaving the host chain.
func (t *FakeToken) Burn(tokenID, account string, amount sdkmath.Uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.debit(tokenID, account, amount)
}

// BalanceOf implements Token.
func (t *FakeToken) BalanceOf(_ context.Context, tokenID, account string) (sdkmath.Uint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if accounts, ok := t.balances[tokenID]; ok {
		if bal, ok := accounts[account]; ok {
			return bal, nil
		}
	}
	return sdkmath.ZeroUint(), nil
}

// Transfer implements Token.
func (t *FakeToken) Transfer(_ context.Context, tokenID, from, to string, amount sdkmath.Uint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.debit(tokenID, from, amount); err != nil {
		return err
	}
	t.credit(tokenID, to, amount)
	return nil
}

func (t *FakeToken) credit(tokenID, account string, amount sdkmath.Uint) {
	accounts, ok := t.balances[tokenID]
	if !ok {
		accounts = make(map[string]sdkmath.Uint)
		t.balances[tokenID] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = sdkmath.ZeroUint()
	}
	accounts[account] = bal.Add(amount)
}

func (t *FakeToken) debit(tokenID, account string, amount sdkmath.Uint) error {
	accounts, ok := t.balances[tokenID]
	if !ok {
		return fmt.Errorf("token %s: account %s has no balance", tokenID, account)
	}
	bal, ok := accounts[account]
	if !ok || bal.LT(amount) {
		return fmt.Errorf("token %s: account %s balance too low", tokenID, account)
	}
	accounts[account] = bal.Sub(amount)
	return nil
}

// FakeBridge emulates the lock-and-notify collaborator against a FakeToken
// ledger. Locks stay pending until resolved, either explicitly with Resolve
// (tests) or automatically when auto-settle is on (simulation mode). On a
// successful settlement the locked amount is burned from the source account,
// matching the host chain where balances are only debited once the bridge
// call resolves. A resolved outcome is reported on every poll until Ack.
type FakeBridge struct {
	ledger     *FakeToken
	autoSettle bool

	mu       sync.Mutex
	pending  map[string]LockRequest
	resolved map[string]Outcome
}

// NewFakeBridge creates a fake bridge over the given ledger. With autoSettle
// every pending transfer settles successfully on the next poll.
func NewFakeBridge(ledger *FakeToken, autoSettle bool) *FakeBridge {
	return &FakeBridge{
		ledger:     ledger,
		autoSettle: autoSettle,
		pending:    make(map[string]LockRequest),
		resolved:   make(map[string]Outcome),
	}
}

// Lock implements Bridge. The transfer id is assigned by the caller and must
// be unique; re-submitting an id that is already pending or settled fails.
func (b *FakeBridge) Lock(_ context.Context, req LockRequest) error {
	if req.TransferID == "" {
		return fmt.Errorf("missing transfer id")
	}
	if req.Source == "" {
		return fmt.Errorf("missing source account")
	}
	if req.Amount.IsNil() || req.Amount.IsZero() {
		return fmt.Errorf("nothing to lock")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.pending[req.TransferID]; exists {
		return fmt.Errorf("transfer %s already pending", req.TransferID)
	}
	if _, exists := b.resolved[req.TransferID]; exists {
		return fmt.Errorf("transfer %s already settled", req.TransferID)
	}
	b.pending[req.TransferID] = req
	return nil
}

// Resolve settles a pending transfer. Tests drive settlement through this.
func (b *FakeBridge) Resolve(transferID string, success bool, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resolve(transferID, success, reason)
}

// PollOutcome implements Bridge. A resolved outcome stays visible on every
// poll until the caller acknowledges it, so a failed application is simply
// retried on the next poll.
func (b *FakeBridge) PollOutcome(_ context.Context, transferID string) (Outcome, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, isPending := b.pending[transferID]; isPending && b.autoSettle {
		if err := b.resolve(transferID, true, ""); err != nil {
			return Outcome{}, false, err
		}
	}

	outcome, ok := b.resolved[transferID]
	if !ok {
		return Outcome{}, false, nil
	}
	return outcome, true, nil
}

// Ack implements Bridge. Acknowledging an unknown id is a no-op, so acks may
// be retried freely.
func (b *FakeBridge) Ack(_ context.Context, transferID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.resolved, transferID)
	return nil
}

func (b *FakeBridge) resolve(transferID string, success bool, reason string) error {
	req, ok := b.pending[transferID]
	if !ok {
		return fmt.Errorf("no pending transfer %s", transferID)
	}
	if success {
		if err := b.ledger.Burn(req.TokenID, req.Source, req.Amount); err != nil {
			return fmt.Errorf("settle transfer %s: %w", transferID, err)
		}
	}
	delete(b.pending, transferID)
	b.resolved[transferID] = Outcome{TransferID: transferID, Success: success, Reason: reason}
	return nil
}
