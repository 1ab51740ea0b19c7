package forwarder

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/aurora-is-near/aurora-forwarder/internal/bridge"
	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

const (
	testAccount   = "3f9acc00000000000000000000000000000000aa.fwd.near"
	testToken     = "usdc.near"
	testCollector = "fees.near"
)

func testBinding() models.Binding {
	return models.Binding{
		Target:       common.HexToAddress("0xEa2342000000000000000000000000000000beef"),
		TokenID:      testToken,
		FeeCollector: testCollector,
		Fee: models.FeeConfig{
			RateBps: 250,
			MinFee:  sdkmath.NewUint(1),
			MaxFee:  sdkmath.NewUint(100),
		},
	}
}

type fixture struct {
	svc    *Service
	store  *MemoryStore
	ledger *bridge.FakeToken
	bridge *bridge.FakeBridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	ledger := bridge.NewFakeToken()
	br := bridge.NewFakeBridge(ledger, false)
	svc := NewService(store, ledger, br, zap.NewNop())

	if err := svc.Deploy(context.Background(), testAccount, testBinding()); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	return &fixture{svc: svc, store: store, ledger: ledger, bridge: br}
}

// deliver pushes the settled outcome for rec's pending transfer through the
// callback entry point, the way the settlement worker does.
func (f *fixture) deliver(t *testing.T, transferID string, success bool, reason string) models.ForwarderRecord {
	t.Helper()
	ctx := context.Background()
	if err := f.bridge.Resolve(transferID, success, reason); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	outcome, ok, err := f.bridge.PollOutcome(ctx, transferID)
	if err != nil || !ok {
		t.Fatalf("poll outcome: ok=%v err=%v", ok, err)
	}
	rec, err := f.svc.OnBridgeResult(ctx, outcome)
	if err != nil {
		t.Fatalf("OnBridgeResult failed: %v", err)
	}
	if err := f.bridge.Ack(ctx, transferID); err != nil {
		t.Fatalf("ack failed: %v", err)
	}
	return rec
}

func (f *fixture) balance(t *testing.T, account string) sdkmath.Uint {
	t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), testToken, account)
	if err != nil {
		t.Fatalf("balance query failed: %v", err)
	}
	return bal
}

func TestForwardHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Deposit 1000 with fee config {rate=250bps, min=1, max=100}.
	f.ledger.Mint(testToken, testAccount, sdkmath.NewUint(1000))

	rec, err := f.svc.Forward(ctx, testAccount)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if rec.State != models.StateForwarding {
		t.Fatalf("expected FORWARDING, got %s", rec.State)
	}
	if rec.PendingFee.String() != "25" || rec.PendingNet.String() != "975" {
		t.Errorf("expected fee=25 net=975, got fee=%s net=%s", rec.PendingFee, rec.PendingNet)
	}
	if rec.PendingTransferID == "" {
		t.Fatal("no pending transfer id recorded")
	}

	settled := f.deliver(t, rec.PendingTransferID, true, "")
	if settled.State != models.StateIdle {
		t.Errorf("expected IDLE after success, got %s", settled.State)
	}

	if got := f.balance(t, testCollector); got.String() != "25" {
		t.Errorf("fee collector holds %s, want 25", got)
	}
	if got := f.balance(t, testAccount); !got.IsZero() {
		t.Errorf("forwarder still holds %s, want 0", got)
	}
}

func TestForwardReentrantRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.Mint(testToken, testAccount, sdkmath.NewUint(1000))

	if _, err := f.svc.Forward(ctx, testAccount); err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	// Second forward while the transfer is in flight: the balance has not
	// left custody yet, so only the state guard can reject it.
	_, err := f.svc.Forward(ctx, testAccount)
	if !errors.Is(err, ErrForwardInProgress) {
		t.Fatalf("expected ErrForwardInProgress, got %v", err)
	}

	if got := f.balance(t, testAccount); got.String() != "1000" {
		t.Errorf("rejected forward changed the balance: %s", got)
	}
}

func TestForwardZeroBalanceNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.svc.Forward(ctx, testAccount)
	if err != nil {
		t.Fatalf("zero-balance forward should succeed, got %v", err)
	}
	if rec.State != models.StateIdle {
		t.Errorf("expected IDLE unchanged, got %s", rec.State)
	}
}

func TestForwardFailureRetainsCustodyAndRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.Mint(testToken, testAccount, sdkmath.NewUint(1000))

	rec, err := f.svc.Forward(ctx, testAccount)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	failed := f.deliver(t, rec.PendingTransferID, false, "relay timeout")
	if failed.State != models.StateFailed {
		t.Fatalf("expected FAILED, got %s", failed.State)
	}
	if failed.FailReason != "relay timeout" {
		t.Errorf("unexpected fail reason: %s", failed.FailReason)
	}

	// No fee was skimmed on the failed attempt.
	if got := f.balance(t, testCollector); !got.IsZero() {
		t.Errorf("fee collector holds %s after failed forward", got)
	}
	if got := f.balance(t, testAccount); got.String() != "1000" {
		t.Errorf("custody lost funds: %s", got)
	}

	// More funds arrive; the retry recomputes the split on 1500.
	f.ledger.Mint(testToken, testAccount, sdkmath.NewUint(500))

	retried, err := f.svc.Forward(ctx, testAccount)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried.State != models.StateForwarding {
		t.Fatalf("expected FORWARDING on retry, got %s", retried.State)
	}
	if retried.PendingFee.String() != "37" || retried.PendingNet.String() != "1463" {
		t.Errorf("retry split on 1500: fee=%s net=%s, want fee=37 net=1463",
			retried.PendingFee, retried.PendingNet)
	}

	settled := f.deliver(t, retried.PendingTransferID, true, "")
	if settled.State != models.StateIdle {
		t.Errorf("expected IDLE after retry settles, got %s", settled.State)
	}
	if got := f.balance(t, testCollector); got.String() != "37" {
		t.Errorf("fee collector holds %s, want 37", got)
	}
}

func TestDepositDuringForwardingAccumulates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.Mint(testToken, testAccount, sdkmath.NewUint(1000))

	rec, err := f.svc.Forward(ctx, testAccount)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	// A deposit lands while the transfer is in flight. It is accepted but
	// not forwarded until the next cycle.
	f.ledger.Mint(testToken, testAccount, sdkmath.NewUint(300))

	f.deliver(t, rec.PendingTransferID, true, "")

	if got := f.balance(t, testAccount); got.String() != "300" {
		t.Errorf("late deposit not retained: %s", got)
	}

	next, err := f.svc.Forward(ctx, testAccount)
	if err != nil {
		t.Fatalf("next cycle failed: %v", err)
	}
	// 300 * 250bps = 7.5 -> 7.
	if next.PendingFee.String() != "7" || next.PendingNet.String() != "293" {
		t.Errorf("next cycle split: fee=%s net=%s", next.PendingFee, next.PendingNet)
	}
}

// trackingStore records every Save so tests can assert what each write
// actually persisted.
type trackingStore struct {
	*MemoryStore
	saves []models.ForwarderRecord
}

func (s *trackingStore) Save(ctx context.Context, rec models.ForwarderRecord) error {
	s.saves = append(s.saves, rec)
	return s.MemoryStore.Save(ctx, rec)
}

func TestForwardPersistsTransferIDWithTransition(t *testing.T) {
	ctx := context.Background()
	store := &trackingStore{MemoryStore: NewMemoryStore()}
	ledger := bridge.NewFakeToken()
	svc := NewService(store, ledger, bridge.NewFakeBridge(ledger, false), zap.NewNop())

	if err := svc.Deploy(ctx, testAccount, testBinding()); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	ledger.Mint(testToken, testAccount, sdkmath.NewUint(1000))

	if _, err := svc.Forward(ctx, testAccount); err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	// The FORWARDING transition and the transfer id land in one write. A
	// FORWARDING record without a transfer id would be unpollable, so no
	// intermediate write may ever produce one.
	if len(store.saves) != 1 {
		t.Fatalf("forward issued %d writes, want 1", len(store.saves))
	}
	for _, saved := range store.saves {
		if saved.State == models.StateForwarding && saved.PendingTransferID == "" {
			t.Error("persisted FORWARDING without a transfer id")
		}
	}
}

// flakyStore fails the next n Save calls, modelling a transient database
// outage.
type flakyStore struct {
	*MemoryStore
	failNext int
}

func (s *flakyStore) Save(ctx context.Context, rec models.ForwarderRecord) error {
	if s.failNext > 0 {
		s.failNext--
		return errors.New("connection reset")
	}
	return s.MemoryStore.Save(ctx, rec)
}

func TestOnBridgeResultReplaysAfterStoreError(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	ledger := bridge.NewFakeToken()
	br := bridge.NewFakeBridge(ledger, false)
	svc := NewService(store, ledger, br, zap.NewNop())

	if err := svc.Deploy(ctx, testAccount, testBinding()); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	ledger.Mint(testToken, testAccount, sdkmath.NewUint(1000))

	rec, err := svc.Forward(ctx, testAccount)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if err := br.Resolve(rec.PendingTransferID, true, ""); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	outcome, ok, _ := br.PollOutcome(ctx, rec.PendingTransferID)
	if !ok {
		t.Fatal("no outcome after resolve")
	}

	// The settle write fails once. Nothing may move: the fee stays unpaid,
	// the record stays FORWARDING, and the outcome must still be pollable.
	store.failNext = 1
	if _, err := svc.OnBridgeResult(ctx, outcome); err == nil {
		t.Fatal("expected error from failed settle write, got nil")
	}
	if got, _ := ledger.BalanceOf(ctx, testToken, testCollector); !got.IsZero() {
		t.Errorf("fee paid despite failed settle write: %s", got)
	}
	replayed, ok, _ := br.PollOutcome(ctx, rec.PendingTransferID)
	if !ok {
		t.Fatal("outcome lost after failed application")
	}

	// Redelivery applies cleanly: settled to IDLE with the fee paid once.
	settled, err := svc.OnBridgeResult(ctx, replayed)
	if err != nil {
		t.Fatalf("replayed OnBridgeResult failed: %v", err)
	}
	if settled.State != models.StateIdle {
		t.Errorf("expected IDLE after replay, got %s", settled.State)
	}
	if got, _ := ledger.BalanceOf(ctx, testToken, testCollector); got.String() != "25" {
		t.Errorf("fee collector holds %s, want 25", got)
	}
	if got, _ := ledger.BalanceOf(ctx, testToken, testAccount); !got.IsZero() {
		t.Errorf("forwarder still holds %s, want 0", got)
	}
}

func TestOnBridgeResultUnexpectedOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.OnBridgeResult(ctx, bridge.Outcome{TransferID: "unknown", Success: true})
	if !errors.Is(err, ErrUnexpectedOutcome) {
		t.Fatalf("expected ErrUnexpectedOutcome, got %v", err)
	}
}

func TestForwardUnknownAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Forward(ctx, "nobody.fwd.near")
	if !errors.Is(err, ErrUnknownForwarder) {
		t.Fatalf("expected ErrUnknownForwarder, got %v", err)
	}
}

func TestDeployDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.svc.Deploy(ctx, testAccount, testBinding())
	if !errors.Is(err, ErrAlreadyDeployed) {
		t.Fatalf("expected ErrAlreadyDeployed, got %v", err)
	}
}

func TestForwardFromFailedStateZeroBalanceStaysFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.Mint(testToken, testAccount, sdkmath.NewUint(100))

	rec, err := f.svc.Forward(ctx, testAccount)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	f.deliver(t, rec.PendingTransferID, false, "halted")

	// Drain the balance out-of-band, then forward: a zero-balance no-op
	// leaves the FAILED diagnostic in place.
	if err := f.ledger.Transfer(ctx, testToken, testAccount, "drain.near", sdkmath.NewUint(100)); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	after, err := f.svc.Forward(ctx, testAccount)
	if err != nil {
		t.Fatalf("zero-balance forward errored: %v", err)
	}
	if after.State != models.StateFailed {
		t.Errorf("expected FAILED retained, got %s", after.State)
	}
}
