package factory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

// fakeDeployer records deployments and can be told to fail.
type fakeDeployer struct {
	deployed map[string]models.Binding
	failWith error
}

func newFakeDeployer() *fakeDeployer {
	return &fakeDeployer{deployed: make(map[string]models.Binding)}
}

func (d *fakeDeployer) Deploy(_ context.Context, accountID string, binding models.Binding) error {
	if d.failWith != nil {
		return d.failWith
	}
	if _, exists := d.deployed[accountID]; exists {
		return fmt.Errorf("account %s already exists", accountID)
	}
	d.deployed[accountID] = binding
	return nil
}

func newTestFactory(deployer Deployer) (*Factory, *MemoryRegistry) {
	registry := NewMemoryRegistry()
	return New("fwd.near", nil, registry, deployer, zap.NewNop()), registry
}

func TestGetOrCreateIdempotent(t *testing.T) {
	ctx := context.Background()
	deployer := newFakeDeployer()
	f, registry := newTestFactory(deployer)

	first, err := f.GetOrCreate(ctx, testBinding())
	if err != nil {
		t.Fatalf("first GetOrCreate failed: %v", err)
	}
	if !first.Created {
		t.Error("first call should have deployed")
	}

	second, err := f.GetOrCreate(ctx, testBinding())
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if second.Created {
		t.Error("second call should not have deployed")
	}
	if first.AccountID != second.AccountID || first.BindingKey != second.BindingKey {
		t.Errorf("handles differ: %+v vs %+v", first, second)
	}

	if len(deployer.deployed) != 1 {
		t.Errorf("expected exactly one deployment, got %d", len(deployer.deployed))
	}
	if registry.Len() != 1 {
		t.Errorf("expected exactly one registry entry, got %d", registry.Len())
	}
}

func TestGetOrCreateDistinctBindings(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(newFakeDeployer())

	a, err := f.GetOrCreate(ctx, testBinding())
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	other := testBinding()
	other.FeeCollector = "treasury.near"
	b, err := f.GetOrCreate(ctx, other)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if a.AccountID == b.AccountID {
		t.Errorf("different bindings resolved to the same account %s", a.AccountID)
	}
}

func TestGetOrCreateFailedDeployLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	deployer := newFakeDeployer()
	deployer.failWith = errors.New("deployment reverted")
	f, registry := newTestFactory(deployer)

	if _, err := f.GetOrCreate(ctx, testBinding()); err == nil {
		t.Fatal("expected deployment error, got nil")
	}
	if registry.Len() != 0 {
		t.Errorf("failed deployment left %d registry entries", registry.Len())
	}

	// Once the deployer recovers the same binding deploys cleanly.
	deployer.failWith = nil
	handle, err := f.GetOrCreate(ctx, testBinding())
	if err != nil {
		t.Fatalf("retry after failed deploy errored: %v", err)
	}
	if !handle.Created {
		t.Error("retry should have deployed")
	}
}

func TestGetOrCreateInvalidBinding(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(newFakeDeployer())

	tests := []struct {
		name   string
		mutate func(*models.Binding)
	}{
		{"zero target", func(b *models.Binding) { b.Target = common.Address{} }},
		{"empty token", func(b *models.Binding) { b.TokenID = "" }},
		{"empty collector", func(b *models.Binding) { b.FeeCollector = "" }},
		{"bad rate", func(b *models.Binding) { b.Fee.RateBps = 10001 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBinding()
			tt.mutate(&b)
			if _, err := f.GetOrCreate(ctx, b); !errors.Is(err, ErrInvalidBinding) {
				t.Errorf("expected ErrInvalidBinding, got %v", err)
			}
		})
	}
}

func TestGetOrCreateTokenAllowlist(t *testing.T) {
	ctx := context.Background()
	deployer := newFakeDeployer()
	f := New("fwd.near", []string{"usdc.near", "usdt.near"}, NewMemoryRegistry(), deployer, zap.NewNop())

	// testBinding uses usdc.near, which is on the list.
	if _, err := f.GetOrCreate(ctx, testBinding()); err != nil {
		t.Fatalf("allowlisted token rejected: %v", err)
	}

	other := testBinding()
	other.TokenID = "meme.near"
	if _, err := f.GetOrCreate(ctx, other); !errors.Is(err, ErrUnsupportedToken) {
		t.Fatalf("expected ErrUnsupportedToken, got %v", err)
	}
	if len(deployer.deployed) != 1 {
		t.Errorf("unsupported token reached the deployer: %d deployments", len(deployer.deployed))
	}
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	f, _ := newTestFactory(newFakeDeployer())

	if _, ok, err := f.Lookup(ctx, "deadbeef"); err != nil || ok {
		t.Fatalf("lookup of unknown key: ok=%v err=%v", ok, err)
	}

	created, err := f.GetOrCreate(ctx, testBinding())
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	found, ok, err := f.Lookup(ctx, created.BindingKey)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !ok || found.AccountID != created.AccountID {
		t.Errorf("lookup returned %+v, want account %s", found, created.AccountID)
	}
}

func TestMemoryRegistryAppendOnly(t *testing.T) {
	ctx := context.Background()
	registry := NewMemoryRegistry()

	entry := models.RegistryEntry{BindingKey: "aa", AccountID: "one.fwd.near"}
	if err := registry.Put(ctx, entry); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	dup := models.RegistryEntry{BindingKey: "aa", AccountID: "two.fwd.near"}
	if err := registry.Put(ctx, dup); !errors.Is(err, ErrDuplicateDeployment) {
		t.Errorf("expected ErrDuplicateDeployment, got %v", err)
	}

	accountID, ok, _ := registry.Get(ctx, "aa")
	if !ok || accountID != "one.fwd.near" {
		t.Errorf("original entry was overwritten: %s", accountID)
	}
}
