package factory

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/aurora-is-near/aurora-forwarder/internal/feepolicy"
	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

var (
	// ErrInvalidBinding is returned for a binding that can never be deployed.
	ErrInvalidBinding = errors.New("invalid binding")

	// ErrDuplicateDeployment means the registry already held an entry for a
	// key that was just deployed. Under the atomic get-or-create flow this
	// cannot happen; it indicates registry corruption and aborts the call.
	ErrDuplicateDeployment = errors.New("duplicate deployment for binding key")

	// ErrUnsupportedToken rejects bindings for tokens outside the factory's
	// allowlist.
	ErrUnsupportedToken = errors.New("token not supported")
)

// Registry is the factory's append-only mapping from binding key to
// deployed forwarder account. Put must return ErrDuplicateDeployment when
// the key is already present.
type Registry interface {
	Get(ctx context.Context, bindingKey string) (accountID string, ok bool, err error)
	Put(ctx context.Context, entry models.RegistryEntry) error
}

// Deployer is the chain's contract-deployment primitive: it creates the
// forwarder account and initializes it with its binding.
type Deployer interface {
	Deploy(ctx context.Context, accountID string, binding models.Binding) error
}

// Handle identifies a deployed forwarder.
type Handle struct {
	BindingKey string `json:"binding_key"`
	AccountID  string `json:"account_id"`
	// Created is true when this call performed the deployment.
	Created bool `json:"created"`
}

// Factory deterministically deploys and tracks forwarder instances.
type Factory struct {
	account  string
	tokens   map[string]struct{} // empty: any token is accepted
	registry Registry
	deployer Deployer
	logger   *zap.Logger
}

// New creates a factory rooted at the given account, e.g. "fwd.near".
// supportedTokens restricts which token ids may be bound; an empty list
// leaves deployment unrestricted.
func New(account string, supportedTokens []string, registry Registry, deployer Deployer, logger *zap.Logger) *Factory {
	tokens := make(map[string]struct{}, len(supportedTokens))
	for _, id := range supportedTokens {
		tokens[id] = struct{}{}
	}
	return &Factory{
		account:  account,
		tokens:   tokens,
		registry: registry,
		deployer: deployer,
		logger:   logger.Named("factory"),
	}
}

// Account returns the factory's own account id.
func (f *Factory) Account() string {
	return f.account
}

// GetOrCreate returns the forwarder bound to the given tuple, deploying it
// on first request. Idempotent: byte-identical bindings always resolve to
// the same handle and deploy at most once. A failed deployment leaves no
// registry entry behind.
func (f *Factory) GetOrCreate(ctx context.Context, binding models.Binding) (Handle, error) {
	if err := f.validateBinding(binding); err != nil {
		return Handle{}, err
	}

	key := DeriveBindingKey(binding)
	keyHex := hex.EncodeToString(key[:])

	if accountID, ok, err := f.registry.Get(ctx, keyHex); err != nil {
		return Handle{}, fmt.Errorf("registry lookup: %w", err)
	} else if ok {
		return Handle{BindingKey: keyHex, AccountID: accountID, Created: false}, nil
	}

	accountID := DeriveAccountID(key, f.account)

	if err := f.deployer.Deploy(ctx, accountID, binding); err != nil {
		return Handle{}, fmt.Errorf("deploy forwarder %s: %w", accountID, err)
	}

	entry := models.RegistryEntry{BindingKey: keyHex, AccountID: accountID}
	if err := f.registry.Put(ctx, entry); err != nil {
		// A conflict here means the key appeared between lookup and insert,
		// which the chain's atomic invocation model rules out.
		return Handle{}, fmt.Errorf("register forwarder %s: %w", accountID, err)
	}

	f.logger.Info("Forwarder deployed",
		zap.String("account_id", accountID),
		zap.String("binding_key", keyHex),
		zap.String("target", binding.Target.Hex()),
		zap.String("token_id", binding.TokenID))

	return Handle{BindingKey: keyHex, AccountID: accountID, Created: true}, nil
}

// Lookup resolves a binding key to its forwarder handle, if deployed.
// Pure read; never deploys.
func (f *Factory) Lookup(ctx context.Context, bindingKey string) (Handle, bool, error) {
	accountID, ok, err := f.registry.Get(ctx, bindingKey)
	if err != nil || !ok {
		return Handle{}, false, err
	}
	return Handle{BindingKey: bindingKey, AccountID: accountID}, true, nil
}

func (f *Factory) validateBinding(b models.Binding) error {
	if b.Target == (common.Address{}) {
		return fmt.Errorf("%w: zero target address", ErrInvalidBinding)
	}
	if b.TokenID == "" {
		return fmt.Errorf("%w: missing token id", ErrInvalidBinding)
	}
	if len(f.tokens) > 0 {
		if _, ok := f.tokens[b.TokenID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedToken, b.TokenID)
		}
	}
	if b.FeeCollector == "" {
		return fmt.Errorf("%w: missing fee collector", ErrInvalidBinding)
	}
	if err := feepolicy.ValidateConfig(b.Fee); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBinding, err)
	}
	return nil
}
