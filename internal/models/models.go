package models

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// ForwarderState represents the lifecycle state of a forwarder
type ForwarderState string

const (
	// StateIdle is the initial and resting state; a forward may be started.
	StateIdle ForwarderState = "IDLE"
	// StateForwarding means a bridge transfer is in flight and unresolved.
	StateForwarding ForwarderState = "FORWARDING"
	// StateFailed records the last bridge failure; a forward may be retried.
	StateFailed ForwarderState = "FAILED"
)

// FeeConfig holds the fee schedule snapshotted into a binding.
// A nil or zero MinFee/MaxFee means the bound is unset.
type FeeConfig struct {
	RateBps uint32       `json:"rate_bps"`
	MinFee  sdkmath.Uint `json:"min_fee"`
	MaxFee  sdkmath.Uint `json:"max_fee"`
}

// Binding is the immutable (target, token, fee-collector, fee-config) tuple
// fixed at a forwarder's creation. It is what makes the factory's account
// derivation deterministic.
type Binding struct {
	// Target is the destination account on Aurora (20-byte EVM address).
	Target common.Address
	// TokenID is the NEP-141 token account id the forwarder accepts.
	TokenID string
	// FeeCollector is the account id the fee share is paid to.
	FeeCollector string
	// Fee is the fee schedule snapshot.
	Fee FeeConfig
}

// ForwarderRecord is the persisted state of one forwarder instance.
type ForwarderRecord struct {
	AccountID string
	Binding   Binding
	State     ForwarderState
	// FailReason holds the last bridge failure reason while State is FAILED.
	FailReason string
	// PendingTransferID identifies the in-flight bridge transfer while
	// State is FORWARDING. NEAR-style base58 receipt identifier.
	PendingTransferID string
	PendingFee        sdkmath.Uint
	PendingNet        sdkmath.Uint
}

// RegistryEntry maps a binding key to its deployed forwarder account.
// Entries are append-only; deployed accounts are never destroyed.
type RegistryEntry struct {
	BindingKey string `db:"binding_key"` // hex-encoded 32-byte key
	AccountID  string `db:"account_id"`
}
