package factory

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

// DeriveBindingKey computes the deterministic registry key for a binding.
//
// key = keccak256(target ++ len(token) ++ token ++ len(collector) ++ collector
//                 ++ rate_bps ++ min_fee ++ max_fee)
//
// Every field of the binding participates, so bindings differing in any field
// derive different keys. String fields are length-prefixed to keep the
// encoding unambiguous; fee bounds are encoded as 16-byte big-endian u128
// (zero when unset). Independent of caller identity and call order, which is
// what lets depositors predict a forwarder's account before it exists.
func DeriveBindingKey(b models.Binding) [32]byte {
	data := make([]byte, 0, 128)
	data = append(data, b.Target.Bytes()...)
	data = appendString(data, b.TokenID)
	data = appendString(data, b.FeeCollector)

	var rate [4]byte
	binary.BigEndian.PutUint32(rate[:], b.Fee.RateBps)
	data = append(data, rate[:]...)
	data = append(data, uintBytes(b.Fee.MinFee)...)
	data = append(data, uintBytes(b.Fee.MaxFee)...)

	var key [32]byte
	copy(key[:], crypto.Keccak256(data))
	return key
}

// DeriveAccountID returns the forwarder sub-account for a binding key under
// the factory account, e.g. "3f9a…c2.fwd.near". The prefix is the first
// 20 bytes of the key in hex, which keeps the full account id within NEAR's
// 64-character limit for factory accounts up to 23 characters.
func DeriveAccountID(key [32]byte, factoryAccount string) string {
	return fmt.Sprintf("%s.%s", hex.EncodeToString(key[:20]), factoryAccount)
}

// VerifyAccountID reports whether accountID is the derived account for the
// given binding under factoryAccount.
func VerifyAccountID(accountID string, b models.Binding, factoryAccount string) bool {
	return accountID == DeriveAccountID(DeriveBindingKey(b), factoryAccount)
}

func appendString(data []byte, s string) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(s)))
	data = append(data, l[:]...)
	return append(data, s...)
}

// uintBytes encodes a fee bound as 16-byte big-endian u128; nil means unset
// and encodes as zero. Bounds are validated against the u128 range before a
// binding reaches derivation.
func uintBytes(u sdkmath.Uint) []byte {
	buf := make([]byte, 16)
	if u.IsNil() {
		return buf
	}
	u.BigInt().FillBytes(buf)
	return buf
}
