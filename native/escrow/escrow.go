package escrow

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// Errors returned by the escrow state machine. Every precondition violation
// maps to exactly one of these so callers can surface a definitive outcome.
var (
	ErrInvalidAmount     = errors.New("escrow: amount must be positive")
	ErrInvalidExpiration = errors.New("escrow: expiration must be in the future")
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	ErrAlreadyExists     = errors.New("escrow: commitment already in use")
	ErrNotFound          = errors.New("escrow: not found")
	ErrAlreadyRedeemed   = errors.New("escrow: already redeemed")
	ErrInvalidSecret     = errors.New("escrow: invalid secret")
	ErrNotExpired        = errors.New("escrow: not yet expired")
	ErrReclaimForbidden  = errors.New("escrow: reclaim restricted to sender")
	ErrInvalidAsset      = errors.New("escrow: invalid asset class")
)

// AssetKind distinguishes the native coin from a fungible token mint.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetToken
)

// AssetClass identifies which fungible asset an escrow locks. Token escrows
// carry the 20-byte mint identity; native escrows leave it zero.
type AssetClass struct {
	Kind AssetKind
	Mint [20]byte
}

// NativeAsset returns the asset class for the native coin.
func NativeAsset() AssetClass { return AssetClass{Kind: AssetNative} }

// TokenAsset returns the asset class for the given token mint.
func TokenAsset(mint [20]byte) AssetClass {
	return AssetClass{Kind: AssetToken, Mint: mint}
}

// Valid reports whether the asset class is well formed: native escrows must
// not name a mint and token escrows must.
func (a AssetClass) Valid() bool {
	switch a.Kind {
	case AssetNative:
		return a.Mint == [20]byte{}
	case AssetToken:
		return a.Mint != [20]byte{}
	default:
		return false
	}
}

func (a AssetClass) String() string {
	switch a.Kind {
	case AssetNative:
		return "native"
	case AssetToken:
		return fmt.Sprintf("token:%s", hex.EncodeToString(a.Mint[:]))
	default:
		return "unknown"
	}
}

// Escrow is the persistent record of one locked transfer. It is created by
// Initialize, flipped to Redeemed exactly once by Redeem or Reclaim, and kept
// as a tombstone afterwards. Its identity is the address derived from
// (Asset, Commitment); the record itself never stores that address.
type Escrow struct {
	Sender     [20]byte
	Amount     *big.Int
	ExpiresAt  int64
	Redeemed   bool
	Asset      AssetClass
	Commitment [32]byte
	CreatedAt  int64
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Sanitize validates the supplied record and returns a clone with a non-nil
// amount. The original value is never mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	clone := e.Clone()
	if !clone.Asset.Valid() {
		return nil, ErrInvalidAsset
	}
	if clone.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return clone, nil
}
