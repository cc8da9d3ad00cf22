/*

Custody-store types. An asset entry is a tagged variant: either the vault's
principal balance or an opaque handle to an externally-managed position. The
core never interprets a handle's internals; adaptors translate handles into
USD values.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// AssetKey uniquely names an entry in the vault's custody store.
type AssetKey string

// AssetKind discriminates the custody-store variants.
type AssetKind string

const (
	AssetKindBalance  AssetKind = "BALANCE"  // principal held directly by the vault
	AssetKindExternal AssetKind = "EXTERNAL" // opaque position managed by an adaptor
)

// VaultStatus is the lifecycle status of the vault.
type VaultStatus string

const (
	StatusNormal      VaultStatus = "NORMAL"
	StatusInOperation VaultStatus = "IN_OPERATION"
	StatusDisabled    VaultStatus = "DISABLED"
)

// ExternalHandle is an opaque reference to an externally-managed position.
// AdaptorID routes valuation calls; PositionRef is meaningful only to that
// adaptor.
type ExternalHandle struct {
	AdaptorID   string `json:"adaptor_id"`
	PositionRef string `json:"position_ref"`
}

// AssetValuation is the read-side view of one custody-store entry.
type AssetValuation struct {
	Key        AssetKey         `json:"key"`
	Kind       AssetKind        `json:"kind"`
	USDValue   sdkmath.LegacyDec `json:"usd_value"`
	LastUpdate time.Time        `json:"last_update"`
	Borrowed   bool             `json:"borrowed,omitempty"`
}

// BorrowedAsset is what StartOperation hands to the operator: the key plus
// whichever variant payload the entry holds.
type BorrowedAsset struct {
	Key     AssetKey        `json:"key"`
	Kind    AssetKind       `json:"kind"`
	Balance sdkmath.Int     `json:"balance,omitempty"` // set for BALANCE entries
	Handle  *ExternalHandle `json:"handle,omitempty"`  // set for EXTERNAL entries
}

// ReturnedAsset is the operator's counterpart on EndOperation. Returning an
// asset does not itself refresh its cached value.
type ReturnedAsset struct {
	Key     AssetKey        `json:"key"`
	Balance sdkmath.Int     `json:"balance,omitempty"`
	Handle  *ExternalHandle `json:"handle,omitempty"`
}
