/*

Asset registry & custody store. Registration and extraction are admin-gated;
value updates are operator-gated and, while an operation is active, restricted
to the operator that owns it. UpdateValue is the sole link between pricing
calls and lifecycle progress: marking a borrowed key updated is what lets a
reconciliation proceed.

*/

package vault

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/types"
)

// RegisterAsset inserts an external-position entry under key with a cached
// value of zero. The principal balance entry is created at construction and
// cannot be registered here.
func (v *Vault) RegisterAsset(admin AdminCredential, key types.AssetKey, handle types.ExternalHandle, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyAdmin(admin); err != nil {
		return err
	}
	if key == "" {
		return errorsmod.Wrap(ErrAssetNotFound, "asset key cannot be empty")
	}
	if handle.AdaptorID == "" {
		return errorsmod.Wrap(ErrInvalidAmount, "handle adaptor ID cannot be empty")
	}
	if _, exists := v.assets[key]; exists {
		return errorsmod.Wrapf(ErrAssetExists, "key %s", key)
	}

	handleCopy := handle
	v.assets[key] = &assetEntry{
		key:        key,
		kind:       types.AssetKindExternal,
		handle:     &handleCopy,
		usdValue:   sdkmath.LegacyZeroDec(),
		lastUpdate: now,
	}

	v.logger.Info().
		Str("key", string(key)).
		Str("adaptor", handle.AdaptorID).
		Msg("External asset registered")
	return nil
}

// UpdateValue overwrites the cached value/time pair for key. While an
// operation is active only its owning operator may update values; if the
// reconciliation gate is open and key is borrowed, the key is marked updated.
// Repeating a call with an identical value and time is a no-op.
func (v *Vault) UpdateValue(operator OperatorCredential, key types.AssetKey, usdValue sdkmath.LegacyDec, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.op != nil {
		if err := v.verifyOperationOwner(operator); err != nil {
			return err
		}
	} else if err := v.verifyOperator(operator); err != nil {
		return err
	}

	entry, exists := v.assets[key]
	if !exists {
		return errorsmod.Wrapf(ErrAssetNotFound, "key %s", key)
	}
	if usdValue.IsNil() || usdValue.IsNegative() {
		return errorsmod.Wrap(ErrInvalidAmount, "USD value must be a non-negative decimal")
	}

	if entry.usdValue.Equal(usdValue) && entry.lastUpdate.Equal(now) {
		if v.op == nil || v.op.updated[key] {
			return nil
		}
	}

	entry.usdValue = usdValue
	entry.lastUpdate = now

	if v.op != nil && v.op.gateOpen && v.op.borrowed[key] {
		v.op.updated[key] = true
	}

	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventAssetValueUpdated,
		Timestamp: now,
		Actor:     operator.holder,
		AssetKeys: []types.AssetKey{key},
		USDValue:  usdValue,
	})
	return nil
}

// ExtractAsset removes the entry under key and returns its payload.
// Permitted only while Normal and only when the cached value is exactly zero:
// positions must be fully unwound before they leave custody.
func (v *Vault) ExtractAsset(admin AdminCredential, key types.AssetKey) (types.BorrowedAsset, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyAdmin(admin); err != nil {
		return types.BorrowedAsset{}, err
	}
	if v.status != types.StatusNormal {
		return types.BorrowedAsset{}, errorsmod.Wrapf(ErrInvalidState, "extraction requires NORMAL, vault is %s", v.status)
	}
	if key == v.principalKey {
		return types.BorrowedAsset{}, errorsmod.Wrap(ErrInvalidState, "principal entry cannot be extracted")
	}

	entry, exists := v.assets[key]
	if !exists {
		return types.BorrowedAsset{}, errorsmod.Wrapf(ErrAssetNotFound, "key %s", key)
	}
	if !entry.usdValue.IsZero() {
		return types.BorrowedAsset{}, errorsmod.Wrapf(ErrZeroExtraction,
			"key %s still carries %s USD", key, entry.usdValue.String())
	}

	delete(v.assets, key)
	v.logger.Warn().Str("key", string(key)).Msg("Asset extracted from custody")

	return borrowedPayload(entry), nil
}

// borrowedPayload copies an entry's variant payload into the hand-out form.
func borrowedPayload(entry *assetEntry) types.BorrowedAsset {
	out := types.BorrowedAsset{Key: entry.key, Kind: entry.kind}
	switch entry.kind {
	case types.AssetKindBalance:
		out.Balance = entry.balance
	case types.AssetKindExternal:
		if entry.handle != nil {
			handleCopy := *entry.handle
			out.Handle = &handleCopy
		}
	}
	return out
}
