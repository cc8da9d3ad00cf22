/*

Valuation engine. Total value is pull-based: re-derived on every read by
summing per-asset caches, never maintained incrementally, so asset-level
updates and the aggregate cannot drift. The staleness assertion is the
primary defense against reusing value from a stale cycle.

*/

package vault

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/utils"
)

// TotalUSDValue asserts every cached value was refreshed within the staleness
// window, then sums them.
func (v *Vault) TotalUSDValue(now time.Time) (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalUSDValue(now)
}

// totalUSDValue is the lock-held implementation.
func (v *Vault) totalUSDValue(now time.Time) (sdkmath.LegacyDec, error) {
	total := sdkmath.LegacyZeroDec()
	for _, entry := range v.assets {
		if now.Sub(entry.lastUpdate) > v.maxStaleness {
			return sdkmath.LegacyDec{}, errorsmod.Wrapf(ErrStaleValuation,
				"key %s last updated %s, window %s", entry.key,
				entry.lastUpdate.Format(time.RFC3339), v.maxStaleness)
		}
		total = total.Add(entry.usdValue)
	}
	return total, nil
}

// sumCached sums the caches without any staleness assertion. Used for
// snapshots and last-known-value paths only, never for share pricing.
func (v *Vault) sumCached() sdkmath.LegacyDec {
	total := sdkmath.LegacyZeroDec()
	for _, entry := range v.assets {
		total = total.Add(entry.usdValue)
	}
	return total
}

// ShareRatio returns USD per whole share: the bootstrap ratio 1.0 while no
// shares exist, total value over share supply otherwise.
func (v *Vault) ShareRatio(now time.Time) (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shareRatio(now)
}

// shareRatio is the lock-held implementation.
func (v *Vault) shareRatio(now time.Time) (sdkmath.LegacyDec, error) {
	if v.totalShares.IsZero() {
		return sdkmath.LegacyOneDec(), nil
	}
	total, err := v.totalUSDValue(now)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	// Shares are stored in base units at principal precision; the ratio is
	// quoted per whole share.
	factor, err := utils.Pow10Dec(v.principalDecimals)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return total.Mul(factor).Quo(sdkmath.LegacyNewDecFromInt(v.totalShares)), nil
}
