/*

Loss-tolerance tracker. Realized loss accumulates per epoch (UTC day index)
and must never exceed baseline * tolerance_bps / 10000. The tracker only ever
blocks a reconciliation; the admin remedy for a blocked epoch is
ForceCloseEpoch, which resets accumulation and flags the epoch for review.

*/

package vault

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/types"
)

type lossTracker struct {
	epochID      int64 // UTC day index
	baselineUSD  sdkmath.LegacyDec
	accumulated  sdkmath.LegacyDec
	toleranceBps uint64
}

func newLossTracker(toleranceBps uint64, now time.Time) lossTracker {
	return lossTracker{
		epochID:      epochIndex(now),
		baselineUSD:  sdkmath.LegacyZeroDec(),
		accumulated:  sdkmath.LegacyZeroDec(),
		toleranceBps: toleranceBps,
	}
}

// epochIndex is the monotonic epoch counter: days since the Unix epoch, UTC.
func epochIndex(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

// limit returns the absolute USD loss budget for the current epoch.
func (t *lossTracker) limit() sdkmath.LegacyDec {
	return t.baselineUSD.MulInt64(int64(t.toleranceBps)).QuoInt64(10000)
}

// rollIfNewEpoch resets the tracker when now falls in a later epoch than the
// one being tracked. Returns true when a roll happened. Within an epoch whose
// baseline was never set (the vault's construction day, or right after a
// force-close of an empty vault), the first call seeds the baseline instead,
// so the budget is never stuck at zero.
func (t *lossTracker) rollIfNewEpoch(baseline sdkmath.LegacyDec, now time.Time) bool {
	idx := epochIndex(now)
	if idx == t.epochID {
		if t.baselineUSD.IsZero() {
			t.baselineUSD = baseline
		}
		return false
	}
	t.epochID = idx
	t.baselineUSD = baseline
	t.accumulated = sdkmath.LegacyZeroDec()
	return true
}

// record adds a realized loss and enforces the epoch budget. The tracker is
// not mutated when the budget would be exceeded.
func (t *lossTracker) record(amount sdkmath.LegacyDec) error {
	next := t.accumulated.Add(amount)
	if next.GT(t.limit()) {
		return errorsmod.Wrapf(ErrLossLimitExceeded,
			"loss %s would bring epoch %d to %s, budget %s",
			amount.String(), t.epochID, next.String(), t.limit().String())
	}
	t.accumulated = next
	return nil
}

// LossState is the read-side view of the tracker.
type LossState struct {
	EpochID      int64             `json:"epoch_id"`
	BaselineUSD  sdkmath.LegacyDec `json:"baseline_usd"`
	Accumulated  sdkmath.LegacyDec `json:"accumulated"`
	ToleranceBps uint64            `json:"tolerance_bps"`
	LimitUSD     sdkmath.LegacyDec `json:"limit_usd"`
}

// LossTrackerState returns the current epoch loss accounting.
func (v *Vault) LossTrackerState() LossState {
	v.mu.Lock()
	defer v.mu.Unlock()

	return LossState{
		EpochID:      v.tracker.epochID,
		BaselineUSD:  v.tracker.baselineUSD,
		Accumulated:  v.tracker.accumulated,
		ToleranceBps: v.tracker.toleranceBps,
		LimitUSD:     v.tracker.limit(),
	}
}

// ForceCloseEpoch closes the current epoch under admin authority: the
// accumulated loss is flagged for review and zeroed, and the baseline resets
// to the vault's last-known value. This is the bounded escape hatch for a
// reconciliation stuck on the loss budget.
func (v *Vault) ForceCloseEpoch(admin AdminCredential, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyAdmin(admin); err != nil {
		return err
	}

	closed := v.tracker
	v.tracker.epochID = epochIndex(now)
	v.tracker.baselineUSD = v.sumCached()
	v.tracker.accumulated = sdkmath.LegacyZeroDec()

	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventEpochForceClosed,
		Timestamp: now,
		Actor:     admin.holder,
		USDValue:  closed.accumulated,
		Epoch: &types.EpochRecord{
			EpochID:         closed.epochID,
			VaultID:         v.id,
			BaselineUSD:     closed.baselineUSD.String(),
			AccumulatedLoss: closed.accumulated.String(),
			ToleranceBps:    closed.toleranceBps,
			ForceClosed:     true,
			ClosedAt:        now,
		},
		Detail: "epoch force-closed by admin, accumulated loss flagged for review",
	})
	v.logger.Warn().
		Str("flaggedLossUSD", closed.accumulated.String()).
		Msg("Epoch force-closed by admin")
	return nil
}
