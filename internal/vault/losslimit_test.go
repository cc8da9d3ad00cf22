package vault_test

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/vault"
)

// runOperation runs one full borrow-return-revalue-reconcile cycle that marks
// the position at newValue, returning the reconcile error.
func runOperation(f *fixture, key types.AssetKey, handle types.ExternalHandle, newValue sdkmath.LegacyDec, at time.Time) error {
	if _, err := f.v.StartOperation(f.operator, []types.AssetKey{key}, at); err != nil {
		return err
	}
	if err := f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: key, Handle: &handle}}, at.Add(time.Minute)); err != nil {
		return err
	}
	if err := f.v.UpdateValue(f.operator, key, newValue, at.Add(2*time.Minute)); err != nil {
		return err
	}
	return f.v.Reconcile(f.operator, sdkmath.Int{}, at.Add(3*time.Minute))
}

func TestEpochLossBudget(t *testing.T) {
	f := newFixture(t, 10, 0) // 10 bps tolerance
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)

	// 99,000 USD of principal plus a 1,000 USD position: 100,000 baseline,
	// so the epoch budget is 100 USD.
	f.deposit(t, "alice", 99_000_000_000, f.now)
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "1000"), f.now))

	day2 := f.now.Add(24 * time.Hour)
	require.NoError(t, f.v.RefreshPrincipalValue(context.Background(), f.operator, day2))
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "1000"), day2))

	// First operation of the new epoch rolls the tracker.
	require.NoError(t, runOperation(f, key, handle, dec(t, "950"), day2))

	require.Equal(t, 1, f.sink.count(types.EventEpochRolled))
	loss := f.v.LossTrackerState()
	require.True(t, loss.BaselineUSD.Equal(dec(t, "100000")))
	require.True(t, loss.LimitUSD.Equal(dec(t, "100")))
	require.True(t, loss.Accumulated.Equal(dec(t, "50")))
	require.Equal(t, 1, f.sink.count(types.EventLossRecorded))

	// A further 60 USD loss would bring the epoch to 110: blocked, and the
	// vault is stuck InOperation with the accumulator untouched.
	err := runOperation(f, key, handle, dec(t, "890"), day2.Add(10*time.Minute))
	require.ErrorIs(t, err, vault.ErrLossLimitExceeded)
	require.Equal(t, types.StatusInOperation, f.v.Status())
	require.True(t, f.v.LossTrackerState().Accumulated.Equal(dec(t, "50")))

	// Admin force-closes the epoch; the flagged loss is surfaced and the
	// accumulator resets against the current value.
	require.NoError(t, f.v.ForceCloseEpoch(f.admin, day2.Add(20*time.Minute)))
	ev, ok := f.sink.last(types.EventEpochForceClosed)
	require.True(t, ok)
	require.NotNil(t, ev.Epoch)
	require.True(t, ev.Epoch.ForceClosed)
	require.Equal(t, "50.000000000000000000", ev.Epoch.AccumulatedLoss)
	require.True(t, f.v.LossTrackerState().Accumulated.IsZero())

	// The stuck reconciliation now fits the fresh budget.
	require.NoError(t, f.v.Reconcile(f.operator, sdkmath.Int{}, day2.Add(25*time.Minute)))
	require.Equal(t, types.StatusNormal, f.v.Status())
	require.True(t, f.v.LossTrackerState().Accumulated.Equal(dec(t, "60")))
}

func TestConstructionDayBudgetUsesFirstOperationBaseline(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)

	f.deposit(t, "alice", 99_000_000_000, f.now)
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "1000"), f.now))

	// No epoch has rolled yet; the first operation of the construction-day
	// epoch seeds the baseline, so a within-budget loss reconciles.
	require.NoError(t, runOperation(f, key, handle, dec(t, "950"), f.now))

	require.Equal(t, 0, f.sink.count(types.EventEpochRolled))
	loss := f.v.LossTrackerState()
	require.True(t, loss.BaselineUSD.Equal(dec(t, "100000")))
	require.True(t, loss.LimitUSD.Equal(dec(t, "100")))
	require.True(t, loss.Accumulated.Equal(dec(t, "50")))
}

func TestFailedReconcileDoesNotCommitLoss(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)

	f.deposit(t, "alice", 99_000_000_000, f.now)
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "1000"), f.now))

	// 60 USD loss, well inside the 100 USD budget, but the caller's share
	// expectation is wrong.
	_, err := f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now)
	require.NoError(t, err)
	require.NoError(t, f.v.EndOperation(f.operator,
		[]types.ReturnedAsset{{Key: key, Handle: &handle}}, f.now.Add(time.Minute)))
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "940"), f.now.Add(2*time.Minute)))

	shares := f.v.TotalShares()
	err = f.v.Reconcile(f.operator, shares.AddRaw(1), f.now.Add(3*time.Minute))
	require.ErrorIs(t, err, vault.ErrInvalidState)

	// The rejected reconcile accrued nothing.
	require.True(t, f.v.LossTrackerState().Accumulated.IsZero())
	require.Equal(t, 0, f.sink.count(types.EventLossRecorded))

	// The corrected retry commits the loss exactly once.
	require.NoError(t, f.v.Reconcile(f.operator, shares, f.now.Add(4*time.Minute)))
	require.True(t, f.v.LossTrackerState().Accumulated.Equal(dec(t, "60")))
	require.Equal(t, 1, f.sink.count(types.EventLossRecorded))
}

func TestReconcileUnchangedValueRecordsNoLoss(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "1000"), f.now))

	require.NoError(t, runOperation(f, key, handle, dec(t, "1000"), f.now.Add(time.Minute)))

	require.Equal(t, 0, f.sink.count(types.EventLossRecorded))
	require.True(t, f.v.LossTrackerState().Accumulated.IsZero())
}

func TestGainsDoNotOffsetTheBudget(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "1000"), f.now))

	day2 := f.now.Add(24 * time.Hour)
	require.NoError(t, f.v.RefreshPrincipalValue(context.Background(), f.operator, day2))
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "1000"), day2))

	// A gain reconciles fine and leaves the accumulator at zero.
	require.NoError(t, runOperation(f, key, handle, dec(t, "1500"), day2))
	require.True(t, f.v.LossTrackerState().Accumulated.IsZero())
	require.Equal(t, 0, f.sink.count(types.EventLossRecorded))
}

func TestEpochRollResetsAccumulation(t *testing.T) {
	f := newFixture(t, 100, 0) // 1% tolerance
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "1000"), f.now))

	day2 := f.now.Add(24 * time.Hour)
	require.NoError(t, f.v.RefreshPrincipalValue(context.Background(), f.operator, day2))
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "1000"), day2))
	require.NoError(t, runOperation(f, key, handle, dec(t, "995"), day2))
	require.True(t, f.v.LossTrackerState().Accumulated.Equal(dec(t, "5")))

	day3 := day2.Add(24 * time.Hour)
	require.NoError(t, f.v.RefreshPrincipalValue(context.Background(), f.operator, day3))
	require.NoError(t, f.v.UpdateValue(f.operator, key, dec(t, "995"), day3))
	require.NoError(t, runOperation(f, key, handle, dec(t, "990"), day3))

	// The day-2 accumulation closed out with the roll.
	ev, ok := f.sink.last(types.EventEpochRolled)
	require.True(t, ok)
	require.NotNil(t, ev.Epoch)
	require.Equal(t, "5.000000000000000000", ev.Epoch.AccumulatedLoss)
	require.False(t, ev.Epoch.ForceClosed)

	loss := f.v.LossTrackerState()
	require.True(t, loss.Accumulated.Equal(dec(t, "5")))
	require.True(t, loss.BaselineUSD.Equal(dec(t, "995")))
}

func TestForceCloseEpochRequiresAdmin(t *testing.T) {
	f := newFixture(t, 10, 0)
	require.ErrorIs(t, f.v.ForceCloseEpoch(vault.AdminCredential{}, f.now), vault.ErrUnauthorized)
}
