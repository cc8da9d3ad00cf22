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

func TestOperationLifecycleHappyPath(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")

	f.deposit(t, "alice", 1000, f.now)
	handle := f.registerPosition(t, key, f.now)

	borrowed, err := f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, borrowed, 1)
	require.Equal(t, key, borrowed[0].Key)
	require.NotNil(t, borrowed[0].Handle)
	require.Equal(t, types.StatusInOperation, f.v.Status())

	op, active := f.v.Operation()
	require.True(t, active)
	require.Equal(t, "op-1", op.Operator)
	require.False(t, op.GateOpen)
	require.True(t, op.BaselineUSD.Equal(dec(t, "0.001")))

	// Reconciliation gate is closed until the assets come back.
	err = f.v.Reconcile(f.operator, sdkmath.Int{}, f.now.Add(6*time.Minute))
	require.ErrorIs(t, err, vault.ErrInvalidState)

	returns := []types.ReturnedAsset{{Key: key, Handle: &handle}}
	require.NoError(t, f.v.EndOperation(f.operator, returns, f.now.Add(10*time.Minute)))

	// Ended but not yet revalued: reconcile must refuse, vault stays put.
	err = f.v.Reconcile(f.operator, sdkmath.Int{}, f.now.Add(11*time.Minute))
	require.ErrorIs(t, err, vault.ErrValueNotUpdated)
	require.Equal(t, types.StatusInOperation, f.v.Status())

	require.NoError(t, f.v.UpdateValue(f.operator, key, sdkmath.LegacyZeroDec(), f.now.Add(12*time.Minute)))
	require.NoError(t, f.v.Reconcile(f.operator, f.v.TotalShares(), f.now.Add(15*time.Minute)))

	require.Equal(t, types.StatusNormal, f.v.Status())
	_, active = f.v.Operation()
	require.False(t, active)

	require.Equal(t, 1, f.sink.count(types.EventOperationStarted))
	require.Equal(t, 1, f.sink.count(types.EventOperationEnded))
	require.Equal(t, 1, f.sink.count(types.EventOperationReconciled))
	require.Equal(t, 0, f.sink.count(types.EventLossRecorded))
}

func TestStartOperationValidation(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	f.registerPosition(t, key, f.now)

	_, err := f.v.StartOperation(vault.OperatorCredential{}, []types.AssetKey{key}, f.now)
	require.ErrorIs(t, err, vault.ErrUnauthorized)

	_, err = f.v.StartOperation(f.operator, nil, f.now)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)

	_, err = f.v.StartOperation(f.operator, []types.AssetKey{key, key}, f.now)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)

	_, err = f.v.StartOperation(f.operator, []types.AssetKey{"pos/unknown"}, f.now)
	require.ErrorIs(t, err, vault.ErrAssetNotFound)

	_, err = f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now)
	require.NoError(t, err)

	// Only one operation at a time.
	_, err = f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now)
	require.ErrorIs(t, err, vault.ErrInvalidState)
}

func TestStartOperationStaleValuation(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	f.registerPosition(t, key, f.now)

	// Registered long ago; the baseline snapshot refuses stale caches.
	_, err := f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now.Add(2*time.Hour))
	require.ErrorIs(t, err, vault.ErrStaleValuation)
	require.Equal(t, types.StatusNormal, f.v.Status())
}

func TestEndOperationPartialReturn(t *testing.T) {
	f := newFixture(t, 10, 0)
	alpha := types.AssetKey("pos/alpha")
	beta := types.AssetKey("pos/beta")
	alphaHandle := f.registerPosition(t, alpha, f.now)
	betaHandle := f.registerPosition(t, beta, f.now)

	_, err := f.v.StartOperation(f.operator, []types.AssetKey{alpha, beta}, f.now)
	require.NoError(t, err)

	// Returning only one of two is rejected wholesale.
	err = f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: alpha, Handle: &alphaHandle}}, f.now)
	require.ErrorIs(t, err, vault.ErrPartialReturn)

	op, _ := f.v.Operation()
	require.False(t, op.GateOpen)

	err = f.v.EndOperation(f.operator, []types.ReturnedAsset{
		{Key: alpha, Handle: &alphaHandle},
		{Key: beta, Handle: &betaHandle},
	}, f.now)
	require.NoError(t, err)

	op, _ = f.v.Operation()
	require.True(t, op.GateOpen)
}

func TestEndOperationValidatesReturnSet(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)

	_, err := f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now)
	require.NoError(t, err)

	err = f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: "pos/unknown", Handle: &handle}}, f.now)
	require.ErrorIs(t, err, vault.ErrAssetNotFound)

	err = f.v.EndOperation(f.operator, []types.ReturnedAsset{
		{Key: key, Handle: &handle},
		{Key: key, Handle: &handle},
	}, f.now)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)

	err = f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: key, Handle: nil}}, f.now)
	require.ErrorIs(t, err, vault.ErrInvalidAmount)

	require.NoError(t, f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: key, Handle: &handle}}, f.now))
	require.ErrorIs(t,
		f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: key, Handle: &handle}}, f.now),
		vault.ErrInvalidState)
}

func TestReconcileRejectsStaleBorrowedValue(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)
	f.deposit(t, "alice", 1000, f.now)

	_, err := f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: key, Handle: &handle}}, f.now.Add(2*time.Minute)))
	require.NoError(t, f.v.UpdateValue(f.operator, key, sdkmath.LegacyZeroDec(), f.now.Add(3*time.Minute)))

	// The principal cache ages out before reconciliation.
	err = f.v.Reconcile(f.operator, sdkmath.Int{}, f.now.Add(2*time.Hour))
	require.ErrorIs(t, err, vault.ErrStaleValuation)
	require.Equal(t, types.StatusInOperation, f.v.Status())
}

func TestSharesFrozenDuringOperation(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)
	f.deposit(t, "alice", 1000, f.now)

	depositID, err := f.v.RequestDeposit("bob", sdkmath.NewInt(500), sdkmath.ZeroInt(), f.now)
	require.NoError(t, err)

	_, err = f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now.Add(time.Minute))
	require.NoError(t, err)

	_, err = f.v.RequestDeposit("carol", sdkmath.NewInt(100), sdkmath.ZeroInt(), f.now.Add(2*time.Minute))
	require.ErrorIs(t, err, vault.ErrInvalidState)

	_, err = f.v.ExecuteDeposit(context.Background(), depositID, sdkmath.Int{}, f.now.Add(2*time.Minute))
	require.ErrorIs(t, err, vault.ErrInvalidState)

	_, err = f.v.RequestWithdraw("alice", sdkmath.NewInt(100), sdkmath.ZeroInt(), f.now.Add(2*time.Minute))
	require.ErrorIs(t, err, vault.ErrInvalidState)

	// In-flight requests cannot even be cancelled mid-operation.
	_, err = f.v.CancelDeposit("bob", depositID, f.now.Add(2*time.Minute))
	require.ErrorIs(t, err, vault.ErrInvalidState)

	require.NoError(t, f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: key, Handle: &handle}}, f.now.Add(3*time.Minute)))
	require.NoError(t, f.v.UpdateValue(f.operator, key, sdkmath.LegacyZeroDec(), f.now.Add(4*time.Minute)))
	require.NoError(t, f.v.Reconcile(f.operator, sdkmath.Int{}, f.now.Add(5*time.Minute)))

	_, err = f.v.CancelDeposit("bob", depositID, f.now.Add(6*time.Minute))
	require.NoError(t, err)
}

func TestReconcileExpectedSharesMismatch(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)
	shares := f.deposit(t, "alice", 1000, f.now)

	_, err := f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: key, Handle: &handle}}, f.now.Add(2*time.Minute)))
	require.NoError(t, f.v.UpdateValue(f.operator, key, sdkmath.LegacyZeroDec(), f.now.Add(3*time.Minute)))

	err = f.v.Reconcile(f.operator, shares.AddRaw(1), f.now.Add(4*time.Minute))
	require.ErrorIs(t, err, vault.ErrInvalidState)
	require.Equal(t, types.StatusInOperation, f.v.Status())

	require.NoError(t, f.v.Reconcile(f.operator, shares, f.now.Add(5*time.Minute)))
	require.Equal(t, types.StatusNormal, f.v.Status())
}

func TestForceAbortOperation(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	f.registerPosition(t, key, f.now)

	require.ErrorIs(t, f.v.ForceAbortOperation(f.admin, f.now), vault.ErrInvalidState)

	_, err := f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now)
	require.NoError(t, err)

	require.ErrorIs(t, f.v.ForceAbortOperation(vault.AdminCredential{}, f.now), vault.ErrUnauthorized)

	require.NoError(t, f.v.ForceAbortOperation(f.admin, f.now.Add(time.Minute)))
	require.Equal(t, types.StatusNormal, f.v.Status())
	_, active := f.v.Operation()
	require.False(t, active)

	// Never-returned assets are flagged in the audit event.
	ev, ok := f.sink.last(types.EventOperationAborted)
	require.True(t, ok)
	require.Equal(t, []types.AssetKey{key}, ev.Outstanding)
	require.Equal(t, "admin", ev.Actor)

	// The entry is usable again after the abort.
	require.NoError(t, f.v.UpdateValue(f.operator, key, sdkmath.LegacyZeroDec(), f.now.Add(2*time.Minute)))
}

func TestForceAbortAfterReturnHasNoOutstanding(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)

	_, err := f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now)
	require.NoError(t, err)
	require.NoError(t, f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: key, Handle: &handle}}, f.now))

	require.NoError(t, f.v.ForceAbortOperation(f.admin, f.now.Add(time.Minute)))

	ev, ok := f.sink.last(types.EventOperationAborted)
	require.True(t, ok)
	require.Empty(t, ev.Outstanding)
}

func TestOperationOwnershipSurvivesRevocation(t *testing.T) {
	f := newFixture(t, 10, 0)
	key := types.AssetKey("pos/alpha")
	handle := f.registerPosition(t, key, f.now)

	op2, err := f.v.GrantOperator(f.admin, "op-2")
	require.NoError(t, err)

	_, err = f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now)
	require.NoError(t, err)

	// Another operator cannot touch the operation or its valuations.
	err = f.v.EndOperation(op2, []types.ReturnedAsset{{Key: key, Handle: &handle}}, f.now)
	require.ErrorIs(t, err, vault.ErrUnauthorized)
	err = f.v.UpdateValue(op2, key, sdkmath.LegacyZeroDec(), f.now)
	require.ErrorIs(t, err, vault.ErrUnauthorized)

	// Revoking the owner does not strand the operation.
	require.NoError(t, f.v.RevokeOperator(f.admin, "op-1"))
	require.NoError(t, f.v.EndOperation(f.operator, []types.ReturnedAsset{{Key: key, Handle: &handle}}, f.now.Add(time.Minute)))
	require.NoError(t, f.v.UpdateValue(f.operator, key, sdkmath.LegacyZeroDec(), f.now.Add(2*time.Minute)))
	require.NoError(t, f.v.Reconcile(f.operator, sdkmath.Int{}, f.now.Add(3*time.Minute)))
	require.Equal(t, types.StatusNormal, f.v.Status())

	// But the revoked credential cannot start anything new.
	_, err = f.v.StartOperation(f.operator, []types.AssetKey{key}, f.now.Add(4*time.Minute))
	require.ErrorIs(t, err, vault.ErrUnauthorized)
}
