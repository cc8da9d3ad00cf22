package engine_test

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/cvm/internal/adaptors"
	"github.com/custodia-labs/cvm/internal/engine"
	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/vault"
)

type recorder struct {
	events []types.Event
}

func (r *recorder) Emit(ev types.Event) { r.events = append(r.events, ev) }

func (r *recorder) count(typ types.EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// stubAdaptor values every handle at a fixed USD amount.
type stubAdaptor struct {
	id    string
	value sdkmath.LegacyDec
}

func (a *stubAdaptor) ID() string { return a.id }

func (a *stubAdaptor) Value(_ context.Context, _ types.ExternalHandle, now time.Time) (sdkmath.LegacyDec, time.Time, error) {
	return a.value, now, nil
}

func newEngineFixture(t *testing.T, constructedAt time.Time, maxOpDuration time.Duration) (*engine.Engine, *vault.Vault, vault.AdminCredential, vault.OperatorCredential, *recorder) {
	t.Helper()

	sink := &recorder{}
	source := pricing.NewStatic(map[string]sdkmath.LegacyDec{
		"USDC": sdkmath.LegacyOneDec(),
	})

	v, admin, err := vault.NewVault(vault.Config{
		VaultID:           1,
		AdminHolder:       "admin",
		PrincipalSymbol:   "USDC",
		PrincipalDecimals: 6,
		LossToleranceBps:  10,
		MaxValueStaleness: 4 * time.Hour,
		PriceSource:       source,
		EventSink:         sink,
	}, constructedAt)
	require.NoError(t, err)

	operator, err := v.GrantOperator(admin, "engine-op")
	require.NoError(t, err)

	registry := adaptors.NewRegistry()
	require.NoError(t, registry.Register(&stubAdaptor{id: "stub", value: sdkmath.LegacyNewDec(42)}))

	eng, err := engine.New(engine.Config{
		Vault:                v,
		Admin:                admin,
		Operator:             operator,
		Adaptors:             registry,
		MaxOperationDuration: maxOpDuration,
	})
	require.NoError(t, err)

	return eng, v, admin, operator, sink
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := engine.New(engine.Config{})
	require.Error(t, err)
}

func TestCycleRefreshesExternalPositions(t *testing.T) {
	constructedAt := time.Now().UTC().Add(-time.Minute)
	eng, v, admin, _, _ := newEngineFixture(t, constructedAt, time.Hour)

	key := types.AssetKey("pos/alpha")
	require.NoError(t, v.RegisterAsset(admin, key, types.ExternalHandle{AdaptorID: "stub", PositionRef: "ref-1"}, constructedAt))

	eng.RunCycle(context.Background())

	snapshot := v.Snapshot(time.Now().UTC())
	for _, asset := range snapshot.Assets {
		if asset.Key == key {
			require.True(t, asset.USDValue.Equal(sdkmath.LegacyNewDec(42)))
			return
		}
	}
	t.Fatalf("position %s missing from snapshot", key)
}

func TestWatchdogForceAbortsExpiredOperation(t *testing.T) {
	constructedAt := time.Now().UTC().Add(-3 * time.Hour)
	eng, v, admin, operator, sink := newEngineFixture(t, constructedAt, time.Hour)

	key := types.AssetKey("pos/alpha")
	require.NoError(t, v.RegisterAsset(admin, key, types.ExternalHandle{AdaptorID: "stub", PositionRef: "ref-1"}, constructedAt))

	// Operation opened two hours ago against a one hour limit.
	_, err := v.StartOperation(operator, []types.AssetKey{key}, constructedAt.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, types.StatusInOperation, v.Status())

	eng.RunCycle(context.Background())

	require.Equal(t, types.StatusNormal, v.Status())
	_, active := v.Operation()
	require.False(t, active)
	require.Equal(t, 1, sink.count(types.EventOperationAborted))
}

func TestCycleSkipsRefreshWhileOperationActive(t *testing.T) {
	constructedAt := time.Now().UTC().Add(-time.Minute)
	eng, v, admin, operator, sink := newEngineFixture(t, constructedAt, 0) // watchdog disabled

	key := types.AssetKey("pos/alpha")
	require.NoError(t, v.RegisterAsset(admin, key, types.ExternalHandle{AdaptorID: "stub", PositionRef: "ref-1"}, constructedAt))

	_, err := v.StartOperation(operator, []types.AssetKey{key}, time.Now().UTC())
	require.NoError(t, err)

	before := sink.count(types.EventAssetValueUpdated)
	eng.RunCycle(context.Background())

	require.Equal(t, types.StatusInOperation, v.Status())
	require.Equal(t, before, sink.count(types.EventAssetValueUpdated))
}
