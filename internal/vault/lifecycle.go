/*

Operation lifecycle state machine. The three-phase protocol lets an operator
temporarily take custody of registered assets:

  StartOperation  Normal -> InOperation, baseline snapshot, assets borrowed
  EndOperation    all-or-nothing return, opens the reconciliation gate
  Reconcile       borrowed values refreshed, loss within budget, shares
                  unchanged -> Normal

A reconciliation whose preconditions fail leaves the vault InOperation. The
exits from that state are retrying after the operator completes the missing
step, or the admin-gated ForceAbortOperation, which restores Normal from
last-known values and always produces an audit event.

*/

package vault

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/types"
)

// operationRecord exists only while the vault is InOperation and never
// outlives one Normal -> InOperation -> Normal cycle.
type operationRecord struct {
	id             uint64
	operator       string
	startedAt      time.Time
	endedAt        time.Time
	baselineUSD    sdkmath.LegacyDec
	baselineShares sdkmath.Int
	borrowed       map[types.AssetKey]bool
	updated        map[types.AssetKey]bool
	gateOpen       bool
}

// OperationState is the read-side view of the active operation record.
type OperationState struct {
	ID             uint64            `json:"id"`
	Operator       string            `json:"operator"`
	StartedAt      time.Time         `json:"started_at"`
	GateOpen       bool              `json:"gate_open"`
	BaselineUSD    sdkmath.LegacyDec `json:"baseline_usd"`
	BaselineShares sdkmath.Int       `json:"baseline_shares"`
	Borrowed       []types.AssetKey  `json:"borrowed"`
	Updated        []types.AssetKey  `json:"updated"`
}

// StartOperation snapshots the vault's value and share supply as the
// operation baseline, borrows each named asset to the calling operator, and
// moves the vault to InOperation. The first operation of a new epoch resets
// the loss tracker baseline.
func (v *Vault) StartOperation(operator OperatorCredential, keys []types.AssetKey, now time.Time) ([]types.BorrowedAsset, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyOperator(operator); err != nil {
		return nil, err
	}
	if v.status != types.StatusNormal {
		return nil, errorsmod.Wrapf(ErrInvalidState, "start requires NORMAL, vault is %s", v.status)
	}
	if len(keys) == 0 {
		return nil, errorsmod.Wrap(ErrInvalidAmount, "no asset keys to borrow")
	}

	seen := make(map[types.AssetKey]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			return nil, errorsmod.Wrapf(ErrInvalidAmount, "duplicate key %s", key)
		}
		seen[key] = true
		if _, exists := v.assets[key]; !exists {
			return nil, errorsmod.Wrapf(ErrAssetNotFound, "key %s", key)
		}
	}

	total, err := v.totalUSDValue(now)
	if err != nil {
		return nil, err
	}

	closed := v.tracker
	if v.tracker.rollIfNewEpoch(total, now) {
		v.emit(types.Event{
			VaultID:   v.id,
			Type:      types.EventEpochRolled,
			Timestamp: now,
			USDValue:  total,
			Epoch: &types.EpochRecord{
				EpochID:         closed.epochID,
				VaultID:         v.id,
				BaselineUSD:     closed.baselineUSD.String(),
				AccumulatedLoss: closed.accumulated.String(),
				ToleranceBps:    closed.toleranceBps,
				ClosedAt:        now,
			},
		})
	}

	v.nextOp++
	op := &operationRecord{
		id:             v.nextOp,
		operator:       operator.holder,
		startedAt:      now,
		baselineUSD:    total,
		baselineShares: v.totalShares,
		borrowed:       make(map[types.AssetKey]bool, len(keys)),
		updated:        make(map[types.AssetKey]bool, len(keys)),
	}

	out := make([]types.BorrowedAsset, 0, len(keys))
	for _, key := range keys {
		entry := v.assets[key]
		entry.borrowed = true
		op.borrowed[key] = true
		out = append(out, borrowedPayload(entry))
	}

	v.op = op
	v.status = types.StatusInOperation

	v.emit(types.Event{
		VaultID:     v.id,
		Type:        types.EventOperationStarted,
		Timestamp:   now,
		OperationID: op.id,
		Actor:       operator.holder,
		AssetKeys:   keys,
		USDValue:    total,
		Shares:      v.totalShares,
	})
	v.logger.Info().
		Uint64("operationId", op.id).
		Str("operator", operator.holder).
		Int("borrowed", len(keys)).
		Str("baselineUSD", total.String()).
		Msg("Operation started")

	return out, nil
}

// EndOperation takes the assets back. The return set must cover every
// borrowed key, all-or-nothing; on success the reconciliation gate opens.
// The vault stays InOperation and returned values are NOT refreshed here;
// the operator must still call UpdateValue per borrowed key.
func (v *Vault) EndOperation(operator OperatorCredential, returns []types.ReturnedAsset, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusInOperation || v.op == nil {
		return errorsmod.Wrapf(ErrInvalidState, "end requires IN_OPERATION, vault is %s", v.status)
	}
	if err := v.verifyOperationOwner(operator); err != nil {
		return err
	}
	if v.op.gateOpen {
		return errorsmod.Wrap(ErrInvalidState, "operation already ended")
	}

	// Validate the full return set before touching any entry.
	byKey := make(map[types.AssetKey]types.ReturnedAsset, len(returns))
	for _, ret := range returns {
		if !v.op.borrowed[ret.Key] {
			return errorsmod.Wrapf(ErrAssetNotFound, "key %s was not borrowed by operation %d", ret.Key, v.op.id)
		}
		if _, dup := byKey[ret.Key]; dup {
			return errorsmod.Wrapf(ErrInvalidAmount, "duplicate return for key %s", ret.Key)
		}
		entry := v.assets[ret.Key]
		switch entry.kind {
		case types.AssetKindBalance:
			if ret.Balance.IsNil() || ret.Balance.IsNegative() {
				return errorsmod.Wrapf(ErrInvalidAmount, "returned balance for %s is invalid", ret.Key)
			}
		case types.AssetKindExternal:
			if ret.Handle == nil {
				return errorsmod.Wrapf(ErrInvalidAmount, "returned handle for %s is nil", ret.Key)
			}
		}
		byKey[ret.Key] = ret
	}
	for key := range v.op.borrowed {
		if _, ok := byKey[key]; !ok {
			return errorsmod.Wrapf(ErrPartialReturn, "key %s was not returned", key)
		}
	}

	for key, ret := range byKey {
		entry := v.assets[key]
		switch entry.kind {
		case types.AssetKindBalance:
			entry.balance = ret.Balance
		case types.AssetKindExternal:
			handleCopy := *ret.Handle
			entry.handle = &handleCopy
		}
		entry.borrowed = false
	}

	v.op.gateOpen = true
	v.op.endedAt = now

	v.emit(types.Event{
		VaultID:     v.id,
		Type:        types.EventOperationEnded,
		Timestamp:   now,
		OperationID: v.op.id,
		Actor:       operator.holder,
		AssetKeys:   borrowedKeys(v.op),
	})
	v.logger.Info().
		Uint64("operationId", v.op.id).
		Int("returned", len(byKey)).
		Msg("Operation ended, reconciliation gate open")

	return nil
}

// Reconcile commits the operation. Preconditions: gate open, every borrowed
// key's value updated within this operation, recomputed value within the
// epoch loss budget, share supply untouched. On success the vault returns to
// Normal and the operation record is cleared; on failure it stays
// InOperation with the record intact.
func (v *Vault) Reconcile(operator OperatorCredential, expectedTotalShares sdkmath.Int, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusInOperation || v.op == nil {
		return errorsmod.Wrapf(ErrInvalidState, "reconcile requires IN_OPERATION, vault is %s", v.status)
	}
	if err := v.verifyOperationOwner(operator); err != nil {
		return err
	}
	if !v.op.gateOpen {
		return errorsmod.Wrap(ErrInvalidState, "operation has not ended, reconciliation gate is closed")
	}

	for key := range v.op.borrowed {
		if !v.op.updated[key] {
			return errorsmod.Wrapf(ErrValueNotUpdated, "key %s", key)
		}
		// Strictest staleness: borrowed values must come from this cycle.
		if entry := v.assets[key]; entry.lastUpdate.Before(v.op.startedAt) {
			return errorsmod.Wrapf(ErrStaleValuation,
				"key %s was last valued before the operation started", key)
		}
	}

	total, err := v.totalUSDValue(now)
	if err != nil {
		return err
	}

	if !v.totalShares.Equal(v.op.baselineShares) {
		return errorsmod.Wrapf(ErrInvalidState,
			"share supply changed during operation: baseline %s, now %s",
			v.op.baselineShares.String(), v.totalShares.String())
	}
	if !expectedTotalShares.IsNil() && !expectedTotalShares.Equal(v.totalShares) {
		return errorsmod.Wrapf(ErrInvalidState,
			"caller expected %s total shares, vault has %s",
			expectedTotalShares.String(), v.totalShares.String())
	}

	// Every precondition has passed; the loss commit is the only remaining
	// mutation, so a failed reconcile never leaves anything accrued.
	loss := sdkmath.LegacyZeroDec()
	if total.LT(v.op.baselineUSD) {
		loss = v.op.baselineUSD.Sub(total)
		if err := v.tracker.record(loss); err != nil {
			return err
		}
		v.emit(types.Event{
			VaultID:     v.id,
			Type:        types.EventLossRecorded,
			Timestamp:   now,
			OperationID: v.op.id,
			USDValue:    loss,
		})
	}

	opID := v.op.id
	v.op = nil
	v.status = types.StatusNormal

	v.emit(types.Event{
		VaultID:     v.id,
		Type:        types.EventOperationReconciled,
		Timestamp:   now,
		OperationID: opID,
		Actor:       operator.holder,
		USDValue:    total,
		Shares:      v.totalShares,
	})
	v.logger.Info().
		Uint64("operationId", opID).
		Str("finalUSD", total.String()).
		Str("lossUSD", loss.String()).
		Msg("Operation reconciled")

	return nil
}

// ForceAbortOperation is the admin-gated exit from a stuck operation. The
// vault returns to Normal on its last-known cached values and the record is
// cleared. Assets that were never returned stay flagged in the emitted audit
// event; their custody must be recovered out of band.
func (v *Vault) ForceAbortOperation(admin AdminCredential, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyAdmin(admin); err != nil {
		return err
	}
	if v.status != types.StatusInOperation || v.op == nil {
		return errorsmod.Wrapf(ErrInvalidState, "abort requires IN_OPERATION, vault is %s", v.status)
	}

	outstanding := make([]types.AssetKey, 0)
	for key := range v.op.borrowed {
		if entry := v.assets[key]; entry.borrowed {
			entry.borrowed = false
			outstanding = append(outstanding, key)
		}
	}

	opID := v.op.id
	operatorHolder := v.op.operator
	keys := borrowedKeys(v.op)
	v.op = nil
	v.status = types.StatusNormal

	detail := "operation force-aborted by admin, vault restored on last-known values"
	if len(outstanding) > 0 {
		detail += "; unreturned assets require out-of-band recovery"
	}
	v.emit(types.Event{
		VaultID:     v.id,
		Type:        types.EventOperationAborted,
		Timestamp:   now,
		OperationID: opID,
		Actor:       admin.holder,
		AssetKeys:   keys,
		Outstanding: outstanding,
		USDValue:    v.sumCached(),
		Detail:      detail,
	})
	v.logger.Warn().
		Uint64("operationId", opID).
		Str("operator", operatorHolder).
		Int("unreturned", len(outstanding)).
		Msg("Operation force-aborted")

	return nil
}

// Operation returns the active operation state, or false when Normal/Disabled.
func (v *Vault) Operation() (OperationState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.op == nil {
		return OperationState{}, false
	}
	updated := make([]types.AssetKey, 0, len(v.op.updated))
	for key := range v.op.updated {
		updated = append(updated, key)
	}
	return OperationState{
		ID:             v.op.id,
		Operator:       v.op.operator,
		StartedAt:      v.op.startedAt,
		GateOpen:       v.op.gateOpen,
		BaselineUSD:    v.op.baselineUSD,
		BaselineShares: v.op.baselineShares,
		Borrowed:       borrowedKeys(v.op),
		Updated:        updated,
	}, true
}

func borrowedKeys(op *operationRecord) []types.AssetKey {
	keys := make([]types.AssetKey, 0, len(op.borrowed))
	for key := range op.borrowed {
		keys = append(keys, key)
	}
	return keys
}
