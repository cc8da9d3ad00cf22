/*

Share/request ledger. Deposits and withdrawals are two-phase: a request
buffers the user's principal or shares while the vault is Normal, and a
separate execution prices it against the valuation engine. Execution captures
the share ratio before merging funds, so a request can never price itself.
Requests freeze while an operation is active and become cancellable again
once the vault leaves InOperation.

*/

package vault

import (
	"context"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/utils"
)

// RequestDeposit buffers principal for later execution. Normal status only.
func (v *Vault) RequestDeposit(requester string, amount, expectedShares sdkmath.Int, now time.Time) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusNormal {
		return 0, errorsmod.Wrapf(ErrInvalidState, "deposits require NORMAL, vault is %s", v.status)
	}
	if requester == "" {
		return 0, errorsmod.Wrap(ErrInvalidAmount, "requester cannot be empty")
	}
	if amount.IsNil() || !amount.IsPositive() {
		return 0, errorsmod.Wrap(ErrInvalidAmount, "deposit amount must be positive")
	}
	if expectedShares.IsNil() || expectedShares.IsNegative() {
		return 0, errorsmod.Wrap(ErrInvalidAmount, "expected shares must be non-negative")
	}

	v.nextRequest++
	req := &types.DepositRequest{
		ID:             v.nextRequest,
		Requester:      requester,
		Amount:         amount,
		ExpectedShares: expectedShares,
		CreatedAt:      now,
	}
	v.deposits[req.ID] = req

	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventDepositRequested,
		Timestamp: now,
		Actor:     requester,
		Amount:    amount,
	})
	return req.ID, nil
}

// ExecuteDeposit merges the buffered principal into the vault and mints
// shares at the pre-merge ratio. Minted shares must land inside
// [expectedShares, maxShares].
func (v *Vault) ExecuteDeposit(ctx context.Context, id uint64, maxShares sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusNormal {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrInvalidState, "deposits require NORMAL, vault is %s", v.status)
	}
	req, ok := v.deposits[id]
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrRequestNotFound, "deposit %d", id)
	}

	ratioBefore, err := v.shareRatio(now)
	if err != nil {
		return sdkmath.Int{}, err
	}

	price, err := v.freshPrincipalPrice(ctx, now)
	if err != nil {
		return sdkmath.Int{}, err
	}

	valueAdded, err := pricing.Normalize(req.Amount, v.principalDecimals, price)
	if err != nil {
		return sdkmath.Int{}, errorsmod.Wrap(ErrInvalidAmount, err.Error())
	}

	minted, err := utils.DecToAmountFloor(valueAdded.Quo(ratioBefore), v.principalDecimals)
	if err != nil {
		return sdkmath.Int{}, errorsmod.Wrap(ErrInvalidAmount, err.Error())
	}

	if minted.LT(req.ExpectedShares) {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrSlippageViolated,
			"minted %s below expected %s", minted.String(), req.ExpectedShares.String())
	}
	if !maxShares.IsNil() && minted.GT(maxShares) {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrSlippageViolated,
			"minted %s above cap %s", minted.String(), maxShares.String())
	}

	// Commit: merge principal, revalue its entry at the same quote, mint.
	entry := v.assets[v.principalKey]
	entry.balance = entry.balance.Add(req.Amount)
	if err := v.revaluePrincipal(entry, price, now); err != nil {
		entry.balance = entry.balance.Sub(req.Amount)
		return sdkmath.Int{}, err
	}
	v.totalShares = v.totalShares.Add(minted)

	receipt := v.getOrCreateReceipt(req.Requester, now)
	receipt.Contributed = receipt.Contributed.Add(req.Amount)
	receipt.Shares = receipt.Shares.Add(minted)
	receipt.UpdatedAt = now

	delete(v.deposits, id)

	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventSharesMinted,
		Timestamp: now,
		Actor:     req.Requester,
		Amount:    req.Amount,
		Shares:    minted,
		USDValue:  valueAdded,
	})
	v.logger.Info().
		Uint64("requestId", id).
		Str("requester", req.Requester).
		Str("minted", minted.String()).
		Msg("Deposit executed")

	return minted, nil
}

// RequestWithdraw escrows shares out of the requester's receipt for later
// execution. Normal status only.
func (v *Vault) RequestWithdraw(requester string, shares, minAmount sdkmath.Int, now time.Time) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusNormal {
		return 0, errorsmod.Wrapf(ErrInvalidState, "withdrawals require NORMAL, vault is %s", v.status)
	}
	if shares.IsNil() || !shares.IsPositive() {
		return 0, errorsmod.Wrap(ErrInvalidAmount, "withdraw shares must be positive")
	}
	if minAmount.IsNil() || minAmount.IsNegative() {
		return 0, errorsmod.Wrap(ErrInvalidAmount, "min amount must be non-negative")
	}
	receipt, ok := v.receipts[requester]
	if !ok || receipt.Shares.LT(shares) {
		return 0, errorsmod.Wrapf(ErrInvalidAmount, "%s does not own %s shares", requester, shares.String())
	}

	receipt.Shares = receipt.Shares.Sub(shares)
	receipt.UpdatedAt = now

	v.nextRequest++
	req := &types.WithdrawRequest{
		ID:        v.nextRequest,
		Requester: requester,
		Shares:    shares,
		MinAmount: minAmount,
		CreatedAt: now,
	}
	v.withdrawals[req.ID] = req

	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventWithdrawRequested,
		Timestamp: now,
		Actor:     requester,
		Shares:    shares,
	})
	return req.ID, nil
}

// ExecuteWithdraw burns the escrowed shares at the current ratio and moves
// the resulting principal (net of the withdraw fee) into the requester's
// claimable bucket.
func (v *Vault) ExecuteWithdraw(ctx context.Context, id uint64, now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status != types.StatusNormal {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrInvalidState, "withdrawals require NORMAL, vault is %s", v.status)
	}
	req, ok := v.withdrawals[id]
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrRequestNotFound, "withdrawal %d", id)
	}

	ratio, err := v.shareRatio(now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	price, err := v.freshPrincipalPrice(ctx, now)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !price.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrap(ErrInvalidAmount, "principal price must be positive")
	}

	factor, err := utils.Pow10Dec(v.principalDecimals)
	if err != nil {
		return sdkmath.Int{}, errorsmod.Wrap(ErrInvalidAmount, err.Error())
	}

	// shares -> USD -> principal base units, floored.
	usd := sdkmath.LegacyNewDecFromInt(req.Shares).Quo(factor).Mul(ratio)
	gross, err := utils.DecToAmountFloor(usd.Quo(price), v.principalDecimals)
	if err != nil {
		return sdkmath.Int{}, errorsmod.Wrap(ErrInvalidAmount, err.Error())
	}

	entry := v.assets[v.principalKey]
	if gross.GT(entry.balance) {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrInvalidAmount,
			"insufficient liquid principal: need %s, have %s", gross.String(), entry.balance.String())
	}

	fee := gross.MulRaw(int64(v.withdrawFeeBps)).QuoRaw(10000)
	net := gross.Sub(fee)
	if net.LT(req.MinAmount) {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrSlippageViolated,
			"payout %s below minimum %s", net.String(), req.MinAmount.String())
	}

	// Commit: burn, move principal out of the share-backed balance.
	v.totalShares = v.totalShares.Sub(req.Shares)
	entry.balance = entry.balance.Sub(gross)
	if err := v.revaluePrincipal(entry, price, now); err != nil {
		v.totalShares = v.totalShares.Add(req.Shares)
		entry.balance = entry.balance.Add(gross)
		return sdkmath.Int{}, err
	}
	v.claimable = v.claimable.Add(net)
	v.fees = v.fees.Add(fee)

	receipt := v.getOrCreateReceipt(req.Requester, now)
	receipt.Claimable = receipt.Claimable.Add(net)
	receipt.UpdatedAt = now

	delete(v.withdrawals, id)

	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventSharesBurned,
		Timestamp: now,
		Actor:     req.Requester,
		Shares:    req.Shares,
		Amount:    net,
		USDValue:  usd,
	})
	v.logger.Info().
		Uint64("requestId", id).
		Str("requester", req.Requester).
		Str("shares", req.Shares.String()).
		Str("payout", net.String()).
		Msg("Withdrawal executed")

	return net, nil
}

// CancelDeposit returns the buffered principal to the requester. Permitted in
// any status except InOperation, where in-flight requests are frozen.
func (v *Vault) CancelDeposit(requester string, id uint64, now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status == types.StatusInOperation {
		return sdkmath.Int{}, errorsmod.Wrap(ErrInvalidState, "requests are frozen while IN_OPERATION")
	}
	req, ok := v.deposits[id]
	if !ok {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrRequestNotFound, "deposit %d", id)
	}
	if req.Requester != requester {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrUnauthorized, "deposit %d belongs to %s", id, req.Requester)
	}

	delete(v.deposits, id)
	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventRequestCancelled,
		Timestamp: now,
		Actor:     requester,
		Amount:    req.Amount,
	})
	return req.Amount, nil
}

// CancelWithdraw returns the escrowed shares to the requester's receipt.
// Permitted in any status except InOperation.
func (v *Vault) CancelWithdraw(requester string, id uint64, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status == types.StatusInOperation {
		return errorsmod.Wrap(ErrInvalidState, "requests are frozen while IN_OPERATION")
	}
	req, ok := v.withdrawals[id]
	if !ok {
		return errorsmod.Wrapf(ErrRequestNotFound, "withdrawal %d", id)
	}
	if req.Requester != requester {
		return errorsmod.Wrapf(ErrUnauthorized, "withdrawal %d belongs to %s", id, req.Requester)
	}

	receipt := v.getOrCreateReceipt(requester, now)
	receipt.Shares = receipt.Shares.Add(req.Shares)
	receipt.UpdatedAt = now

	delete(v.withdrawals, id)
	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventRequestCancelled,
		Timestamp: now,
		Actor:     requester,
		Shares:    req.Shares,
	})
	return nil
}

// Claim pays out the owner's claimable principal. Claims stay open while the
// vault is Disabled; only InOperation freezes them.
func (v *Vault) Claim(owner string, now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status == types.StatusInOperation {
		return sdkmath.Int{}, errorsmod.Wrap(ErrInvalidState, "claims are frozen while IN_OPERATION")
	}
	receipt, ok := v.receipts[owner]
	if !ok || !receipt.Claimable.IsPositive() {
		return sdkmath.Int{}, errorsmod.Wrapf(ErrInvalidAmount, "%s has nothing to claim", owner)
	}

	amount := receipt.Claimable
	v.claimable = v.claimable.Sub(amount)
	receipt.Claimable = sdkmath.ZeroInt()
	receipt.UpdatedAt = now

	// Receipts are retained only while they hold something.
	if receipt.Shares.IsZero() {
		delete(v.receipts, owner)
	}

	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventClaimed,
		Timestamp: now,
		Actor:     owner,
		Amount:    amount,
	})
	return amount, nil
}

// CollectFees drains the accumulated fee bucket to the admin.
func (v *Vault) CollectFees(admin AdminCredential, now time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyAdmin(admin); err != nil {
		return sdkmath.Int{}, err
	}
	if v.status == types.StatusInOperation {
		return sdkmath.Int{}, errorsmod.Wrap(ErrInvalidState, "fees are frozen while IN_OPERATION")
	}

	amount := v.fees
	v.fees = sdkmath.ZeroInt()

	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventFeesCollected,
		Timestamp: now,
		Actor:     admin.holder,
		Amount:    amount,
	})
	return amount, nil
}

// PendingDeposits returns copies of the buffered deposit requests.
func (v *Vault) PendingDeposits() []types.DepositRequest {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]types.DepositRequest, 0, len(v.deposits))
	for _, req := range v.deposits {
		out = append(out, *req)
	}
	return out
}

// PendingWithdrawals returns copies of the buffered withdraw requests.
func (v *Vault) PendingWithdrawals() []types.WithdrawRequest {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]types.WithdrawRequest, 0, len(v.withdrawals))
	for _, req := range v.withdrawals {
		out = append(out, *req)
	}
	return out
}

// freshPrincipalPrice quotes the principal and enforces the staleness window
// on the quote itself. Callers hold the lock.
func (v *Vault) freshPrincipalPrice(ctx context.Context, now time.Time) (sdkmath.LegacyDec, error) {
	quote, err := v.prices.Price(ctx, v.principalSymbol, now)
	if err != nil {
		return sdkmath.LegacyDec{}, errorsmod.Wrap(ErrStaleValuation, err.Error())
	}
	if now.Sub(quote.LastUpdate) > v.maxStaleness {
		return sdkmath.LegacyDec{}, errorsmod.Wrapf(ErrStaleValuation,
			"principal quote from %s is outside the %s window",
			quote.LastUpdate.Format(time.RFC3339), v.maxStaleness)
	}
	return quote.PriceUSD, nil
}

// revaluePrincipal recomputes the principal entry's cached USD value from its
// balance at the given price. Callers hold the lock.
func (v *Vault) revaluePrincipal(entry *assetEntry, price sdkmath.LegacyDec, now time.Time) error {
	value, err := pricing.Normalize(entry.balance, v.principalDecimals, price)
	if err != nil {
		return errorsmod.Wrap(ErrInvalidAmount, err.Error())
	}
	entry.usdValue = value
	entry.lastUpdate = now
	return nil
}

// RefreshPrincipalValue re-prices the principal balance entry from the price
// source. Gated like UpdateValue: the owning operator while an operation is
// active, any operator otherwise.
func (v *Vault) RefreshPrincipalValue(ctx context.Context, operator OperatorCredential, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.op != nil {
		if err := v.verifyOperationOwner(operator); err != nil {
			return err
		}
	} else if err := v.verifyOperator(operator); err != nil {
		return err
	}

	price, err := v.freshPrincipalPrice(ctx, now)
	if err != nil {
		return err
	}
	entry := v.assets[v.principalKey]
	if err := v.revaluePrincipal(entry, price, now); err != nil {
		return err
	}

	if v.op != nil && v.op.gateOpen && v.op.borrowed[v.principalKey] {
		v.op.updated[v.principalKey] = true
	}

	v.emit(types.Event{
		VaultID:   v.id,
		Type:      types.EventAssetValueUpdated,
		Timestamp: now,
		Actor:     operator.holder,
		AssetKeys: []types.AssetKey{v.principalKey},
		USDValue:  entry.usdValue,
	})
	return nil
}

// getOrCreateReceipt returns the owner's receipt, creating it on first use.
// Callers hold the lock.
func (v *Vault) getOrCreateReceipt(owner string, now time.Time) *types.Receipt {
	if receipt, ok := v.receipts[owner]; ok {
		return receipt
	}
	receipt := &types.Receipt{
		Owner:       owner,
		Contributed: sdkmath.ZeroInt(),
		Shares:      sdkmath.ZeroInt(),
		Claimable:   sdkmath.ZeroInt(),
		UpdatedAt:   now,
	}
	v.receipts[owner] = receipt
	return receipt
}
