package vault

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace for the vault error taxonomy. Codes are stable so operators can
// distinguish transient failures (retry after refresh/return) from structural
// ones (needs admin intervention).
const Codespace = "vault"

var (
	// ErrInvalidState - call made in the wrong vault status; aborts the single call only.
	ErrInvalidState = errorsmod.Register(Codespace, 2, "invalid vault status for this call")
	// ErrUnauthorized - credential does not gate this call on this vault.
	ErrUnauthorized = errorsmod.Register(Codespace, 3, "credential not authorized")
	// ErrStaleValuation - cached value older than its window; retryable by refreshing.
	ErrStaleValuation = errorsmod.Register(Codespace, 4, "cached valuation is stale")
	// ErrPartialReturn - not all borrowed assets returned; retryable by completing returns.
	ErrPartialReturn = errorsmod.Register(Codespace, 5, "not all borrowed assets were returned")
	// ErrValueNotUpdated - borrowed asset value not refreshed before reconciliation.
	ErrValueNotUpdated = errorsmod.Register(Codespace, 6, "borrowed asset value was not updated")
	// ErrLossLimitExceeded - reconciliation would exceed the epoch loss tolerance.
	ErrLossLimitExceeded = errorsmod.Register(Codespace, 7, "epoch loss tolerance exceeded")
	// ErrSlippageViolated - resulting shares/amount outside caller bounds; aborts the single call.
	ErrSlippageViolated = errorsmod.Register(Codespace, 8, "result outside slippage bounds")
	// ErrZeroExtraction - asset with nonzero cached value cannot be extracted.
	ErrZeroExtraction = errorsmod.Register(Codespace, 9, "asset value must be zero to extract")
	// ErrAssetExists - registration under an occupied key.
	ErrAssetExists = errorsmod.Register(Codespace, 10, "asset key already registered")
	// ErrAssetNotFound - no entry under the given key.
	ErrAssetNotFound = errorsmod.Register(Codespace, 11, "asset key not registered")
	// ErrRequestNotFound - no pending request with the given id.
	ErrRequestNotFound = errorsmod.Register(Codespace, 12, "request not found")
	// ErrInvalidAmount - nil, negative, or otherwise unusable amount.
	ErrInvalidAmount = errorsmod.Register(Codespace, 13, "amount is invalid")
)
