/*

Share/request ledger types. Requests are created while the vault is Normal,
then either executed or cancelled; they are never otherwise mutated. Receipts
track per-user contributed principal and owned shares and are retained while
nonzero.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// DepositRequest buffers principal until execution mints shares against it.
type DepositRequest struct {
	ID             uint64      `json:"id"`
	Requester      string      `json:"requester"`
	Amount         sdkmath.Int `json:"amount"`          // principal base units
	ExpectedShares sdkmath.Int `json:"expected_shares"` // lower slippage bound
	CreatedAt      time.Time   `json:"created_at"`
}

// WithdrawRequest buffers shares until execution burns them for principal.
type WithdrawRequest struct {
	ID        uint64      `json:"id"`
	Requester string      `json:"requester"`
	Shares    sdkmath.Int `json:"shares"`
	MinAmount sdkmath.Int `json:"min_amount"` // lower slippage bound, principal base units
	CreatedAt time.Time   `json:"created_at"`
}

// Receipt is the per-user position in the vault.
type Receipt struct {
	Owner       string      `json:"owner"`
	Contributed sdkmath.Int `json:"contributed"` // lifetime principal deposited, base units
	Shares      sdkmath.Int `json:"shares"`
	Claimable   sdkmath.Int `json:"claimable"` // executed withdrawals awaiting claim
	UpdatedAt   time.Time   `json:"updated_at"`
}
