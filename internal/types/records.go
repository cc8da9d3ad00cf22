/*

Persistence-side record types. These mirror what the state package writes to
Postgres: the operation audit trail, per-epoch loss history, and periodic
vault snapshots consumed by the dashboard.

*/

package types

import "time"

// OperationAudit is one row of the operation audit trail. Force-aborts always
// produce a row; OutstandingKeys names borrowed assets that were never
// returned before the abort.
type OperationAudit struct {
	AuditID         int64     `json:"audit_id,omitempty"` // auto-incremented by DB
	OperationID     uint64    `json:"operation_id"`
	VaultID         uint64    `json:"vault_id"`
	Operator        string    `json:"operator"`
	Action          string    `json:"action"` // STARTED / ENDED / RECONCILED / FORCE_ABORTED
	AssetKeys       []string  `json:"asset_keys"`
	OutstandingKeys []string  `json:"outstanding_keys,omitempty"`
	BaselineUSD     string    `json:"baseline_usd"`
	FinalUSD        string    `json:"final_usd,omitempty"`
	LossUSD         string    `json:"loss_usd,omitempty"`
	Forced          bool      `json:"forced"`
	Timestamp       time.Time `json:"timestamp"`
}

// EpochRecord is one row of epoch loss history.
type EpochRecord struct {
	EpochID         int64     `json:"epoch_id"` // UTC day index
	VaultID         uint64    `json:"vault_id"`
	BaselineUSD     string    `json:"baseline_usd"`
	AccumulatedLoss string    `json:"accumulated_loss"`
	ToleranceBps    uint64    `json:"tolerance_bps"`
	ForceClosed     bool      `json:"force_closed"`
	ClosedAt        time.Time `json:"closed_at"`
}

// VaultSnapshot is a periodic point-in-time view of the vault, written by the
// engine's refresh loop.
type VaultSnapshot struct {
	SnapshotID    int64            `json:"snapshot_id,omitempty"`
	VaultID       uint64           `json:"vault_id"`
	Status        VaultStatus      `json:"status"`
	TotalShares   string           `json:"total_shares"`
	TotalValueUSD string           `json:"total_value_usd"`
	Assets        []AssetValuation `json:"assets"`
	Timestamp     time.Time        `json:"timestamp"`
}
