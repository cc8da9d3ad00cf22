package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// EventType identifies the observability events the vault emits.
type EventType string

const (
	EventOperationStarted    EventType = "OPERATION_STARTED"
	EventOperationEnded      EventType = "OPERATION_ENDED"
	EventOperationReconciled EventType = "OPERATION_RECONCILED"
	EventOperationAborted    EventType = "OPERATION_ABORTED"
	EventAssetValueUpdated   EventType = "ASSET_VALUE_UPDATED"
	EventLossRecorded        EventType = "LOSS_RECORDED"
	EventEpochRolled         EventType = "EPOCH_ROLLED"
	EventEpochForceClosed    EventType = "EPOCH_FORCE_CLOSED"
	EventSharesMinted        EventType = "SHARES_MINTED"
	EventSharesBurned        EventType = "SHARES_BURNED"
	EventDepositRequested    EventType = "DEPOSIT_REQUESTED"
	EventWithdrawRequested   EventType = "WITHDRAW_REQUESTED"
	EventRequestCancelled    EventType = "REQUEST_CANCELLED"
	EventClaimed             EventType = "CLAIMED"
	EventVaultDisabled       EventType = "VAULT_DISABLED"
	EventVaultEnabled        EventType = "VAULT_ENABLED"
	EventFeesCollected       EventType = "FEES_COLLECTED"
)

// Event is a single observability record. Fields beyond VaultID/Type/Time are
// populated per event type; zero values mean not applicable.
type Event struct {
	VaultID     uint64            `json:"vault_id"`
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	OperationID uint64            `json:"operation_id,omitempty"`
	Actor       string            `json:"actor,omitempty"`
	AssetKeys   []AssetKey        `json:"asset_keys,omitempty"`
	Outstanding []AssetKey        `json:"outstanding,omitempty"`
	USDValue    sdkmath.LegacyDec `json:"usd_value,omitempty"`
	Shares      sdkmath.Int       `json:"shares,omitempty"`
	Amount      sdkmath.Int       `json:"amount,omitempty"`
	Epoch       *EpochRecord      `json:"epoch,omitempty"` // closed-epoch payload on roll/force-close
	Detail      string            `json:"detail,omitempty"`
}

// EventSink receives vault events. Implementations must not call back into
// the vault; delivery happens while the vault lock is held.
type EventSink interface {
	Emit(ev Event)
}
