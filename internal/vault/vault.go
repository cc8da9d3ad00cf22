/*

The Vault is the custody core: a single-writer state machine that pools
depositor principal, registers externally-managed positions behind opaque
handles, and prices redeemable shares against the aggregate USD value of
everything it custodies. All mutation goes through the methods in this
package; the struct is never shared by reference outside it.

*/

package vault

import (
	"fmt"
	"sort"
	"sync"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/types"
)

// assetEntry is one custody-store record. Exactly one cached value/time pair
// exists per key. Borrowed entries keep their last payload so a force-abort
// can restore Normal from last-known values.
type assetEntry struct {
	key        types.AssetKey
	kind       types.AssetKind
	balance    sdkmath.Int           // BALANCE entries, base units
	handle     *types.ExternalHandle // EXTERNAL entries
	usdValue   sdkmath.LegacyDec
	lastUpdate time.Time
	borrowed   bool
}

// Vault holds all authoritative state for one principal currency.
type Vault struct {
	mu sync.Mutex

	id          uint64
	adminHolder string
	operators   map[string]bool

	principalKey      types.AssetKey
	principalSymbol   string
	principalDecimals int

	status      types.VaultStatus
	totalShares sdkmath.Int
	assets      map[types.AssetKey]*assetEntry
	op          *operationRecord
	tracker     lossTracker

	// Principal owed outside the share supply: executed withdrawals awaiting
	// claim, and collected fees. Both are excluded from share valuation.
	claimable sdkmath.Int
	fees      sdkmath.Int

	deposits    map[uint64]*types.DepositRequest
	withdrawals map[uint64]*types.WithdrawRequest
	receipts    map[string]*types.Receipt
	nextRequest uint64
	nextOp      uint64

	withdrawFeeBps uint64
	maxStaleness   time.Duration

	prices pricing.Source
	sink   types.EventSink
	logger zerolog.Logger
}

// Config holds everything needed to construct a Vault.
type Config struct {
	VaultID           uint64
	AdminHolder       string
	PrincipalSymbol   string
	PrincipalDecimals int
	LossToleranceBps  uint64
	WithdrawFeeBps    uint64
	MaxValueStaleness time.Duration
	PriceSource       pricing.Source
	EventSink         types.EventSink // optional

	// InitialOperationID seeds the operation counter, so ids stay unique
	// across process restarts when backed by the persistent counter.
	InitialOperationID uint64
}

// NewVault constructs the vault, registers the principal balance entry, and
// mints the one admin credential.
func NewVault(cfg Config, now time.Time) (*Vault, AdminCredential, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, AdminCredential{}, fmt.Errorf("vault configuration validation failed: %w", err)
	}

	v := &Vault{
		id:                cfg.VaultID,
		adminHolder:       cfg.AdminHolder,
		operators:         make(map[string]bool),
		principalKey:      types.AssetKey("principal/" + cfg.PrincipalSymbol),
		principalSymbol:   cfg.PrincipalSymbol,
		principalDecimals: cfg.PrincipalDecimals,
		status:            types.StatusNormal,
		totalShares:       sdkmath.ZeroInt(),
		assets:            make(map[types.AssetKey]*assetEntry),
		tracker:           newLossTracker(cfg.LossToleranceBps, now),
		claimable:         sdkmath.ZeroInt(),
		fees:              sdkmath.ZeroInt(),
		deposits:          make(map[uint64]*types.DepositRequest),
		withdrawals:       make(map[uint64]*types.WithdrawRequest),
		receipts:          make(map[string]*types.Receipt),
		nextOp:            cfg.InitialOperationID,
		withdrawFeeBps:    cfg.WithdrawFeeBps,
		maxStaleness:      cfg.MaxValueStaleness,
		prices:            cfg.PriceSource,
		sink:              cfg.EventSink,
		logger:            logger.GetForComponent("vault_core"),
	}

	v.assets[v.principalKey] = &assetEntry{
		key:        v.principalKey,
		kind:       types.AssetKindBalance,
		balance:    sdkmath.ZeroInt(),
		usdValue:   sdkmath.LegacyZeroDec(),
		lastUpdate: now,
	}

	v.logger.Info().
		Uint64("vaultId", v.id).
		Str("principal", v.principalSymbol).
		Uint64("toleranceBps", cfg.LossToleranceBps).
		Msg("Vault initialized")

	return v, AdminCredential{vaultID: cfg.VaultID, holder: cfg.AdminHolder}, nil
}

func validateConfig(cfg Config) error {
	if cfg.VaultID == 0 {
		return fmt.Errorf("vault ID cannot be zero")
	}
	if cfg.AdminHolder == "" {
		return fmt.Errorf("admin holder cannot be empty")
	}
	if cfg.PrincipalSymbol == "" {
		return fmt.Errorf("principal symbol cannot be empty")
	}
	if cfg.PrincipalDecimals < 0 || cfg.PrincipalDecimals > 18 {
		return fmt.Errorf("principal decimals must be between 0 and 18, got %d", cfg.PrincipalDecimals)
	}
	if cfg.WithdrawFeeBps >= 10000 {
		return fmt.Errorf("withdraw fee bps must be below 10000, got %d", cfg.WithdrawFeeBps)
	}
	if cfg.MaxValueStaleness <= 0 {
		return fmt.Errorf("max value staleness must be positive")
	}
	if cfg.PriceSource == nil {
		return fmt.Errorf("price source cannot be nil")
	}
	return nil
}

// Disable pauses the vault. Only a Normal vault can be disabled; an active
// operation must reconcile or be force-aborted first.
func (v *Vault) Disable(admin AdminCredential, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyAdmin(admin); err != nil {
		return err
	}
	if v.status != types.StatusNormal {
		return errorsmod.Wrapf(ErrInvalidState, "cannot disable while %s", v.status)
	}

	v.status = types.StatusDisabled
	v.emit(types.Event{VaultID: v.id, Type: types.EventVaultDisabled, Timestamp: now, Actor: admin.holder})
	v.logger.Warn().Msg("Vault disabled")
	return nil
}

// Enable resumes a disabled vault.
func (v *Vault) Enable(admin AdminCredential, now time.Time) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.verifyAdmin(admin); err != nil {
		return err
	}
	if v.status != types.StatusDisabled {
		return errorsmod.Wrapf(ErrInvalidState, "cannot enable while %s", v.status)
	}

	v.status = types.StatusNormal
	v.emit(types.Event{VaultID: v.id, Type: types.EventVaultEnabled, Timestamp: now, Actor: admin.holder})
	v.logger.Info().Msg("Vault enabled")
	return nil
}

// ID returns the vault id.
func (v *Vault) ID() uint64 { return v.id }

// Status returns the current lifecycle status.
func (v *Vault) Status() types.VaultStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// TotalShares returns the outstanding share supply.
func (v *Vault) TotalShares() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalShares
}

// PrincipalSymbol returns the price-feed symbol of the principal currency.
func (v *Vault) PrincipalSymbol() string { return v.principalSymbol }

// Snapshot returns a point-in-time view built from cached values. It never
// fails on staleness; it reports what the vault currently believes.
func (v *Vault) Snapshot(now time.Time) types.VaultSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	assets := make([]types.AssetValuation, 0, len(v.assets))
	for _, entry := range v.assets {
		assets = append(assets, types.AssetValuation{
			Key:        entry.key,
			Kind:       entry.kind,
			USDValue:   entry.usdValue,
			LastUpdate: entry.lastUpdate,
			Borrowed:   entry.borrowed,
		})
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Key < assets[j].Key })

	return types.VaultSnapshot{
		VaultID:       v.id,
		Status:        v.status,
		TotalShares:   v.totalShares.String(),
		TotalValueUSD: v.sumCached().String(),
		Assets:        assets,
		Timestamp:     now,
	}
}

// ExternalPositions returns the handles of external entries currently in
// custody (not borrowed). The engine refreshes their values through the
// adaptor registry while the vault is Normal.
func (v *Vault) ExternalPositions() map[types.AssetKey]types.ExternalHandle {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(map[types.AssetKey]types.ExternalHandle)
	for key, entry := range v.assets {
		if entry.kind == types.AssetKindExternal && !entry.borrowed && entry.handle != nil {
			out[key] = *entry.handle
		}
	}
	return out
}

// Receipt returns a copy of the owner's receipt, or false if none exists.
func (v *Vault) Receipt(owner string) (types.Receipt, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, ok := v.receipts[owner]
	if !ok {
		return types.Receipt{}, false
	}
	return *r, true
}

// emit delivers an event to the sink, if any. Called with the lock held; the
// sink must not call back into the vault.
func (v *Vault) emit(ev types.Event) {
	if v.sink != nil {
		v.sink.Emit(ev)
	}
}
