/*

Valuation engine loop. Each cycle re-prices the principal balance and every
external position through the adaptor registry, persists a vault snapshot,
and runs the operation watchdog: an operation that has been running past the
configured duration is force-aborted under the admin credential.

Refreshes are skipped while an operation is active; the owning operator is
responsible for valuations during its window.

*/

package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/custodia-labs/cvm/internal/adaptors"
	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/state"
	"github.com/custodia-labs/cvm/internal/types"
	"github.com/custodia-labs/cvm/internal/vault"
)

// Engine drives periodic valuation refreshes against one vault.
type Engine struct {
	logger   zerolog.Logger
	vault    *vault.Vault
	admin    vault.AdminCredential
	operator vault.OperatorCredential
	adaptors *adaptors.Registry

	maxOperationDuration time.Duration
	persistSnapshots     bool

	cycleCount int
}

// Config holds the configuration for creating a new Engine instance
type Config struct {
	Vault                *vault.Vault
	Admin                vault.AdminCredential
	Operator             vault.OperatorCredential
	Adaptors             *adaptors.Registry
	MaxOperationDuration time.Duration
	PersistSnapshots     bool
}

// New creates a new Engine instance with dependency injection
func New(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	e := &Engine{
		logger:               logger.GetForComponent("engine_core"),
		vault:                cfg.Vault,
		admin:                cfg.Admin,
		operator:             cfg.Operator,
		adaptors:             cfg.Adaptors,
		maxOperationDuration: cfg.MaxOperationDuration,
		persistSnapshots:     cfg.PersistSnapshots,
	}

	e.logger.Info().
		Uint64("vaultId", cfg.Vault.ID()).
		Dur("maxOperationDuration", cfg.MaxOperationDuration).
		Msg("Engine instance created")

	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.Vault == nil {
		return fmt.Errorf("vault cannot be nil")
	}
	if cfg.Adaptors == nil {
		return fmt.Errorf("adaptor registry cannot be nil")
	}
	if cfg.MaxOperationDuration < 0 {
		return fmt.Errorf("max operation duration cannot be negative")
	}
	return nil
}

// RunLoop starts the main engine loop with the specified interval
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().
		Dur("interval", interval).
		Msg("Starting engine main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	e.cycleCount++
	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.cycleCount++
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one refresh cycle.
func (e *Engine) RunCycle(ctx context.Context) {
	traceID := uuid.New().String()
	now := time.Now().UTC()
	cycleLogger := e.logger.With().
		Str("traceId", traceID).
		Int("cycle", e.cycleCount).
		Logger()

	cycleLogger.Debug().Msg("Engine cycle starting")

	e.runWatchdog(cycleLogger, now)

	switch e.vault.Status() {
	case types.StatusNormal:
		e.refreshValuations(ctx, cycleLogger, now)
	case types.StatusInOperation:
		cycleLogger.Debug().Msg("Operation active, skipping valuation refresh")
	case types.StatusDisabled:
		cycleLogger.Debug().Msg("Vault disabled, skipping valuation refresh")
	}

	e.persistSnapshot(cycleLogger, now)

	cycleLogger.Debug().Msg("Engine cycle completed")
}

// runWatchdog force-aborts an operation that has exceeded the configured
// maximum duration.
func (e *Engine) runWatchdog(cycleLogger zerolog.Logger, now time.Time) {
	if e.maxOperationDuration <= 0 {
		return
	}
	op, active := e.vault.Operation()
	if !active {
		return
	}
	age := now.Sub(op.StartedAt)
	if age <= e.maxOperationDuration {
		return
	}

	cycleLogger.Warn().
		Uint64("operationId", op.ID).
		Str("operator", op.Operator).
		Dur("age", age).
		Dur("limit", e.maxOperationDuration).
		Msg("Operation exceeded maximum duration, force-aborting")

	if err := e.vault.ForceAbortOperation(e.admin, now); err != nil {
		cycleLogger.Error().Err(err).
			Uint64("operationId", op.ID).
			Msg("Watchdog force-abort failed")
	}
}

// refreshValuations re-prices the principal and every external position.
func (e *Engine) refreshValuations(ctx context.Context, cycleLogger zerolog.Logger, now time.Time) {
	if err := e.vault.RefreshPrincipalValue(ctx, e.operator, now); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to refresh principal value")
	}

	positions := e.vault.ExternalPositions()
	keys := make([]types.AssetKey, 0, len(positions))
	for key := range positions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		handle := positions[key]
		value, observedAt, err := e.adaptors.Value(ctx, handle, now)
		if err != nil {
			cycleLogger.Error().Err(err).
				Str("key", string(key)).
				Str("adaptor", handle.AdaptorID).
				Msg("Adaptor valuation failed")
			continue
		}
		if err := e.vault.UpdateValue(e.operator, key, value, observedAt); err != nil {
			cycleLogger.Error().Err(err).
				Str("key", string(key)).
				Msg("Failed to update asset value")
		}
	}

	cycleLogger.Info().
		Int("externalPositions", len(keys)).
		Msg("Valuation refresh completed")
}

// persistSnapshot writes the current vault view to the database.
func (e *Engine) persistSnapshot(cycleLogger zerolog.Logger, now time.Time) {
	if !e.persistSnapshots {
		return
	}
	snapshot := e.vault.Snapshot(now)
	if _, err := state.SaveVaultSnapshot(snapshot); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist vault snapshot")
	}
}
