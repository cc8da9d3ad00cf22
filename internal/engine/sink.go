/*

Event sink bridging vault events to structured logs and the Postgres audit
trail. Emit is called while the vault lock is held, so the sink never calls
back into the vault; it only logs and writes rows.

*/

package engine

import (
	"github.com/rs/zerolog"

	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/state"
	"github.com/custodia-labs/cvm/internal/types"
)

// Sink persists lifecycle events and logs everything else.
type Sink struct {
	logger  zerolog.Logger
	persist bool

	// loss recorded by the pending reconciliation, keyed by operation id, so
	// the RECONCILED audit row can carry it.
	pendingLoss map[uint64]string
}

// NewSink creates an event sink. With persist false (no database, tests) it
// degrades to log-only.
func NewSink(persist bool) *Sink {
	return &Sink{
		logger:      logger.GetForComponent("event_sink"),
		persist:     persist,
		pendingLoss: make(map[uint64]string),
	}
}

// Emit implements types.EventSink.
func (s *Sink) Emit(ev types.Event) {
	s.logger.Info().
		Str("event", string(ev.Type)).
		Uint64("vaultId", ev.VaultID).
		Uint64("operationId", ev.OperationID).
		Str("actor", ev.Actor).
		Msg("Vault event")

	switch ev.Type {
	case types.EventOperationStarted:
		s.advanceOperationCounter(ev.OperationID)
		s.saveAudit(ev, "STARTED", types.OperationAudit{
			BaselineUSD: ev.USDValue.String(),
		})
	case types.EventOperationEnded:
		s.saveAudit(ev, "ENDED", types.OperationAudit{})
	case types.EventLossRecorded:
		s.pendingLoss[ev.OperationID] = ev.USDValue.String()
	case types.EventOperationReconciled:
		audit := types.OperationAudit{FinalUSD: ev.USDValue.String()}
		if loss, ok := s.pendingLoss[ev.OperationID]; ok {
			audit.LossUSD = loss
			delete(s.pendingLoss, ev.OperationID)
		}
		s.saveAudit(ev, "RECONCILED", audit)
	case types.EventOperationAborted:
		delete(s.pendingLoss, ev.OperationID)
		s.saveAudit(ev, "FORCE_ABORTED", types.OperationAudit{
			FinalUSD: ev.USDValue.String(),
			Forced:   true,
		})
	case types.EventEpochRolled, types.EventEpochForceClosed:
		s.saveEpoch(ev)
	}
}

// advanceOperationCounter keeps the persistent counter in step with the ids
// the vault hands out, so a restarted process resumes past them.
func (s *Sink) advanceOperationCounter(operationID uint64) {
	if !s.persist {
		return
	}
	next, err := state.IncrementOperationNumber()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to advance operation counter")
		return
	}
	if next == operationID {
		return
	}
	// Counter drifted (manual reset, replayed events); snap it to the vault.
	s.logger.Warn().
		Uint64("counter", next).
		Uint64("operationId", operationID).
		Msg("Operation counter out of step, resetting")
	if err := state.ResetOperationNumber(operationID); err != nil {
		s.logger.Error().Err(err).Uint64("operationId", operationID).Msg("Failed to reset operation counter")
	}
}

func (s *Sink) saveAudit(ev types.Event, action string, audit types.OperationAudit) {
	if !s.persist {
		return
	}

	audit.OperationID = ev.OperationID
	audit.VaultID = ev.VaultID
	audit.Operator = ev.Actor
	audit.Action = action
	audit.AssetKeys = keysToStrings(ev.AssetKeys)
	audit.OutstandingKeys = keysToStrings(ev.Outstanding)
	audit.Timestamp = ev.Timestamp

	if _, err := state.SaveOperationAudit(audit); err != nil {
		s.logger.Error().Err(err).
			Uint64("operationId", ev.OperationID).
			Str("action", action).
			Msg("Failed to persist operation audit")
	}
}

func (s *Sink) saveEpoch(ev types.Event) {
	if !s.persist || ev.Epoch == nil {
		return
	}
	if err := state.SaveEpochRecord(*ev.Epoch); err != nil {
		s.logger.Error().Err(err).
			Int64("epochId", ev.Epoch.EpochID).
			Msg("Failed to persist epoch record")
	}
}

func keysToStrings(keys []types.AssetKey) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, string(key))
	}
	return out
}
