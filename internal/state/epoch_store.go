// ./internal/state/epoch_store.go
package state

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/custodia-labs/cvm/internal/types"
)

// SaveEpochRecord writes one closed epoch to the loss history.
func SaveEpochRecord(record types.EpochRecord) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO epoch_history (
			epoch_id, vault_id, baseline_usd, accumulated_loss,
			tolerance_bps, force_closed, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7);
	`

	_, err := DB.Exec(
		query,
		record.EpochID, record.VaultID, record.BaselineUSD, record.AccumulatedLoss,
		record.ToleranceBps, record.ForceClosed, record.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save epoch record: %w", err)
	}

	log.Debug().
		Int64("epoch_id", record.EpochID).
		Bool("force_closed", record.ForceClosed).
		Msg("Epoch record saved")
	return nil
}

// GetRecentEpochs returns the most recently closed epochs, newest first.
func GetRecentEpochs(limit int) ([]types.EpochRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 30
	}

	query := `
		SELECT epoch_id, vault_id, baseline_usd::TEXT, accumulated_loss::TEXT,
			   tolerance_bps, force_closed, closed_at
		FROM epoch_history
		ORDER BY closed_at DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query epoch history: %w", err)
	}
	defer rows.Close()

	var records []types.EpochRecord
	for rows.Next() {
		var record types.EpochRecord
		err := rows.Scan(
			&record.EpochID, &record.VaultID, &record.BaselineUSD, &record.AccumulatedLoss,
			&record.ToleranceBps, &record.ForceClosed, &record.ClosedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan epoch row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("epoch row iteration failed: %w", err)
	}
	return records, nil
}
