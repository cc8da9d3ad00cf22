// ./internal/state/snapshot_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/custodia-labs/cvm/internal/types"
)

// SaveVaultSnapshot saves a point-in-time vault snapshot to the database.
func SaveVaultSnapshot(snapshot types.VaultSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	assetsJSON, err := json.Marshal(snapshot.Assets)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal assets: %w", err)
	}

	query := `
		INSERT INTO vault_snapshots (
			vault_id, status, total_shares, total_value_usd, assets, snapshot_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.VaultID, string(snapshot.Status), snapshot.TotalShares,
		snapshot.TotalValueUSD, assetsJSON, snapshot.Timestamp,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save vault snapshot: %w", err)
	}

	log.Debug().
		Int64("snapshot_id", snapshotID).
		Str("status", string(snapshot.Status)).
		Str("total_value_usd", snapshot.TotalValueUSD).
		Msg("Vault snapshot saved to database")

	return snapshotID, nil
}

// GetRecentSnapshots returns the most recent snapshots, newest first.
func GetRecentSnapshots(limit int) ([]types.VaultSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT snapshot_id, vault_id, status, total_shares::TEXT, total_value_usd::TEXT,
			   assets, snapshot_timestamp
		FROM vault_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.VaultSnapshot
	for rows.Next() {
		var snapshot types.VaultSnapshot
		var assetsJSON []byte
		err := rows.Scan(
			&snapshot.SnapshotID, &snapshot.VaultID, &snapshot.Status,
			&snapshot.TotalShares, &snapshot.TotalValueUSD,
			&assetsJSON, &snapshot.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		if len(assetsJSON) > 0 {
			if err := json.Unmarshal(assetsJSON, &snapshot.Assets); err != nil {
				return nil, fmt.Errorf("failed to unmarshal snapshot assets: %w", err)
			}
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot row iteration failed: %w", err)
	}
	return snapshots, nil
}

// GetLatestSnapshot returns the newest snapshot, or nil when none exist.
func GetLatestSnapshot() (*types.VaultSnapshot, error) {
	snapshots, err := GetRecentSnapshots(1)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return &snapshots[0], nil
}
