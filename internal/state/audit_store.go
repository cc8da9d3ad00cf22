// ./internal/state/audit_store.go
package state

import (
	"database/sql"
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/custodia-labs/cvm/internal/types"
)

// SaveOperationAudit writes one row of the operation audit trail.
func SaveOperationAudit(audit types.OperationAudit) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO operation_audit (
			operation_id, vault_id, operator, action,
			asset_keys, outstanding_keys,
			baseline_usd, final_usd, loss_usd,
			forced, audit_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING audit_id;
	`

	var auditID int64
	err := DB.QueryRow(
		query,
		audit.OperationID, audit.VaultID, audit.Operator, audit.Action,
		pq.Array(audit.AssetKeys), pq.Array(audit.OutstandingKeys),
		nullableDecimal(audit.BaselineUSD), nullableDecimal(audit.FinalUSD), nullableDecimal(audit.LossUSD),
		audit.Forced, audit.Timestamp,
	).Scan(&auditID)

	if err != nil {
		return 0, fmt.Errorf("failed to save operation audit: %w", err)
	}

	log.Debug().
		Int64("audit_id", auditID).
		Uint64("operation_id", audit.OperationID).
		Str("action", audit.Action).
		Msg("Operation audit row saved")

	return auditID, nil
}

// GetRecentOperations returns the most recent audit rows, newest first.
func GetRecentOperations(limit int) ([]types.OperationAudit, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT audit_id, operation_id, vault_id, operator, action,
			   asset_keys, outstanding_keys,
			   COALESCE(baseline_usd::TEXT, ''), COALESCE(final_usd::TEXT, ''), COALESCE(loss_usd::TEXT, ''),
			   forced, audit_timestamp
		FROM operation_audit
		ORDER BY audit_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation audit: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// GetOperationByID returns every audit row for one operation, oldest first.
func GetOperationByID(operationID uint64) ([]types.OperationAudit, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT audit_id, operation_id, vault_id, operator, action,
			   asset_keys, outstanding_keys,
			   COALESCE(baseline_usd::TEXT, ''), COALESCE(final_usd::TEXT, ''), COALESCE(loss_usd::TEXT, ''),
			   forced, audit_timestamp
		FROM operation_audit
		WHERE operation_id = $1
		ORDER BY audit_timestamp ASC;
	`

	rows, err := DB.Query(query, operationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation %d: %w", operationID, err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func scanAuditRows(rows *sql.Rows) ([]types.OperationAudit, error) {
	var audits []types.OperationAudit
	for rows.Next() {
		var audit types.OperationAudit
		err := rows.Scan(
			&audit.AuditID, &audit.OperationID, &audit.VaultID, &audit.Operator, &audit.Action,
			pq.Array(&audit.AssetKeys), pq.Array(&audit.OutstandingKeys),
			&audit.BaselineUSD, &audit.FinalUSD, &audit.LossUSD,
			&audit.Forced, &audit.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		audits = append(audits, audit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit row iteration failed: %w", err)
	}
	return audits, nil
}

// nullableDecimal maps an empty decimal string to SQL NULL.
func nullableDecimal(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
