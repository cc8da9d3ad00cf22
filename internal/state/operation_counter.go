/*

This file manages the persistent global operation counter. Operation ids are
stored in the database so they stay unique across restarts.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// GetCurrentOperationNumber retrieves the current operation number from the database
func GetCurrentOperationNumber() (uint64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `SELECT current_operation FROM operation_counter WHERE id = 1;`

	var current uint64
	row := DB.QueryRow(query)
	err := row.Scan(&current)

	if err != nil {
		if err == sql.ErrNoRows {
			log.Warn().Msg("No operation counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current operation number: %w", err)
	}

	return current, nil
}

// IncrementOperationNumber increments the operation counter and returns the new value
func IncrementOperationNumber() (uint64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	updateQuery := `
		UPDATE operation_counter
		SET current_operation = current_operation + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_operation;`

	var next uint64
	row := DB.QueryRow(updateQuery)
	err := row.Scan(&next)

	if err != nil {
		return 0, fmt.Errorf("failed to increment operation number: %w", err)
	}

	log.Debug().Uint64("operation", next).Msg("Incremented operation counter")
	return next, nil
}

// ResetOperationNumber resets the operation counter to a specific value (for testing/maintenance)
func ResetOperationNumber(operation uint64) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	updateQuery := `
		UPDATE operation_counter
		SET current_operation = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1;`

	result, err := DB.Exec(updateQuery, operation)
	if err != nil {
		return fmt.Errorf("failed to reset operation number to %d: %w", operation, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting operation number")
	}

	log.Warn().Uint64("operation", operation).Msg("Reset operation counter")
	return nil
}
