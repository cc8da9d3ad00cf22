// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS operation_audit (
			audit_id SERIAL PRIMARY KEY,
			operation_id BIGINT NOT NULL,
			vault_id BIGINT NOT NULL,
			operator VARCHAR(255) NOT NULL,
			action VARCHAR(32) NOT NULL,
			asset_keys TEXT[],
			outstanding_keys TEXT[],
			baseline_usd DECIMAL(38, 18),
			final_usd DECIMAL(38, 18),
			loss_usd DECIMAL(38, 18),
			forced BOOLEAN NOT NULL DEFAULT FALSE,
			audit_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_operation_audit_timestamp ON operation_audit(audit_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_operation_audit_operation ON operation_audit(operation_id);
		CREATE INDEX IF NOT EXISTS idx_operation_audit_forced ON operation_audit(forced);

		CREATE TABLE IF NOT EXISTS epoch_history (
			epoch_id BIGINT NOT NULL,
			vault_id BIGINT NOT NULL,
			baseline_usd DECIMAL(38, 18) NOT NULL,
			accumulated_loss DECIMAL(38, 18) NOT NULL,
			tolerance_bps BIGINT NOT NULL,
			force_closed BOOLEAN NOT NULL DEFAULT FALSE,
			closed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (vault_id, epoch_id, closed_at)
		);
		CREATE INDEX IF NOT EXISTS idx_epoch_history_closed_at ON epoch_history(closed_at DESC);

		CREATE TABLE IF NOT EXISTS vault_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			vault_id BIGINT NOT NULL,
			status VARCHAR(32) NOT NULL,
			total_shares DECIMAL(38, 0) NOT NULL,
			total_value_usd DECIMAL(38, 18) NOT NULL,
			assets JSONB,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_timestamp ON vault_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_vault ON vault_snapshots(vault_id);

		-- Operation counter table for persistent operation id tracking
		CREATE TABLE IF NOT EXISTS operation_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_operation BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO operation_counter (id, current_operation)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
