package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultID is the ID of the vault this CVM instance manages.
	VaultID uint64

	// PrincipalSymbol is the price-feed symbol of the vault's principal
	// currency (e.g. "USDC").
	PrincipalSymbol string
	// PrincipalDecimals is the base-unit precision of the principal currency.
	PrincipalDecimals int

	// LossToleranceBps bounds cumulative realized loss per epoch, in basis
	// points of the epoch baseline value.
	LossToleranceBps uint64
	// MaxValueStaleness is the window within which a cached asset value is
	// still trusted by the valuation engine.
	MaxValueStaleness time.Duration
	// MaxOperationDuration is how long an operation may stay open before the
	// watchdog force-aborts it.
	MaxOperationDuration time.Duration
	// WithdrawFeeBps is carved out of every withdrawal payout into the vault
	// fee bucket.
	WithdrawFeeBps uint64

	// PriceAPIURL is the base URL of the spot price endpoint.
	PriceAPIURL string
	// PriceAPIKey authenticates against the price endpoint. Optional.
	PriceAPIKey string

	// RefreshInterval is the cadence of the engine's valuation refresh loop.
	RefreshInterval time.Duration

	// AdminHolder and OperatorHolder name the credential holders minted at
	// startup: the admin credential and the engine's operator credential.
	AdminHolder    string
	OperatorHolder string

	// WebPort is the listen port of the dashboard server.
	WebPort string

	// LogLevel and LogFile configure the zerolog output. An empty LogFile
	// means console only.
	LogLevel string
	LogFile  string

	// Database connection settings.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. Variables without defaults are required.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultID, err = getEnvAsUint64("CVM_VAULT_ID")
	if err != nil {
		return err
	}

	PrincipalSymbol, err = getEnv("PRINCIPAL_SYMBOL")
	if err != nil {
		return err
	}

	PrincipalDecimals, err = getEnvAsInt("PRINCIPAL_DECIMALS")
	if err != nil {
		return err
	}
	if PrincipalDecimals < 0 || PrincipalDecimals > 18 {
		return errors.New("PRINCIPAL_DECIMALS must be between 0 and 18")
	}

	LossToleranceBps, err = getEnvAsUint64("LOSS_TOLERANCE_BPS")
	if err != nil {
		return err
	}

	staleSecs, err := getEnvAsUint64("MAX_VALUE_STALENESS_SECONDS")
	if err != nil {
		return err
	}
	MaxValueStaleness = time.Duration(staleSecs) * time.Second

	opSecs, err := getEnvAsUint64("MAX_OPERATION_DURATION_SECONDS")
	if err != nil {
		return err
	}
	MaxOperationDuration = time.Duration(opSecs) * time.Second

	WithdrawFeeBps, err = getEnvAsUint64("WITHDRAW_FEE_BPS")
	if err != nil {
		return err
	}
	if WithdrawFeeBps >= 10000 {
		return errors.New("WITHDRAW_FEE_BPS must be below 10000")
	}

	PriceAPIURL, err = getEnv("PRICE_API_URL")
	if err != nil {
		return err
	}
	PriceAPIKey = os.Getenv("PRICE_API_KEY")

	refreshSecs, err := getEnvAsUint64("REFRESH_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	RefreshInterval = time.Duration(refreshSecs) * time.Second

	AdminHolder = getEnvWithDefault("ADMIN_HOLDER", "cvm-admin")
	OperatorHolder = getEnvWithDefault("OPERATOR_HOLDER", "cvm-engine")
	WebPort = getEnvWithDefault("WEB_PORT", "8080")

	LogLevel = getEnvWithDefault("LOG_LEVEL", "info")
	LogFile = os.Getenv("LOG_FILE")

	DBHost = getEnvWithDefault("DB_HOST", "localhost")
	DBPort, err = getEnvAsIntWithDefault("DB_PORT", 5432)
	if err != nil {
		return err
	}
	DBUser = getEnvWithDefault("DB_USER", "postgres")
	DBPassword = os.Getenv("DB_PASSWORD")
	DBName = getEnvWithDefault("DB_NAME", "cvm")
	DBSSLMode = getEnvWithDefault("DB_SSLMODE", "disable")

	log.Debug().
		Uint64("VaultID", VaultID).
		Str("PrincipalSymbol", PrincipalSymbol).
		Uint64("LossToleranceBps", LossToleranceBps).
		Dur("MaxValueStaleness", MaxValueStaleness).
		Dur("MaxOperationDuration", MaxOperationDuration).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvWithDefault retrieves a string environment variable, falling back to
// a default when unset.
func getEnvWithDefault(key, def string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return def
}

// getEnvAsIntWithDefault retrieves an environment variable as an int, falling
// back to a default when unset. Returns error if set but invalid.
func getEnvAsIntWithDefault(key string, def int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return def, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}
