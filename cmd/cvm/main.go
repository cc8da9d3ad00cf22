package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/cvm/internal/adaptors"
	"github.com/custodia-labs/cvm/internal/config"
	"github.com/custodia-labs/cvm/internal/engine"
	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/pricing"
	"github.com/custodia-labs/cvm/internal/state"
	"github.com/custodia-labs/cvm/internal/vault"
	"github.com/custodia-labs/cvm/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the CVM service.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel, config.LogFile)
	log.Info().Msg("CVM Core Logic Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// --- 2. Vault Initialization ---
	priceClient, err := pricing.NewClient(config.PriceAPIURL, config.PriceAPIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure price client")
	}
	sink := engine.NewSink(true)

	opSeed, err := state.GetCurrentOperationNumber()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read persistent operation counter")
	}

	v, admin, err := vault.NewVault(vault.Config{
		VaultID:           config.VaultID,
		AdminHolder:       config.AdminHolder,
		PrincipalSymbol:   config.PrincipalSymbol,
		PrincipalDecimals: config.PrincipalDecimals,
		LossToleranceBps:  config.LossToleranceBps,
		WithdrawFeeBps:    config.WithdrawFeeBps,
		MaxValueStaleness: config.MaxValueStaleness,
		PriceSource:       priceClient,
		EventSink:         sink,

		InitialOperationID: opSeed,
	}, time.Now().UTC())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vault")
	}

	operator, err := v.GrantOperator(admin, config.OperatorHolder)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to grant engine operator credential")
	}

	// Concrete protocol adaptors register here as integrations land.
	registry := adaptors.NewRegistry()

	// --- 3. Start Web Server ---
	webServer := web.NewWebServer(config.WebPort, v)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting CVM web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Create Engine Instance with Dependency Injection ---
	eng, err := engine.New(engine.Config{
		Vault:                v,
		Admin:                admin,
		Operator:             operator,
		Adaptors:             registry,
		MaxOperationDuration: config.MaxOperationDuration,
		PersistSnapshots:     true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}

	// --- 5. Start Engine Main Loop ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("interval", config.RefreshInterval.String()).Msg("Starting engine main loop")
	eng.RunLoop(ctx, config.RefreshInterval)

	log.Info().Msg("CVM shut down cleanly")
}
