package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/custodia-labs/cvm/internal/logger"
	"github.com/custodia-labs/cvm/internal/state"
	"github.com/custodia-labs/cvm/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes read-only vault data over HTTP.
type WebServer struct {
	router *mux.Router
	port   string
	vault  *vault.Vault
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, v *vault.Vault) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		vault:  v,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/operations", ws.handleGetOperations).Methods("GET")
	api.HandleFunc("/operations/{id}", ws.handleGetOperation).Methods("GET")
	api.HandleFunc("/epochs", ws.handleGetEpochs).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleGetSnapshots).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server and vault health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "cvm-custodial-vault-manager",
			"version": "1.0.0",
		},
		"vault_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"status":           ws.vault.Status(),
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetVaultSummary returns the live vault state: valuation snapshot,
// loss tracker, active operation, and pending request counts.
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	snapshot := ws.vault.Snapshot(now)
	loss := ws.vault.LossTrackerState()

	response := map[string]interface{}{
		"vault_id":            ws.vault.ID(),
		"status":              ws.vault.Status(),
		"principal_symbol":    ws.vault.PrincipalSymbol(),
		"total_shares":        ws.vault.TotalShares(),
		"snapshot":            snapshot,
		"loss_tracker":        loss,
		"pending_deposits":    len(ws.vault.PendingDeposits()),
		"pending_withdrawals": len(ws.vault.PendingWithdrawals()),
		"timestamp":           now,
	}

	if op, ok := ws.vault.Operation(); ok {
		response["operation"] = op
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetOperations returns recent operation audit rows
func (ws *WebServer) handleGetOperations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)

	audits, err := state.GetRecentOperations(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent operations")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve operations")
		return
	}

	response := map[string]interface{}{
		"operations": audits,
		"count":      len(audits),
		"limit":      limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetOperation returns the audit trail for one operation
func (ws *WebServer) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idStr := vars["id"]

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid operation ID")
		return
	}

	audits, err := state.GetOperationByID(id)
	if err != nil {
		webLogger.Error().Err(err).Uint64("operationId", id).Msg("Failed to get operation")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve operation")
		return
	}
	if len(audits) == 0 {
		ws.writeErrorResponse(w, http.StatusNotFound, "Operation not found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, audits)
}

// handleGetEpochs returns recent epoch loss history
func (ws *WebServer) handleGetEpochs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 30)

	epochs, err := state.GetRecentEpochs(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get epoch history")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve epochs")
		return
	}

	response := map[string]interface{}{
		"epochs": epochs,
		"count":  len(epochs),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSnapshots returns recent persisted vault snapshots
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)

	snapshots, err := state.GetRecentSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

func parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
