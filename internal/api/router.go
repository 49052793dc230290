package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/randytsao24/tournee/internal/api/handlers"
	"github.com/randytsao24/tournee/internal/config"
	"github.com/randytsao24/tournee/internal/pipeline"
	"github.com/randytsao24/tournee/internal/registry"
)

// defaultRequestTimeout bounds requests that do not run the optimizer
const defaultRequestTimeout = 15 * time.Second

// NewRouter creates and configures the HTTP router with all routes and middleware.
// opt may be nil when no optimizer is installed.
func NewRouter(
	cfg *config.Config,
	reg *registry.Registry,
	master handlers.MasterProvider,
	runs handlers.RunService,
	opt pipeline.Optimizer,
	logger zerolog.Logger,
) http.Handler {
	mux := http.NewServeMux()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(reg, master, logger)
	rootHandler := handlers.NewRootHandler(logger)
	registryHandler := handlers.NewRegistryHandler(reg, logger)
	matrixHandler := handlers.NewMatrixHandler(reg, master, logger)
	runHandler := handlers.NewRunHandler(runs, opt, logger)

	// Core routes
	mux.HandleFunc("GET /{$}", rootHandler.Index)
	mux.HandleFunc("GET /api", rootHandler.Index)
	mux.HandleFunc("GET /health", healthHandler.Health)

	// Data routes
	mux.HandleFunc("GET /registry", registryHandler.Info)
	mux.HandleFunc("GET /matrix/status", matrixHandler.Status)
	mux.HandleFunc("POST /runs", runHandler.Create)

	mux.HandleFunc("/", rootHandler.NotFound)

	// Runs may wait on the optimizer
	timeout := defaultRequestTimeout
	if opt != nil && cfg.OptimizerTimeout+defaultRequestTimeout > timeout {
		timeout = cfg.OptimizerTimeout + defaultRequestTimeout
	}

	// Apply middleware stack
	handler := Chain(mux,
		Recovery(logger),
		Logging(logger),
		CORS,
		Timeout(timeout),
	)

	return handler
}
