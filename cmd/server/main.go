// Package main is the entry point for the tournee server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/randytsao24/tournee/internal/api"
	"github.com/randytsao24/tournee/internal/config"
	"github.com/randytsao24/tournee/internal/logging"
	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/optimizer"
	"github.com/randytsao24/tournee/internal/pipeline"
	"github.com/randytsao24/tournee/internal/registry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.String("config", "", "YAML or TOML config file (default $"+config.EnvConfigPath+")")
	port := pflag.String("port", "", "listen port, overrides PORT")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	logger := logging.New("tournee-server", logging.DefaultOptions(envOf(cfg)))
	if err != nil {
		logger.Fatal().Err(err).Msg("Configuration error")
	}
	if *port != "" {
		cfg.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Configuration error")
	}

	reg, err := registry.Load(cfg.RegistryPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.RegistryPath).Msg("Loading registry")
	}

	store := matrix.NewStore(cfg.MatrixDir, logger)
	master := matrix.NewCachedSource(store, cfg.CacheTTL)
	defer master.Close()

	if _, err := master.Master(); err != nil {
		// The server still answers /health and /registry; runs get 503
		logger.Warn().Err(err).Str("dir", cfg.MatrixDir).Msg("No usable master matrix, run `tournee acquire`")
	}

	runs := pipeline.New(reg, master, pipeline.Options{OutputDir: cfg.OutputDir, PerRunDir: true}, logger)

	var opt pipeline.Optimizer
	if cfg.OptimizerPath != "" {
		if _, err := exec.LookPath(cfg.OptimizerPath); err != nil {
			logger.Warn().Err(err).Str("path", cfg.OptimizerPath).Msg("Optimizer not found, ?optimize=true disabled")
		} else {
			opt = optimizer.NewRunner(cfg.OptimizerPath, cfg.OptimizerTimeout, logger)
		}
	}

	router := api.NewRouter(cfg, reg, master, runs, opt, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.OptimizerTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Shutdown")
		}
	}()

	logger.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Env).
		Int("locations", reg.Len()).
		Bool("optimizer", opt != nil).
		Msg("tournee server starting")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed to start")
	}
	logger.Info().Msg("Server stopped")
}

func envOf(cfg *config.Config) string {
	if cfg == nil {
		return config.Default().Env
	}
	return cfg.Env
}
