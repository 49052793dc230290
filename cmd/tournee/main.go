// Package main is the tournee command line: acquire the master matrix, run
// the pipeline for a manifest, report the master's status.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/randytsao24/tournee/internal/acquire"
	"github.com/randytsao24/tournee/internal/config"
	"github.com/randytsao24/tournee/internal/extract"
	"github.com/randytsao24/tournee/internal/geo"
	"github.com/randytsao24/tournee/internal/logging"
	"github.com/randytsao24/tournee/internal/matrix"
	"github.com/randytsao24/tournee/internal/optimizer"
	"github.com/randytsao24/tournee/internal/ors"
	"github.com/randytsao24/tournee/internal/pipeline"
	"github.com/randytsao24/tournee/internal/registry"
)

// Exit codes
const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitAcquisition = 3
	exitConsistency = 4
)

var errUsage = errors.New("usage error")

const usage = `Usage: tournee [--config FILE] <command> [flags]

Commands:
  acquire   build and publish the master matrix for the whole registry
  run       reconcile a manifest and write the run's matrices
  status    compare the published master with the registry
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := pflag.NewFlagSet("tournee", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(stderr)
	global.Usage = func() {
		fmt.Fprint(stderr, usage)
		global.PrintDefaults()
	}
	configPath := global.String("config", "", "YAML or TOML config file (default $"+config.EnvConfigPath+")")

	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if global.NArg() == 0 {
		global.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, "Configuration error:", err)
		return exitError
	}
	logger := logging.New("tournee", logging.DefaultOptions(cfg.Env))

	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "acquire":
		err = runAcquire(ctx, cfg, rest, stdout, stderr, logger)
	case "run":
		err = runPipeline(ctx, cfg, rest, stdout, stderr, logger)
	case "status":
		err = runStatus(cfg, rest, stdout, stderr, logger)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		global.Usage()
		return exitUsage
	}

	code := exitCode(err)
	if err != nil && code != exitUsage {
		logger.Error().Err(err).Str("command", command).Int("exit_code", code).Msg("Command failed")
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		return exitUsage
	case errors.Is(err, acquire.ErrAcquisitionFailed):
		return exitAcquisition
	case errors.Is(err, extract.ErrIndexConsistency), errors.Is(err, pipeline.ErrRegistryDrift):
		return exitConsistency
	default:
		return exitError
	}
}

// pathFlags registers the path overrides shared by every command
func pathFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.RegistryPath, "registry", cfg.RegistryPath, "registry CSV")
	fs.StringVar(&cfg.MatrixDir, "matrix-dir", cfg.MatrixDir, "directory holding the master matrix")
}

func parseFlags(fs *pflag.FlagSet, args []string, stderr io.Writer) error {
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %s", errUsage, strings.Join(fs.Args(), " "))
	}
	return nil
}

func runAcquire(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer, logger zerolog.Logger) error {
	fs := pflag.NewFlagSet("acquire", pflag.ContinueOnError)
	pathFlags(fs, cfg)
	fs.StringVar(&cfg.Provider, "provider", cfg.Provider, "matrix provider: ors or haversine")
	planOnly := fs.Bool("plan", false, "print the batch plan and exit without requesting anything")
	if err := parseFlags(fs, args, stderr); err != nil {
		return err
	}

	reg, err := registry.Load(cfg.RegistryPath, logger)
	if err != nil {
		return err
	}

	if *planOnly {
		plan, err := acquire.Plan(reg.Len(), cfg.MaxRoutesPerRequest)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "locations: %d\nroutes: %d\nrows per batch: %d\nbatches: %d\n",
			plan.N, plan.N*plan.N, plan.RowsPerBatch, len(plan.Batches))
		return nil
	}

	if err := cfg.ValidateAcquire(); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	service, provider := matrixService(cfg, logger)
	acq := acquire.New(service, acquireOptions(cfg), logger)
	store := matrix.NewStore(cfg.MatrixDir, logger)

	snap, err := pipeline.RefreshMaster(ctx, reg, acq, provider, store, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "published %dx%d master from %s to %s\n", snap.Len(), snap.Len(), provider, cfg.MatrixDir)
	return nil
}

func matrixService(cfg *config.Config, logger zerolog.Logger) (acquire.MatrixService, string) {
	if cfg.Provider == config.ProviderHaversine {
		est := geo.NewEstimator(cfg.AverageSpeedKmh)
		return est, est.Name()
	}
	client := ors.NewClient(cfg.ORSAPIKey, cfg.ORSBaseURL, cfg.HTTPTimeout, logger)
	return client, client.Name()
}

func acquireOptions(cfg *config.Config) acquire.Options {
	return acquire.Options{
		MaxRoutes: cfg.MaxRoutesPerRequest,
		Retry: acquire.RetryPolicy{
			MaxAttempts:    cfg.MaxRetries,
			RateLimitBase:  cfg.RateLimitBackoff,
			TransientDelay: cfg.TransientBackoff,
			ErrorDelay:     cfg.ErrorBackoff,
		},
		Cooldown: cfg.BatchCooldown,
	}
}

func runPipeline(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer, logger zerolog.Logger) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	pathFlags(fs, cfg)
	manifestPath := fs.StringP("manifest", "m", "", "manifest CSV (name, address, postal code, city; no header)")
	fs.StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "directory for coord.csv, meters.csv and time.csv")
	optimize := fs.Bool("optimize", false, "run the optimizer on the written matrices")
	fs.StringVar(&cfg.OptimizerPath, "optimizer", cfg.OptimizerPath, "optimizer executable")
	strict := fs.Bool("strict", false, "fail when the master was acquired for a different registry")
	if err := parseFlags(fs, args, stderr); err != nil {
		return err
	}
	if *manifestPath == "" {
		return fmt.Errorf("%w: --manifest is required", errUsage)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	reg, err := registry.Load(cfg.RegistryPath, logger)
	if err != nil {
		return err
	}
	rows, err := registry.LoadManifest(*manifestPath)
	if err != nil {
		return err
	}

	store := matrix.NewStore(cfg.MatrixDir, logger)
	p := pipeline.New(reg, store, pipeline.Options{OutputDir: cfg.OutputDir, Strict: *strict}, logger)

	result, err := p.Execute(ctx, registry.Names(rows))
	if err != nil {
		return err
	}

	summary := result.Summary()
	fmt.Fprintf(stdout, "run %s\n", summary.RunID)
	fmt.Fprintf(stdout, "stops: %d (depot: %t, matrix size %d)\n", summary.Stops, summary.HasDepot, summary.Total)
	for _, f := range result.Reconciled.Unmatched {
		fmt.Fprintf(stdout, "unmatched: %s\n", f.Name)
	}
	for _, f := range result.Reconciled.Duplicates {
		fmt.Fprintf(stdout, "duplicate: %s\n", f.Name)
	}
	fmt.Fprintf(stdout, "wrote %s, %s, %s\n", result.Outputs.Coord, result.Outputs.Distance, result.Outputs.Duration)

	if *optimize {
		runner := optimizer.NewRunner(cfg.OptimizerPath, cfg.OptimizerTimeout, logger)
		if err := p.Optimize(ctx, result, runner); err != nil {
			return err
		}
		fmt.Fprint(stdout, result.Route)
	}
	return nil
}

func runStatus(cfg *config.Config, args []string, stdout, stderr io.Writer, logger zerolog.Logger) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	pathFlags(fs, cfg)
	if err := parseFlags(fs, args, stderr); err != nil {
		return err
	}

	reg, err := registry.Load(cfg.RegistryPath, logger)
	if err != nil {
		return err
	}
	status, err := pipeline.Status(reg, matrix.NewStore(cfg.MatrixDir, logger))
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "master: %d locations (registry: %d)\n", status.Locations, status.RegistrySize)
	fmt.Fprintf(stdout, "provider: %s\n", status.Provider)
	fmt.Fprintf(stdout, "acquired: %s\n", status.AcquiredAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(stdout, "fingerprint match: %t\n", status.FingerprintMatch)
	if !status.Ready() {
		fmt.Fprintf(stdout, "missing from master: %v\n", status.MissingKeys)
		return &extract.IndexConsistencyError{Missing: status.MissingKeys}
	}
	return nil
}
