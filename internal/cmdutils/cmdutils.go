package cmdutils

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/health"
	"github.com/openkcm/common-sdk/pkg/logger"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/openkcm/common-sdk/pkg/status"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-gateway/internal/business"
	"github.com/openkcm/session-gateway/internal/config"
)

const healthStatusTimeout = 5 * time.Second

// configPaths are searched in order for config.yaml.
var configPaths = []string{"/etc/session-gateway", "$HOME/.session-gateway", "."}

// BusinessFunc is the work a command does once the gateway is configured.
type BusinessFunc func(context.Context, *config.Config) error

// Runner prepares the process around a BusinessFunc and runs it.
type Runner func(context.Context, func(context.Context, *config.Config) error, *config.Config) error

type runMode struct {
	name         string
	telemetry    bool
	statusServer bool
}

func CobraCommand(use, short, long, buildInfo string, runner Runner, fn BusinessFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(buildInfo)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if err := runner(cmd.Context(), fn, cfg); err != nil {
				return fmt.Errorf("running %s: %w", use, err)
			}

			return nil
		},
	}
}

// RunAsService runs fn with telemetry and the status server.
func RunAsService(ctx context.Context, fn func(context.Context, *config.Config) error, cfg *config.Config) error {
	return run(ctx, runMode{name: "service", telemetry: true, statusServer: true}, fn, cfg)
}

// RunAsJob runs fn with logging only.
func RunAsJob(ctx context.Context, fn func(context.Context, *config.Config) error, cfg *config.Config) error {
	return run(ctx, runMode{name: "job"}, fn, cfg)
}

func run(ctx context.Context, mode runMode, fn func(context.Context, *config.Config) error, cfg *config.Config) error {
	errs := oops.In("cmdutils").With("mode", mode.name)

	if err := logger.InitAsDefault(cfg.Logger, cfg.Application); err != nil {
		return errs.Wrapf(err, "initialising the logger")
	}
	slogctx.Debug(ctx, "Starting the gateway", slog.String("mode", mode.name), slog.Any("config", cfg))

	if mode.telemetry {
		if err := otlp.Init(ctx, &cfg.Application, &cfg.Telemetry, &cfg.Logger); err != nil {
			return errs.Wrapf(err, "initialising telemetry")
		}
	}

	if mode.statusServer {
		go func() {
			if err := startStatusServer(ctx, cfg); err != nil {
				slogctx.Error(ctx, "Status server stopped", "error", err)
				_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			}
		}()
	}

	if err := fn(ctx, cfg); err != nil {
		return errs.Wrapf(err, "running the gateway")
	}

	return nil
}

func loadConfig(buildInfo string) (*config.Config, error) {
	cfg := &config.Config{}

	if err := commoncfg.LoadConfig(cfg, map[string]any{}, configPaths...); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	if err := commoncfg.UpdateConfigVersion(&cfg.BaseConfig, buildInfo); err != nil {
		return nil, fmt.Errorf("updating the version configuration: %w", err)
	}

	return cfg, nil
}

// readinessOptions registers a health check per dependency of the gateway.
func readinessOptions(cfg *config.Config) (_ []health.Option, closeFn func(), _ error) {
	checks, closeFn, err := business.ReadinessChecks(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("loading readiness checks: %w", err)
	}

	opts := []health.Option{
		health.WithDisabledAutostart(),
		health.WithTimeout(healthStatusTimeout),
		health.WithStatusListener(statusListener),
	}
	for _, c := range checks {
		opts = append(opts, health.WithCheck(health.Check{
			Name:  c.Name,
			Check: c.Check,
		}))
	}

	return opts, closeFn, nil
}

func startStatusServer(ctx context.Context, cfg *config.Config) error {
	readinessOpts, closeFn, err := readinessOptions(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	liveness := status.WithLiveness(
		health.NewHandler(health.NewChecker(health.WithDisabledAutostart())),
	)
	readiness := status.WithReadiness(
		health.NewHandler(health.NewChecker(readinessOpts...)),
	)

	if err := status.Start(ctx, &cfg.BaseConfig, liveness, readiness); err != nil {
		return fmt.Errorf("starting status server: %w", err)
	}

	return nil
}

func statusListener(ctx context.Context, state health.State) {
	attrs := []any{"status", state.Status}
	for name, check := range state.CheckState {
		attrs = append(attrs, slog.Group(name, "status", check.Status, "error", check.Result))
	}

	slogctx.Info(ctx, "readiness status changed", attrs...)
}
