// Package cli implements the urlscan command.
package cli

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/censys/url-reputation/pkg/app"
	"github.com/censys/url-reputation/pkg/config"
	"github.com/censys/url-reputation/pkg/logging"
)

func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "urlscan",
		Short:         "urlscan: URL reputation scanner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().Int("verbosity", -1, "log verbosity (overrides LOG_LEVEL)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newHealthCmd())
	return cmd
}

// env is what every subcommand starts from.
type env struct {
	cfg    config.Config
	logger logr.Logger
	flush  func()
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Root().PersistentFlags().GetInt("verbosity"); v >= 0 {
		cfg.LogLevel = v
	}
	logger, flush, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, flush: flush}, nil
}

// buildApp wires the scanner for commands that do not serve; alerts are
// logged.
func buildApp(ctx context.Context, cmd *cobra.Command) (*app.App, func(), error) {
	e, err := loadEnv(cmd)
	if err != nil {
		return nil, nil, err
	}
	surface, release, err := app.OpenSurface(ctx, e.cfg, e.logger)
	if err != nil {
		e.flush()
		return nil, nil, err
	}
	a, err := app.New(ctx, e.cfg, surface, e.logger)
	if err != nil {
		release()
		e.flush()
		return nil, nil, fmt.Errorf("build app: %w", err)
	}
	return a, func() {
		a.Close()
		release()
		e.flush()
	}, nil
}
