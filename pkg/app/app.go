// Package app assembles the scanner from configuration. Both binaries build
// the same graph: repository, ledger, cache, providers, alert gateway and
// orchestrator.
package app

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/censys/url-reputation/pkg/alert"
	"github.com/censys/url-reputation/pkg/cache"
	"github.com/censys/url-reputation/pkg/config"
	"github.com/censys/url-reputation/pkg/credential"
	"github.com/censys/url-reputation/pkg/history"
	"github.com/censys/url-reputation/pkg/provider"
	"github.com/censys/url-reputation/pkg/provider/classifier"
	"github.com/censys/url-reputation/pkg/provider/virustotal"
	"github.com/censys/url-reputation/pkg/scan"
	"github.com/censys/url-reputation/pkg/storage"
	"github.com/censys/url-reputation/pkg/storage/memory"
	pgstore "github.com/censys/url-reputation/pkg/storage/postgres"
	"github.com/censys/url-reputation/pkg/storage/sqlite"
)

// App holds the wired components.
type App struct {
	Config       config.Config
	Logger       logr.Logger
	Repo         storage.Repository
	Ledger       *history.Ledger
	Cache        *cache.Cache
	Ready        *credential.Signal
	APIKey       *credential.Key
	Signatures   *virustotal.Client
	Classifier   *classifier.Client
	Gateway      *alert.Gateway
	Orchestrator *scan.Orchestrator

	closers []func()
}

// HealthReport is the readiness signal plus every provider's health.
type HealthReport struct {
	Ready     bool              `json:"ready"`
	Providers []provider.Health `json:"providers"`
}

// New opens the configured store and wires every component on top of it.
// Alerts go to surface. The credential is validated once before New returns.
func New(ctx context.Context, cfg config.Config, surface alert.Surface, logger logr.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Ready:  credential.NewSignal(false),
		APIKey: credential.NewKey(cfg.VTAPIKey),
	}

	repo, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Repo = repo

	filter, err := scan.NewFilter(cfg.TrustedDomains)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("trusted domains: %w", err)
	}

	a.Ledger = history.NewLedger(repo, cfg.HistoryCap)
	a.Cache = cache.New(repo, a.Ledger, cache.WithFreshFor(cfg.FreshFor))
	a.Signatures = virustotal.New(virustotal.Config{
		BaseURL: cfg.VTBaseURL,
		APIKey:  a.APIKey.Get,
	}, logger)
	a.Classifier = classifier.New(cfg.ClassifierURL, cfg.ClassifierTimeout, logger,
		classifier.WithScale(cfg.ClassifierScale))
	a.Gateway = alert.NewGateway(surface, logger.WithName("alerts"))
	a.Orchestrator = scan.New(
		a.Cache,
		[]provider.Client{a.Signatures, a.Classifier},
		a.Gateway,
		a.Ready,
		logger.WithName("scan"),
		scan.WithFilter(filter),
	)

	a.RefreshCredential(ctx)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (storage.Repository, error) {
	switch a.Config.Store {
	case config.StorePostgres:
		pool, err := pgstore.NewDB(ctx, a.Config.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db schema: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return pgstore.NewRepository(pool), nil
	case config.StoreSQLite:
		repo, err := sqlite.Open(a.Config.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := repo.Close(); err != nil {
				a.Logger.Error(err, "Closing sqlite store failed")
			}
		})
		return repo, nil
	default:
		return memory.NewRepository(), nil
	}
}

// RefreshCredential re-validates the signature aggregator key and updates
// the readiness signal.
func (a *App) RefreshCredential(ctx context.Context) bool {
	return credential.Refresh(ctx, a.Signatures, a.Ready, a.Logger.WithName("credential"))
}

// SetAPIKey replaces the signature aggregator key and re-validates it. The
// providers use the new key from their next query on.
func (a *App) SetAPIKey(ctx context.Context, key string) bool {
	a.APIKey.Set(key)
	return a.RefreshCredential(ctx)
}

// Health probes both providers concurrently.
func (a *App) Health(ctx context.Context) HealthReport {
	return HealthReport{
		Ready:     a.Ready.Ready(),
		Providers: provider.CheckAll(ctx, a.Signatures, a.Classifier),
	}
}

// Close releases the store. It is safe to call more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
