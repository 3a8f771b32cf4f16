// Package app is the composition root: it builds every component from
// configuration and runs the daemon, worker and one-shot modes.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/api"
	"github.com/quantive/signalscan/internal/atomicio"
	"github.com/quantive/signalscan/internal/config"
	"github.com/quantive/signalscan/internal/detect"
	"github.com/quantive/signalscan/internal/explain"
	"github.com/quantive/signalscan/internal/governance"
	"github.com/quantive/signalscan/internal/health"
	"github.com/quantive/signalscan/internal/ingest"
	"github.com/quantive/signalscan/internal/market"
	"github.com/quantive/signalscan/internal/metrics"
	"github.com/quantive/signalscan/internal/notify"
	"github.com/quantive/signalscan/internal/patch"
	"github.com/quantive/signalscan/internal/provider"
	"github.com/quantive/signalscan/internal/queue"
	"github.com/quantive/signalscan/internal/scan"
	"github.com/quantive/signalscan/internal/sched"
	"github.com/quantive/signalscan/internal/signals"
	"github.com/quantive/signalscan/internal/state"
	"github.com/quantive/signalscan/internal/strategy"
	"github.com/quantive/signalscan/internal/user"
)

// providerRPS is the outbound rate limit on market-data calls.
const providerRPS = 5

// App holds the wired system.
type App struct {
	Cfg *config.Config

	Cache      *market.Cache
	Users      *user.Registry
	Detectors  *detect.Registry
	Strategies *StrategyManager
	State      *state.Store
	Queue      *queue.Queue
	Signals    *signals.Store
	Emitter    *metrics.Emitter
	Patches    *patch.Registry
	PatchEng   *patch.Engine

	Ingestor  *ingest.Ingestor
	Runner    *CycleRunner
	Scheduler *sched.Scheduler
	Worker    *notify.Worker
	Server    *api.Server
	Health    *health.Checker

	started time.Time
}

// New builds the application. The only fatal boot errors are an
// uncreatable state directory and, under STRICT_STARTUP, an empty
// detector registry.
func New(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir %s: %w", cfg.StateDir, err)
	}
	if n := atomicio.PurgeTemp(cfg.StateDir); n > 0 {
		log.Info().Int("purged", n).Msg("removed stale temp files")
	}

	a := &App{Cfg: cfg, started: time.Now()}

	a.Detectors = detect.Builtin()
	if a.Detectors.Len() == 0 && cfg.StrictStartup {
		return nil, fmt.Errorf("NO_DETECTORS_LOADED")
	}

	a.Cache = market.NewCache(0)
	if err := a.Cache.LoadSnapshot(cfg.MarketCachePath); err != nil {
		log.Warn().Err(err).Str("path", cfg.MarketCachePath).Msg("market snapshot not loaded")
	}

	users, err := user.Load(cfg.UsersFile)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.UsersFile).Msg("users file not loaded, running with empty registry")
		users = user.NewRegistry()
	}
	a.Users = users

	aliases := map[string]string{}
	if cfg.DetectorAliasesPath != "" {
		if m, err := strategy.LoadAliases(cfg.DetectorAliasesPath); err != nil {
			log.Warn().Err(err).Str("path", cfg.DetectorAliasesPath).Msg("alias file not loaded")
		} else {
			aliases = m
		}
	}
	resolver := strategy.NewResolver(a.Detectors.Names(), aliases)

	a.Patches, err = patch.OpenRegistry(cfg.PatchSuggestionsPath)
	if err != nil {
		return nil, err
	}

	a.Strategies = NewStrategyManager(cfg.UserStrategiesDir, resolver, strategy.LoaderConfig{
		PresetsDir:       cfg.PresetsDir,
		AliasesPath:      cfg.DetectorAliasesPath,
		StrictDetectors:  cfg.StrictStrategyDetectors,
		AutofixThreshold: cfg.AutofixThreshold,
	}, a.Patches)
	a.Strategies.Reload(a.Users.Users())

	a.PatchEng = &patch.Engine{
		Registry:  a.Patches,
		AuditPath: cfg.PatchAuditPath,
		Validate:  a.Strategies.ValidateFile,
	}

	a.State, err = state.Open(filepath.Join(cfg.StateDir, "signal_state.json"))
	if err != nil {
		return nil, err
	}
	a.State.Prune(0, time.Now())

	a.Queue, err = queue.Open(cfg.QueueDBPath)
	if err != nil {
		return nil, err
	}

	a.Signals = signals.NewStore(cfg.SignalsLegacyPath, cfg.SignalsPublicPath)
	a.Emitter = metrics.NewEmitter(cfg.MetricsEventsPath)

	primary, err := provider.New(cfg.Provider, cfg.ProviderBaseURL)
	if err != nil {
		return nil, err
	}
	resilient := provider.NewResilient(primary, providerRPS)
	var fallback provider.Provider
	if cfg.FallbackProvider != "" {
		fb, err := provider.New(cfg.FallbackProvider, cfg.ProviderBaseURL)
		if err != nil {
			return nil, err
		}
		fallback = fb
	}

	a.Ingestor = ingest.New(ingest.Config{
		PollInterval:     time.Duration(cfg.PollIntervalSec) * time.Second,
		WarmupCount:      cfg.WarmupCount,
		IncrementalLimit: cfg.IncrementalLimit,
		PersistPath:      cfg.MarketCachePath,
		PersistEvery:     cfg.PersistEveryCycles,
	}, a.Cache, resilient, fallback, a.Users.Universe)

	engine := scan.NewEngine(scan.Config{
		DetectorWarnMS: cfg.DetectorWarnMS,
		PairWarnMS:     cfg.PairWarnMS,
	}, a.Cache, a.Detectors)
	selector := governance.NewSelector(governance.Config{
		FailoverOnBlock:         cfg.StrategyFailoverOnBlock,
		CooldownMinutesOverride: cfg.SignalCooldownMinutes,
		DailyLimitOverride:      cfg.DailyLimitPerSymbol,
	}, a.State)

	a.Runner = &CycleRunner{
		Engine:      engine,
		Selector:    selector,
		Signals:     a.Signals,
		Queue:       a.Queue,
		Emitter:     a.Emitter,
		Users:       a.Users,
		Strategies:  a.Strategies,
		CycleWarnMS: cfg.ScanCycleWarnMS,
	}

	a.Scheduler = sched.New(sched.Config{
		Interval:     cfg.ScanInterval(),
		MisfireGrace: cfg.MisfireGrace(),
	}, a.Runner.Run)

	workerCfg := notify.DefaultWorkerConfig()
	workerCfg.Mode = cfg.NotifyMode
	workerCfg.DeliveryCooldown = time.Duration(cfg.SignalCooldownMinutes) * time.Minute
	a.Worker = notify.NewWorker(workerCfg, a.Queue, a.Users, notify.NewTelegram(cfg.TelegramBotToken))

	a.Health = &health.Checker{
		AppVersion:      cfg.AppVersion,
		GitSHA:          cfg.GitSHA,
		Started:         a.started,
		Strategies:      a.Strategies.Health,
		LastScan:        a.Runner.LastScan,
		MetricsFileSize: a.Emitter.FileSize,
		PatchAuditSize:  a.PatchEng.AuditFileSize,
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.HTTPAddr
	a.Server = api.NewServer(serverCfg, api.Deps{
		Cache:     a.Cache,
		Signals:   a.Signals,
		Detectors: a.Detectors,
		Users:     a.Users,
		Health:    a.Health,
		Scheduler: a.Scheduler,
		Strategies: func() []strategy.Spec {
			return a.Strategies.All()
		},
		ReloadStrategies: func(body []byte) []string {
			return a.Strategies.ReplaceShared(body, a.Users.Users())
		},
	})

	return a, nil
}

// Banner returns the boot banner for this build.
func (a *App) Banner() health.BannerInfo {
	return health.BannerInfo{
		AppVersion:     a.Cfg.AppVersion,
		GitSHA:         a.Cfg.GitSHA,
		StrategySchema: strategy.PackSchemaVersion,
		ExplainSchema:  explain.SchemaVersion,
		MetricsSchema:  metrics.SchemaVersion,
		Detectors:      a.Detectors.Len(),
		PresetsDir:     a.Cfg.PresetsDir,
		NotifyMode:     a.Cfg.NotifyMode,
		Provider:       a.Cfg.Provider,
	}
}

// Serve runs the full daemon: ingestor, scheduler, worker and API.
func (a *App) Serve(ctx context.Context) error {
	a.Banner().Log()
	fmt.Println(a.Banner().Banner())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.Ingestor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Scheduler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = a.Worker.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = a.Server.Shutdown(shutdownCtx)
	wg.Wait()
	a.shutdown()
	return nil
}

// ServeWorker runs only the notification worker against the shared
// queue database.
func (a *App) ServeWorker(ctx context.Context) error {
	a.Banner().Log()
	err := a.Worker.Run(ctx)
	a.shutdown()
	if err == context.Canceled {
		return nil
	}
	return err
}

// ScanOnce warms the cache for the universe and runs a single cycle,
// optionally narrowed to one user and/or symbol.
func (a *App) ScanOnce(ctx context.Context, onlyUser, onlySymbol string) error {
	a.Banner().Log()
	a.Ingestor.RunCycle(ctx)
	a.Runner.RunFiltered(ctx, onlyUser, onlySymbol)
	a.shutdown()
	return nil
}

func (a *App) shutdown() {
	if err := a.State.Flush(true); err != nil {
		log.Error().Err(err).Msg("state flush on shutdown failed")
	}
	if err := a.Cache.SaveSnapshot(a.Cfg.MarketCachePath); err != nil {
		log.Error().Err(err).Msg("cache snapshot on shutdown failed")
	}
	if err := a.Queue.Close(); err != nil {
		log.Error().Err(err).Msg("queue close failed")
	}
}
