// Package ingest runs the background market-data ingestion loop: it polls
// the provider for 5m candles over the union of all users' watchlists,
// merges them into the cache and periodically persists a snapshot.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/market"
	"github.com/quantive/signalscan/internal/provider"
)

// Config tunes the ingestion loop.
type Config struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	WarmupCount      int           `yaml:"warmup_count"`
	IncrementalLimit int           `yaml:"incremental_limit"`
	PersistPath      string        `yaml:"persist_path"`
	PersistEvery     int           `yaml:"persist_every_cycles"`
}

// DefaultConfig returns production ingestion defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     60 * time.Second,
		WarmupCount:      1500,
		IncrementalLimit: 50,
		PersistEvery:     5,
	}
}

// UniverseFunc yields the symbols to ingest this cycle.
type UniverseFunc func() []string

// Ingestor is the single long-running ingestion task. It is the only
// writer of the market cache.
type Ingestor struct {
	cfg      Config
	cache    *market.Cache
	primary  provider.Provider
	fallback provider.Provider
	universe UniverseFunc

	cycles int
}

// New creates an ingestor. fallback may be nil.
func New(cfg Config, cache *market.Cache, primary, fallback provider.Provider, universe UniverseFunc) *Ingestor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.WarmupCount <= 0 {
		cfg.WarmupCount = DefaultConfig().WarmupCount
	}
	if cfg.IncrementalLimit <= 0 {
		cfg.IncrementalLimit = DefaultConfig().IncrementalLimit
	}
	return &Ingestor{cfg: cfg, cache: cache, primary: primary, fallback: fallback, universe: universe}
}

// Run loops until ctx is cancelled. Provider errors are isolated
// per-symbol; nothing propagates out of the loop.
func (g *Ingestor) Run(ctx context.Context) {
	log.Info().Dur("poll_interval", g.cfg.PollInterval).
		Str("provider", g.primary.Name()).
		Msg("ingestor starting")

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	g.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			g.persist()
			log.Info().Msg("ingestor stopped")
			return
		case <-ticker.C:
			g.RunCycle(ctx)
		}
	}
}

// RunCycle performs one ingestion pass over the universe. Exported so the
// one-shot scan command can prime the cache without the loop.
func (g *Ingestor) RunCycle(ctx context.Context) {
	symbols := g.universe()
	start := time.Now()
	fetched, failed := 0, 0

	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		n, err := g.ingestSymbol(ctx, sym)
		if err != nil {
			failed++
			log.Warn().Err(err).Str("symbol", sym).Msg("ingest symbol failed")
			continue
		}
		fetched += n
	}

	g.cycles++
	if g.cfg.PersistPath != "" && g.cfg.PersistEvery > 0 && g.cycles%g.cfg.PersistEvery == 0 {
		g.persist()
	}

	log.Debug().Int("symbols", len(symbols)).Int("candles", fetched).
		Int("failed", failed).Dur("took", time.Since(start)).
		Msg("ingest cycle complete")
}

func (g *Ingestor) ingestSymbol(ctx context.Context, symbol string) (int, error) {
	last := g.cache.LastTimestamp(symbol)
	limit := g.cfg.IncrementalLimit
	since := last
	if last.IsZero() {
		limit = g.cfg.WarmupCount
		since = time.Time{}
	}

	cctx, cancel := context.WithTimeout(ctx, provider.DefaultTimeout)
	defer cancel()

	candles, err := g.primary.Candles(cctx, symbol, market.M5, limit, since)
	if err != nil && g.fallback != nil {
		log.Warn().Err(err).Str("symbol", symbol).
			Str("fallback", g.fallback.Name()).
			Msg("primary provider failed, using fallback")
		candles, err = g.fallback.Candles(cctx, symbol, market.M5, limit, since)
	}
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	g.cache.Upsert(symbol, candles)
	return len(candles), nil
}

func (g *Ingestor) persist() {
	if g.cfg.PersistPath == "" {
		return
	}
	if err := g.cache.SaveSnapshot(g.cfg.PersistPath); err != nil {
		log.Error().Err(err).Str("path", g.cfg.PersistPath).Msg("cache snapshot failed")
		return
	}
	log.Debug().Str("path", g.cfg.PersistPath).Msg("cache snapshot persisted")
}
