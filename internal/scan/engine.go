package scan

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/detect"
	"github.com/quantive/signalscan/internal/explain"
	"github.com/quantive/signalscan/internal/market"
	"github.com/quantive/signalscan/internal/regime"
	"github.com/quantive/signalscan/internal/strategy"
	"github.com/quantive/signalscan/internal/user"
)

// Config tunes the engine's readiness thresholds and perf warnings.
type Config struct {
	MinTrendBars   int
	MinEntryBars   int
	DetectorWarnMS int
	PairWarnMS     int
}

// DefaultConfig returns the production engine thresholds.
func DefaultConfig() Config {
	return Config{
		MinTrendBars:   60,
		MinEntryBars:   200,
		DetectorWarnMS: 250,
		PairWarnMS:     2000,
	}
}

// Engine evaluates strategies for one (user, symbol) pair. It only reads
// the market cache; detectors are pure over their context, so pairs may be
// evaluated concurrently within a cycle.
type Engine struct {
	cfg      Config
	cache    *market.Cache
	registry *detect.Registry
}

// NewEngine creates a scan engine over the shared cache and registry.
func NewEngine(cfg Config, cache *market.Cache, registry *detect.Registry) *Engine {
	if cfg.MinTrendBars <= 0 {
		cfg.MinTrendBars = DefaultConfig().MinTrendBars
	}
	if cfg.MinEntryBars <= 0 {
		cfg.MinEntryBars = DefaultConfig().MinEntryBars
	}
	return &Engine{cfg: cfg, cache: cache, registry: registry}
}

// EvaluatePair runs the pipeline for one (user, symbol) across the given
// strategies and returns ranked candidates or a reason-coded NONE result.
// Detector iteration order follows each strategy's allow-list; candidate
// ranking tie-breaks by strategy_id ascending. Deterministic given
// identical cache content and strategies.
func (e *Engine) EvaluatePair(scanID string, u user.User, symbol string, strategies []strategy.Spec) PairResult {
	start := time.Now()
	res := PairResult{
		ScanID:    scanID,
		UserID:    u.ID,
		Symbol:    symbol,
		TimingsMS: map[string]float64{},
	}

	if len(strategies) == 0 {
		res.Reason = explain.ReasonNoStrategy
		res.Details = map[string]any{"strategies": 0}
		return res
	}

	// Surface timeframes from the first strategy for reporting; each
	// strategy still evaluates against its own pair of timeframes.
	res.TrendTF = string(strategies[0].TrendTF)
	res.EntryTF = string(strategies[0].EntryTF)

	if e.cache.Len(symbol) == 0 {
		res.Reason = explain.ReasonNoM5
		res.Details = map[string]any{"have_m5": 0}
		return res
	}

	// Regime is classified once per pair on the first strategy's trend
	// timeframe; strategies sharing it (the common case) reuse the result.
	regimeByTF := map[market.Timeframe]regime.Result{}

	bestFail := StrategyOutcome{Reason: explain.ReasonNoStrategy}
	bestDepth := -1
	recordFail := func(o StrategyOutcome) {
		res.Failures = append(res.Failures, o)
		if d := reasonDepth[o.Reason]; d > bestDepth {
			bestDepth = d
			bestFail = o
		}
	}

	for _, spec := range strategies {
		outcome, cand := e.evaluateStrategy(symbol, &spec, regimeByTF, res.TimingsMS)
		if cand != nil {
			res.Candidates = append(res.Candidates, *cand)
			continue
		}
		recordFail(outcome)
	}

	// The pair-level regime is the one seen by the first strategy.
	if r, ok := regimeByTF[strategies[0].TrendTF]; ok {
		res.Regime = r
	}

	rankCandidates(res.Candidates)

	if len(res.Candidates) == 0 {
		res.Reason = bestFail.Reason
		res.Details = bestFail.Details
		res.Evidence = bestFail.Evidence
	}

	took := time.Since(start)
	res.TimingsMS["pair_total"] = float64(took.Microseconds()) / 1000
	if e.cfg.PairWarnMS > 0 && took > time.Duration(e.cfg.PairWarnMS)*time.Millisecond {
		log.Warn().Str("event", "PERF_WARN").Str("symbol", symbol).
			Str("user", u.ID).Dur("took", took).Msg("slow pair evaluation")
	}
	return res
}

func (e *Engine) evaluateStrategy(symbol string, spec *strategy.Spec, regimeByTF map[market.Timeframe]regime.Result, timings map[string]float64) (StrategyOutcome, *Candidate) {
	fail := func(reason string, details, evidence map[string]any) (StrategyOutcome, *Candidate) {
		return StrategyOutcome{StrategyID: spec.StrategyID, Reason: reason, Details: details, Evidence: evidence}, nil
	}

	// Data readiness on both timeframes.
	trendCandles := e.cache.Resampled(symbol, spec.TrendTF)
	entryCandles := e.cache.Resampled(symbol, spec.EntryTF)
	if len(trendCandles) < e.cfg.MinTrendBars || len(entryCandles) < e.cfg.MinEntryBars {
		return fail(explain.ReasonDataGap, map[string]any{
			fmt.Sprintf("have_%s", strings.ToLower(string(spec.TrendTF))): len(trendCandles),
			fmt.Sprintf("need_%s", strings.ToLower(string(spec.TrendTF))): e.cfg.MinTrendBars,
			fmt.Sprintf("have_%s", strings.ToLower(string(spec.EntryTF))): len(entryCandles),
			fmt.Sprintf("need_%s", strings.ToLower(string(spec.EntryTF))): e.cfg.MinEntryBars,
		}, nil)
	}

	// Regime classification, cached per trend timeframe within the pair.
	reg, ok := regimeByTF[spec.TrendTF]
	if !ok {
		reg = regime.Classify(trendCandles)
		regimeByTF[spec.TrendTF] = reg
	}
	if !spec.AllowsRegime(reg.Regime) {
		return fail(explain.ReasonRegimeBlocked, map[string]any{
			"regime":          reg.Regime,
			"allowed_regimes": spec.AllowedRegimes,
		}, nil)
	}

	if len(spec.Detectors) == 0 {
		return fail(explain.ReasonNoHits, map[string]any{"detectors": 0}, nil)
	}

	// Detector execution in allow-list order.
	var hits []detect.Hit
	families := map[string]string{}
	available := 0
	for _, name := range spec.Detectors {
		d, ok := e.registry.Get(name)
		if !ok {
			// Loader drops unknowns; a miss here means the registry shrank
			// after load.
			log.Warn().Str("detector", name).Str("strategy", spec.StrategyID).
				Msg("detector missing from registry at scan time")
			continue
		}
		available++
		families[name] = d.Family()

		dctx := detect.Context{
			Symbol:       symbol,
			EntryCandles: entryCandles,
			TrendCandles: trendCandles,
			Regime:       reg.Regime,
			Params:       spec.MergedParams(name, d.Family()),
		}
		t0 := time.Now()
		hit, found := d.Detect(dctx)
		took := time.Since(t0)
		timings[name] = float64(took.Microseconds()) / 1000
		if e.cfg.DetectorWarnMS > 0 && took > time.Duration(e.cfg.DetectorWarnMS)*time.Millisecond {
			log.Warn().Str("event", "PERF_WARN").Str("detector", name).
				Str("symbol", symbol).Dur("took", took).Msg("slow detector")
		}
		if found {
			hit.Strength = clampStrength(hit.Strength)
			hits = append(hits, hit)
		}
	}
	if available == 0 {
		return fail(explain.ReasonNoDetectorsForRegime, map[string]any{"allow_list": spec.Detectors}, nil)
	}
	if len(hits) == 0 {
		return fail(explain.ReasonNoHits, map[string]any{"detectors_run": available}, nil)
	}

	// Scoring with per-side confluence bonus.
	scoreBuy, scoreSell := e.score(spec, hits, families)
	best := detect.Buy
	bestScore := scoreBuy
	if scoreSell > scoreBuy {
		best, bestScore = detect.Sell, scoreSell
	}
	if math.Abs(scoreBuy-scoreSell) < spec.Epsilon {
		return fail(explain.ReasonConflictScore, map[string]any{
			"score_buy":  scoreBuy,
			"score_sell": scoreSell,
			"epsilon":    spec.Epsilon,
		}, nil)
	}
	if bestScore < spec.MinScore {
		return fail(explain.ReasonScoreBelowMin, map[string]any{
			"score":     bestScore,
			"min_score": spec.MinScore,
			"side":      string(best),
		}, nil)
	}

	setup, ok := buildSetup(symbol, best, entryCandles, sideHits(hits, best))
	if !ok {
		return fail(explain.ReasonSetupBuildFailed, map[string]any{"side": string(best)}, nil)
	}
	if setup.RR < spec.MinRR {
		zoneWidthPct := 0.0
		if setup.Entry > 0 {
			zoneWidthPct = (setup.EntryZoneHigh - setup.EntryZoneLow) / setup.Entry * 100
		}
		return fail(explain.ReasonRRBelowMin, map[string]any{
			"rr":     setup.RR,
			"min_rr": spec.MinRR,
		}, map[string]any{
			"setup_fail": map[string]any{
				"rr":                   setup.RR,
				"min_rr":               spec.MinRR,
				"entry_zone":           []float64{setup.EntryZoneLow, setup.EntryZoneHigh},
				"entry_zone_width_pct": zoneWidthPct,
				"sl_dist":              setup.Evidence["sl_dist"],
				"tp_dist":              setup.Evidence["tp_dist"],
			},
		})
	}

	return StrategyOutcome{}, &Candidate{
		Strategy:     *spec,
		Setup:        setup,
		Score:        bestScore,
		ScoreBuy:     scoreBuy,
		ScoreSell:    scoreSell,
		Hits:         hits,
		TimingsMS:    timings,
		ParamsDigest: paramsDigest(spec),
	}
}

// score computes the per-side weighted sums plus the confluence bonus
// family_bonus x distinct families with hits on that side.
func (e *Engine) score(spec *strategy.Spec, hits []detect.Hit, families map[string]string) (buy, sell float64) {
	famBuy := map[string]struct{}{}
	famSell := map[string]struct{}{}
	for _, h := range hits {
		w := spec.DetectorWeight(h.Name, families[h.Name])
		if h.Side == detect.Buy {
			buy += w * h.Strength
			famBuy[families[h.Name]] = struct{}{}
		} else {
			sell += w * h.Strength
			famSell[families[h.Name]] = struct{}{}
		}
	}
	buy += spec.FamilyBonus * float64(len(famBuy))
	sell += spec.FamilyBonus * float64(len(famSell))
	return buy, sell
}

func sideHits(hits []detect.Hit, side detect.Side) []detect.Hit {
	var out []detect.Hit
	for _, h := range hits {
		if h.Side == side {
			out = append(out, h)
		}
	}
	return out
}

func clampStrength(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// paramsDigest is a stable SHA1 over the strategy's effective scoring
// inputs: sorted keys, fixed formatting, no map iteration order.
func paramsDigest(spec *strategy.Spec) string {
	var b strings.Builder
	b.WriteString(spec.StrategyID)
	fmt.Fprintf(&b, "|rr=%.6f|score=%.6f|eps=%.6f|bonus=%.6f", spec.MinRR, spec.MinScore, spec.Epsilon, spec.FamilyBonus)
	b.WriteString("|det=" + strings.Join(spec.Detectors, ","))
	writeSortedMap(&b, "w", spec.Weights)
	writeSortedMap(&b, "o", spec.DetectorWeightOverrides)
	for _, group := range sortedGroupKeys(spec.DetectorParams) {
		writeSortedMap(&b, "dp."+group, spec.DetectorParams[group])
	}
	for _, group := range sortedGroupKeys(spec.FamilyParams) {
		writeSortedMap(&b, "fp."+group, spec.FamilyParams[group])
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeSortedMap(b *strings.Builder, prefix string, m map[string]float64) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "|%s.%s=%.6f", prefix, k, m[k])
	}
}

func sortedGroupKeys(m map[string]map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
