package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/explain"
	"github.com/quantive/signalscan/internal/governance"
	"github.com/quantive/signalscan/internal/metrics"
	"github.com/quantive/signalscan/internal/notify"
	"github.com/quantive/signalscan/internal/queue"
	"github.com/quantive/signalscan/internal/scan"
	"github.com/quantive/signalscan/internal/signals"
	"github.com/quantive/signalscan/internal/state"
	"github.com/quantive/signalscan/internal/strategy"
	"github.com/quantive/signalscan/internal/user"
)

// topHitsCap bounds the hit names copied into a metrics event.
const topHitsCap = 5

// CycleRunner executes one scan cycle across all users and their active
// symbols. It never returns an error: every failure is logged and the
// cycle moves on.
type CycleRunner struct {
	Engine     *scan.Engine
	Selector   *governance.Selector
	Signals    *signals.Store
	Queue      *queue.Queue
	Emitter    *metrics.Emitter
	Users      *user.Registry
	Strategies *StrategyManager

	CycleWarnMS int

	mu         sync.Mutex
	lastScanTS time.Time
	lastScanID string
}

// LastScan returns the timestamp and id of the most recent cycle.
func (c *CycleRunner) LastScan() (time.Time, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastScanTS, c.lastScanID
}

// Run executes one full cycle.
func (c *CycleRunner) Run(ctx context.Context) {
	c.RunFiltered(ctx, "", "")
}

// RunFiltered executes one cycle narrowed to a user and/or symbol; empty
// filters scan everything.
func (c *CycleRunner) RunFiltered(ctx context.Context, onlyUser, onlySymbol string) {
	scanID := uuid.NewString()
	start := time.Now()
	log.Info().Str("scan_id", scanID).Msg("scan cycle started")

	pairs, emitted := 0, 0
	for _, u := range c.Users.Users() {
		if onlyUser != "" && u.ID != onlyUser {
			continue
		}
		specs := c.Strategies.For(u.ID)
		for _, symbol := range u.ActiveSymbols() {
			if onlySymbol != "" && symbol != onlySymbol {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			pairs++
			if c.runPair(scanID, u, symbol, specs) {
				emitted++
			}
		}
	}

	c.Selector.Flush(true)

	c.mu.Lock()
	c.lastScanTS = start
	c.lastScanID = scanID
	c.mu.Unlock()

	elapsed := time.Since(start)
	ev := log.Info()
	if c.CycleWarnMS > 0 && elapsed > time.Duration(c.CycleWarnMS)*time.Millisecond {
		ev = log.Warn().Str("perf", "SCAN_CYCLE_WARN")
	}
	ev.Str("scan_id", scanID).Int("pairs", pairs).Int("signals", emitted).
		Dur("elapsed", elapsed).Msg("scan cycle finished")
}

// runPair evaluates one (user, symbol) and handles the outcome end to
// end: governance, persistence, enqueue, explain, metrics. Exactly one
// metrics event goes out per outcome. Returns true when a signal was
// emitted.
func (c *CycleRunner) runPair(scanID string, u user.User, symbol string, specs []strategy.Spec) bool {
	result := c.Engine.EvaluatePair(scanID, u, symbol, specs)
	now := time.Now().UTC()

	if !result.HasCandidates() {
		exp := explain.BuildPairNone(symbol, result.EntryTF, scanID, "", result.Reason, result.Details, result.Evidence)
		log.Debug().Str("symbol", symbol).Str("user", u.ID).Str("reason", exp.Reason).Msg("pair produced no setup")
		c.Emitter.Emit(metrics.Event{
			TS: now, ScanID: scanID, Symbol: symbol, TF: result.EntryTF,
			Status: explain.StatusNone, Reason: result.Reason,
			Regime: result.Regime.Regime, Candidates: 0,
		})
		return false
	}

	decision := c.Selector.Select(result.Candidates, now, u.TZOffsetHours)
	if decision.Accepted == nil {
		metrics.GovernanceBlocks.WithLabelValues(decision.Reason).Inc()
		c.Emitter.Emit(metrics.Event{
			TS: now, ScanID: scanID, Symbol: symbol, TF: result.EntryTF,
			StrategyID:              decision.BlockedWinnerStrategyID,
			Status:                  explain.StatusNone,
			Reason:                  decision.Reason,
			Regime:                  result.Regime.Regime,
			Candidates:              len(result.Candidates),
			BlockedWinnerStrategyID: decision.BlockedWinnerStrategyID,
			BlockedReason:           decision.BlockedReason,
		})
		return false
	}

	cand := decision.Accepted
	c.Selector.Commit(cand, now, u.TZOffsetHours)

	signalID := uuid.NewString()
	exp := explain.BuildPairOK(symbol, string(cand.Strategy.EntryTF), scanID, cand.Strategy.StrategyID,
		cand.Score, cand.Setup.RR, evidenceMap(cand.Setup.Evidence), nil)
	sig := signals.NewSignal(signalID, scanID, u.ID, cand, exp, now)

	if err := c.Signals.Append(sig); err != nil {
		log.Error().Err(err).Str("signal_id", signalID).Msg("signal append failed")
	} else {
		metrics.SignalsEmitted.Inc()
	}

	setupKey := state.Key(symbol, string(cand.Strategy.EntryTF), cand.Strategy.StrategyID, string(cand.Setup.Direction))
	if _, err := c.Queue.Enqueue(symbol, string(cand.Strategy.EntryTF), "signal", setupKey, notify.SignalPayload{
		SignalID:   signalID,
		UserID:     u.ID,
		Symbol:     symbol,
		TF:         string(cand.Strategy.EntryTF),
		Direction:  string(cand.Setup.Direction),
		Entry:      cand.Setup.Entry,
		SL:         cand.Setup.SL,
		TP:         cand.Setup.TP,
		RR:         cand.Setup.RR,
		Score:      cand.Score,
		StrategyID: cand.Strategy.StrategyID,
	}); err != nil {
		log.Error().Err(err).Str("signal_id", signalID).Msg("signal enqueue failed")
	}

	c.Emitter.Emit(metrics.Event{
		TS: now, ScanID: scanID, Symbol: symbol, TF: string(cand.Strategy.EntryTF),
		StrategyID:              cand.Strategy.StrategyID,
		Status:                  explain.StatusOK,
		Reason:                  explain.ReasonOK,
		Score:                   cand.Score,
		RR:                      cand.Setup.RR,
		Regime:                  result.Regime.Regime,
		Candidates:              len(result.Candidates),
		FailoverUsed:            decision.UsedFailover,
		ParamsDigest:            cand.ParamsDigest,
		TopHits:                 topHits(cand),
		HitCount:                len(cand.Hits),
		BlockedWinnerStrategyID: decision.BlockedWinnerStrategyID,
		BlockedReason:           decision.BlockedReason,
	})

	log.Info().Str("signal_id", signalID).Str("symbol", symbol).Str("user", u.ID).
		Str("strategy", cand.Strategy.StrategyID).Str("direction", string(cand.Setup.Direction)).
		Float64("score", cand.Score).Float64("rr", cand.Setup.RR).
		Bool("failover", decision.UsedFailover).Msg("signal emitted")
	return true
}

func topHits(c *scan.Candidate) []string {
	n := len(c.Hits)
	if n > topHitsCap {
		n = topHitsCap
	}
	out := make([]string, 0, n)
	for _, h := range c.Hits[:n] {
		out = append(out, h.Name)
	}
	return out
}

func evidenceMap(ev map[string]float64) map[string]any {
	if ev == nil {
		return nil
	}
	out := make(map[string]any, len(ev))
	for k, v := range ev {
		out[k] = v
	}
	return out
}
