// Package governance gates ranked scan candidates against cooldown, daily
// limit and conflict rules, with deterministic fail-over to the next-best
// candidate when enabled.
package governance

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/explain"
	"github.com/quantive/signalscan/internal/scan"
	"github.com/quantive/signalscan/internal/state"
	"github.com/quantive/signalscan/internal/strategy"
)

// Config tunes the selector.
type Config struct {
	FailoverOnBlock bool
	// Global overrides; 0 keeps each strategy's own value.
	CooldownMinutesOverride int
	DailyLimitOverride      int
}

// Decision is the selector outcome for one pair.
type Decision struct {
	Accepted *scan.Candidate

	// Reason is the block reason when nothing was accepted.
	Reason string

	UsedFailover            bool
	BlockedWinnerStrategyID string
	BlockedReason           string
}

// Selector applies governance over the signal state store. It is the only
// writer of sent/daily state.
type Selector struct {
	cfg   Config
	store *state.Store
}

// NewSelector creates a governance selector.
func NewSelector(cfg Config, store *state.Store) *Selector {
	return &Selector{cfg: cfg, store: store}
}

// Select walks the ranked candidates in order and returns the first one
// that passes cooldown, daily limit and conflict checks. When the top
// candidate is blocked and fail-over is enabled, the blocked winner is
// attributed in the decision for metrics. Select does not mutate state;
// call Commit after the signal is persisted.
func (s *Selector) Select(cands []scan.Candidate, now time.Time, tzOffsetHours int) Decision {
	var d Decision
	for i := range cands {
		c := &cands[i]
		reason, ok := s.check(c, now, tzOffsetHours)
		if ok {
			d.Accepted = c
			if i > 0 {
				d.UsedFailover = true
			}
			return d
		}
		if i == 0 {
			d.BlockedWinnerStrategyID = c.Strategy.StrategyID
			d.BlockedReason = reason
		}
		if d.Reason == "" {
			d.Reason = reason
		}
		if !s.cfg.FailoverOnBlock {
			return d
		}
		log.Debug().Str("strategy", c.Strategy.StrategyID).Str("reason", reason).
			Str("symbol", c.Setup.Symbol).Msg("candidate blocked, trying next")
	}
	return d
}

// check runs the governance gates for one candidate in fixed order:
// cooldown, daily limit, conflict.
func (s *Selector) check(c *scan.Candidate, now time.Time, tzOffsetHours int) (string, bool) {
	spec := &c.Strategy
	symbol := c.Setup.Symbol
	tf := string(spec.EntryTF)
	dir := string(c.Setup.Direction)

	cooldown := spec.CooldownMinutes
	if s.cfg.CooldownMinutesOverride > 0 {
		cooldown = s.cfg.CooldownMinutesOverride
	}
	key := state.Key(symbol, tf, spec.StrategyID, dir)
	if !s.store.CanSend(key, now, cooldown) {
		return explain.ReasonCooldownActive, false
	}

	limit := spec.DailyLimit
	if s.cfg.DailyLimitOverride > 0 {
		limit = s.cfg.DailyLimitOverride
	}
	day := state.Day(now, tzOffsetHours)
	bucket := state.Bucket(symbol, tf, spec.StrategyID)
	// daily_limit 0 means unlimited.
	if limit > 0 && s.store.DailyCount(bucket, day) >= limit {
		return explain.ReasonDailyLimitReached, false
	}

	if spec.ConflictPolicy == strategy.ConflictSkip {
		oppKey := state.Key(symbol, tf, spec.StrategyID, oppositeDir(dir))
		if rec, ok := s.store.LastSent(oppKey); ok && state.Day(rec.TS, tzOffsetHours) == day {
			return explain.ReasonConflictDirection, false
		}
	}

	return "", true
}

// Commit records the accepted candidate in the state store: the cooldown
// record and the daily counter. The caller flushes (debounced) afterwards.
func (s *Selector) Commit(c *scan.Candidate, now time.Time, tzOffsetHours int) {
	spec := &c.Strategy
	symbol := c.Setup.Symbol
	tf := string(spec.EntryTF)
	dir := string(c.Setup.Direction)

	key := state.Key(symbol, tf, spec.StrategyID, dir)
	s.store.RecordSent(key, now, symbol, tf, spec.StrategyID, dir)
	s.store.IncrementDaily(state.Bucket(symbol, tf, spec.StrategyID), state.Day(now, tzOffsetHours))
}

// Flush persists dirty state, debounced unless force is set.
func (s *Selector) Flush(force bool) {
	if err := s.store.Flush(force); err != nil {
		log.Error().Err(err).Msg("state flush failed")
	}
}

func oppositeDir(dir string) string {
	if dir == "BUY" {
		return "SELL"
	}
	return "BUY"
}
