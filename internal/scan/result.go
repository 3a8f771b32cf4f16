// Package scan implements the per-(user, symbol) evaluation pipeline:
// data readiness, context build, regime filter, detector execution,
// scoring, arbitration and setup construction.
package scan

import (
	"sort"

	"github.com/quantive/signalscan/internal/detect"
	"github.com/quantive/signalscan/internal/regime"
	"github.com/quantive/signalscan/internal/strategy"
)

// Setup is a candidate trade proposal. RR = |tp-entry| / |entry-sl|.
type Setup struct {
	Symbol        string             `json:"symbol"`
	Direction     detect.Side        `json:"direction"`
	Entry         float64            `json:"entry"`
	SL            float64            `json:"sl"`
	TP            float64            `json:"tp"`
	RR            float64            `json:"rr"`
	EntryZoneLow  float64            `json:"entry_zone_low"`
	EntryZoneHigh float64            `json:"entry_zone_high"`
	Evidence      map[string]float64 `json:"evidence,omitempty"`
}

// Candidate is one strategy's accepted outcome for a pair, before
// governance.
type Candidate struct {
	Strategy     strategy.Spec
	Setup        Setup
	Score        float64
	ScoreBuy     float64
	ScoreSell    float64
	Hits         []detect.Hit
	TimingsMS    map[string]float64
	ParamsDigest string
}

// StrategyOutcome records why a strategy produced no candidate.
type StrategyOutcome struct {
	StrategyID string
	Reason     string
	Details    map[string]any
	Evidence   map[string]any
}

// PairResult is the engine outcome for one (user, symbol).
type PairResult struct {
	ScanID  string
	UserID  string
	Symbol  string
	EntryTF string
	TrendTF string
	Regime  regime.Result

	// Candidates ranked by (score, rr) desc, ties by strategy_id asc.
	Candidates []Candidate

	// Reason explains the pair when Candidates is empty, taken from the
	// strategy that progressed furthest through the pipeline.
	Reason   string
	Details  map[string]any
	Evidence map[string]any

	// Failures per strategy, for the debug payload.
	Failures []StrategyOutcome

	TimingsMS map[string]float64
}

// HasCandidates reports whether at least one strategy produced a setup.
func (r *PairResult) HasCandidates() bool { return len(r.Candidates) > 0 }

// rankCandidates orders by (score, rr) descending with strategy_id
// ascending as the deterministic tie-break.
func rankCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].Setup.RR != cands[j].Setup.RR {
			return cands[i].Setup.RR > cands[j].Setup.RR
		}
		return cands[i].Strategy.StrategyID < cands[j].Strategy.StrategyID
	})
}

// reasonDepth orders NONE reasons by pipeline progress so the pair-level
// reason reflects the strategy that got furthest.
var reasonDepth = map[string]int{
	"NO_STRATEGY_CONFIGURED":  0,
	"PROFILE_INVALID":         0,
	"NO_M5":                   1,
	"DATA_GAP":                1,
	"REGIME_BLOCKED":          2,
	"NO_DETECTORS_FOR_REGIME": 3,
	"PRIMITIVE_ERROR":         4,
	"NO_HITS":                 5,
	"CONFLICT_SCORE":          6,
	"SCORE_BELOW_MIN":         7,
	"SETUP_BUILD_FAILED":      8,
	"RR_BELOW_MIN":            9,
}
