// Package strategy loads, normalizes and validates strategy packs: the
// per-user bundles of detectors, thresholds and governance knobs the scan
// engine executes.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantive/signalscan/internal/market"
)

// PackSchemaVersion is the only supported pack schema.
const PackSchemaVersion = 1

// Conflict policies.
const (
	ConflictSkip  = "skip"
	ConflictAllow = "allow"
)

// Canonical regime codes a strategy may allow.
var CanonicalRegimes = []string{"RANGE", "CHOP", "TREND_BULL", "TREND_BEAR"}

// Spec is a normalized, validated strategy.
type Spec struct {
	StrategyID    string `json:"strategy_id"`
	Enabled       bool   `json:"enabled"`
	EngineVersion string `json:"engine_version"`

	TrendTF market.Timeframe `json:"trend_tf"`
	EntryTF market.Timeframe `json:"entry_tf"`

	MinRR          float64  `json:"min_rr"`
	MinScore       float64  `json:"min_score"`
	AllowedRegimes []string `json:"allowed_regimes"`

	Detectors      []string                      `json:"detectors"`
	DetectorParams map[string]map[string]float64 `json:"detector_params,omitempty"`
	FamilyParams   map[string]map[string]float64 `json:"family_params,omitempty"`

	Epsilon                 float64            `json:"epsilon"`
	FamilyBonus             float64            `json:"family_bonus"`
	Weights                 map[string]float64 `json:"weights,omitempty"`
	DetectorWeightOverrides map[string]float64 `json:"detector_weight_overrides,omitempty"`

	CooldownMinutes int    `json:"cooldown_minutes"`
	DailyLimit      int    `json:"daily_limit"`
	ConflictPolicy  string `json:"conflict_policy"`

	// Unknown fields from the source file, kept for diagnostics only.
	Extra map[string]any `json:"-"`
}

// Defaults documents the configurable scoring knobs and their fallbacks.
func Defaults() Spec {
	return Spec{
		Epsilon:         0.05,
		FamilyBonus:     0.1,
		CooldownMinutes: 60,
		DailyLimit:      0, // 0 means unlimited
		ConflictPolicy:  ConflictSkip,
	}
}

// DetectorWeight resolves the effective weight for a detector: per-detector
// override first, then the family/name weight map, then 1.0.
func (s *Spec) DetectorWeight(name, family string) float64 {
	if w, ok := s.DetectorWeightOverrides[name]; ok {
		return w
	}
	if w, ok := s.Weights[name]; ok {
		return w
	}
	if w, ok := s.Weights[family]; ok {
		return w
	}
	return 1.0
}

// AllowsRegime reports whether the strategy runs under regime. An empty
// allow-list allows every regime.
func (s *Spec) AllowsRegime(regime string) bool {
	if len(s.AllowedRegimes) == 0 {
		return true
	}
	for _, r := range s.AllowedRegimes {
		if r == regime {
			return true
		}
	}
	return false
}

// MergedParams builds the effective parameter map for one detector:
// family params overlaid by the detector-specific override. The reserved
// key "enabled" is never overridable.
func (s *Spec) MergedParams(name, family string) map[string]float64 {
	out := map[string]float64{}
	for k, v := range s.FamilyParams[family] {
		if k == "enabled" {
			continue
		}
		out[k] = v
	}
	for k, v := range s.DetectorParams[name] {
		if k == "enabled" {
			continue
		}
		out[k] = v
	}
	return out
}

// Invalid describes a strategy that failed validation.
type Invalid struct {
	StrategyID string   `json:"strategy_id,omitempty"`
	Errors     []string `json:"errors"`
}

// Parsed is the closed result of normalizing one raw strategy: either a
// valid Spec or an Invalid record.
type Parsed struct {
	Spec    *Spec
	Invalid *Invalid
}

// Validate checks the canonical invariants of a normalized spec.
func (s *Spec) Validate() []string {
	var errs []string
	if s.StrategyID == "" {
		errs = append(errs, "strategy_id is required")
	}
	if !s.TrendTF.Valid() {
		errs = append(errs, fmt.Sprintf("trend_tf %q is not a supported timeframe", s.TrendTF))
	}
	if !s.EntryTF.Valid() {
		errs = append(errs, fmt.Sprintf("entry_tf %q is not a supported timeframe", s.EntryTF))
	}
	if s.MinRR < 0 {
		errs = append(errs, "min_rr must be >= 0")
	}
	if s.MinScore < 0 {
		errs = append(errs, "min_score must be >= 0")
	}
	if s.Epsilon < 0 {
		errs = append(errs, "epsilon must be >= 0")
	}
	if s.CooldownMinutes < 0 {
		errs = append(errs, "cooldown_minutes must be >= 0")
	}
	if s.DailyLimit < 0 {
		errs = append(errs, "daily_limit must be >= 0")
	}
	for name, w := range s.Weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("weight %q must be non-negative", name))
		}
	}
	for name, w := range s.DetectorWeightOverrides {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("detector_weight_override %q must be non-negative", name))
		}
	}
	for _, r := range s.AllowedRegimes {
		if !isCanonicalRegime(r) {
			errs = append(errs, fmt.Sprintf("allowed_regime %q is not one of %s", r, strings.Join(CanonicalRegimes, ",")))
		}
	}
	switch s.ConflictPolicy {
	case ConflictSkip, ConflictAllow:
	default:
		errs = append(errs, fmt.Sprintf("conflict_policy %q must be skip or allow", s.ConflictPolicy))
	}
	sort.Strings(errs)
	return errs
}

func isCanonicalRegime(r string) bool {
	for _, c := range CanonicalRegimes {
		if r == c {
			return true
		}
	}
	return false
}
