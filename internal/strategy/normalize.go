package strategy

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/quantive/signalscan/internal/market"
)

// knownKeys are the strategy fields the normalizer consumes; everything
// else lands in Spec.Extra.
var knownKeys = map[string]struct{}{
	"strategy_id": {}, "enabled": {}, "engine_version": {},
	"trend_tf": {}, "entry_tf": {}, "min_rr": {}, "min_score": {},
	"allowed_regimes": {}, "detectors": {}, "detector_params": {},
	"family_params": {}, "epsilon": {}, "family_bonus": {}, "weights": {},
	"detector_weight_overrides": {}, "cooldown_minutes": {},
	"daily_limit": {}, "conflict_policy": {},
}

// normalize coerces one raw JSON strategy object into the canonical Spec
// and validates it. The raw shape is permissive: numbers may arrive as
// strings, booleans as numbers, regimes in any case. The result is the
// closed Valid|Invalid union.
func normalize(raw map[string]json.RawMessage) Parsed {
	def := Defaults()
	s := Spec{
		Epsilon:         def.Epsilon,
		FamilyBonus:     def.FamilyBonus,
		CooldownMinutes: def.CooldownMinutes,
		DailyLimit:      def.DailyLimit,
		ConflictPolicy:  def.ConflictPolicy,
		Enabled:         true,
	}

	s.StrategyID = coerceString(raw["strategy_id"])
	if v, ok := raw["enabled"]; ok {
		s.Enabled = coerceBool(v)
	}
	s.EngineVersion = coerceString(raw["engine_version"])

	if tf, err := market.ParseTimeframe(coerceString(raw["trend_tf"])); err == nil {
		s.TrendTF = tf
	} else {
		s.TrendTF = market.Timeframe(coerceString(raw["trend_tf"]))
	}
	if tf, err := market.ParseTimeframe(coerceString(raw["entry_tf"])); err == nil {
		s.EntryTF = tf
	} else {
		s.EntryTF = market.Timeframe(coerceString(raw["entry_tf"]))
	}

	if v, ok := raw["min_rr"]; ok {
		s.MinRR = coerceFloat(v)
	}
	if v, ok := raw["min_score"]; ok {
		s.MinScore = coerceFloat(v)
	}
	if v, ok := raw["epsilon"]; ok {
		s.Epsilon = coerceFloat(v)
	}
	if v, ok := raw["family_bonus"]; ok {
		s.FamilyBonus = coerceFloat(v)
	}
	if v, ok := raw["cooldown_minutes"]; ok {
		s.CooldownMinutes = int(coerceFloat(v))
	}
	if v, ok := raw["daily_limit"]; ok {
		s.DailyLimit = int(coerceFloat(v))
	}
	if v, ok := raw["conflict_policy"]; ok {
		s.ConflictPolicy = strings.ToLower(coerceString(v))
	}

	for _, r := range coerceStrings(raw["allowed_regimes"]) {
		s.AllowedRegimes = append(s.AllowedRegimes, strings.ToUpper(strings.TrimSpace(r)))
	}

	// Dedupe detectors preserving first occurrence: iteration order of the
	// allow-list is the execution order.
	seen := map[string]struct{}{}
	for _, d := range coerceStrings(raw["detectors"]) {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		s.Detectors = append(s.Detectors, d)
	}

	s.DetectorParams = coerceParamGroups(raw["detector_params"])
	s.FamilyParams = coerceParamGroups(raw["family_params"])
	s.Weights = coerceFloatMap(raw["weights"])
	s.DetectorWeightOverrides = coerceFloatMap(raw["detector_weight_overrides"])

	for k, v := range raw {
		if _, known := knownKeys[k]; known {
			continue
		}
		if s.Extra == nil {
			s.Extra = map[string]any{}
		}
		var anyv any
		json.Unmarshal(v, &anyv)
		s.Extra[k] = anyv
	}

	if errs := s.Validate(); len(errs) > 0 {
		return Parsed{Invalid: &Invalid{StrategyID: s.StrategyID, Errors: errs}}
	}
	return Parsed{Spec: &s}
}

func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func coerceBool(raw json.RawMessage) bool {
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f != 0
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

func coerceFloat(raw json.RawMessage) float64 {
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil && b {
		return 1
	}
	return 0
}

func coerceStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if json.Unmarshal(raw, &out) == nil {
		return out
	}
	// A single scalar is accepted as a one-element list.
	if s := coerceString(raw); s != "" {
		return []string{s}
	}
	return nil
}

func coerceFloatMap(raw json.RawMessage) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = coerceFloat(v)
	}
	return out
}

func coerceParamGroups(raw json.RawMessage) map[string]map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	out := make(map[string]map[string]float64, len(m))
	for k, v := range m {
		out[k] = coerceFloatMap(v)
	}
	return out
}
