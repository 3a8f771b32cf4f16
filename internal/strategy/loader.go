package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// LoaderConfig tunes pack loading.
type LoaderConfig struct {
	PresetsDir       string
	AliasesPath      string
	StrictDetectors  bool    // unknown detector disables the whole strategy
	AutofixThreshold float64 // fuzzy score above which a fix suggestion is recorded
}

// FixSuggestion is a high-confidence detector rename the loader proposes.
// The patch registry persists these with stable patch ids.
type FixSuggestion struct {
	StrategyID string  `json:"strategy_id"`
	FilePath   string  `json:"file_path"`
	Before     string  `json:"before"`
	After      string  `json:"after"`
	Confidence float64 `json:"confidence"`
}

// LoadResult is the outcome of loading one pack file.
type LoadResult struct {
	Strategies       []Spec
	InvalidEnabled   []Invalid
	DisabledStrict   []string            // strategies disabled by strict detector mode
	UnknownDetectors map[string][]string // strategy_id -> unresolved names
	Suggestions      []FixSuggestion
	Warnings         []string
}

type rawPack struct {
	SchemaVersion  *int                         `json:"schema_version"`
	IncludePresets []string                     `json:"include_presets"`
	Strategies     []map[string]json.RawMessage `json:"strategies"`
}

// LoadPack parses and validates a strategy pack file. Preset strategies
// are merged under user strategies by strategy_id (user wins). Invalid
// enabled strategies are reported in InvalidEnabled but not loaded;
// invalid disabled ones are silently dropped.
func LoadPack(path string, resolver *Resolver, cfg LoaderConfig) (*LoadResult, error) {
	if cfg.AutofixThreshold <= 0 {
		cfg.AutofixThreshold = DefaultAutofixThreshold
	}

	pack, err := readPackFile(path)
	if err != nil {
		return nil, err
	}

	res := &LoadResult{UnknownDetectors: map[string][]string{}}

	// Presets load first so user strategies override by id.
	merged := map[string]map[string]json.RawMessage{}
	var order []string
	add := func(raw map[string]json.RawMessage) {
		id := coerceString(raw["strategy_id"])
		if _, seen := merged[id]; !seen {
			order = append(order, id)
		}
		merged[id] = raw
	}

	for _, preset := range pack.IncludePresets {
		pp := filepath.Join(cfg.PresetsDir, preset+".json")
		ppack, err := readPackFile(pp)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("UNKNOWN_PRESET: %s: %v", preset, err))
			log.Warn().Str("preset", preset).Err(err).Msg("preset not loaded")
			continue
		}
		for _, raw := range ppack.Strategies {
			add(raw)
		}
	}
	for _, raw := range pack.Strategies {
		add(raw)
	}

	for _, id := range order {
		parsed := normalize(merged[id])
		if parsed.Invalid != nil {
			// Only enabled strategies are worth reporting; a disabled
			// invalid entry cannot affect a scan.
			if enabledInRaw(merged[id]) {
				res.InvalidEnabled = append(res.InvalidEnabled, *parsed.Invalid)
				log.Warn().Str("strategy", parsed.Invalid.StrategyID).
					Strs("errors", parsed.Invalid.Errors).
					Msg("invalid enabled strategy not loaded")
			}
			continue
		}
		spec := parsed.Spec
		if !spec.Enabled {
			continue
		}

		if resolver != nil {
			spec.Detectors = resolveDetectors(spec, path, resolver, cfg, res)
			if cfg.StrictDetectors && len(res.UnknownDetectors[spec.StrategyID]) > 0 {
				res.DisabledStrict = append(res.DisabledStrict, spec.StrategyID)
				log.Warn().Str("strategy", spec.StrategyID).
					Strs("unknown", res.UnknownDetectors[spec.StrategyID]).
					Msg("strategy disabled: unknown detectors under strict mode")
				continue
			}
		}
		res.Strategies = append(res.Strategies, *spec)
	}

	// Deterministic order for the engine: strategy_id ascending.
	sort.Slice(res.Strategies, func(i, j int) bool {
		return res.Strategies[i].StrategyID < res.Strategies[j].StrategyID
	})

	log.Info().Str("path", path).
		Int("loaded", len(res.Strategies)).
		Int("invalid_enabled", len(res.InvalidEnabled)).
		Int("disabled_strict", len(res.DisabledStrict)).
		Msg("strategy pack loaded")
	return res, nil
}

func resolveDetectors(spec *Spec, path string, resolver *Resolver, cfg LoaderConfig, res *LoadResult) []string {
	var kept []string
	for _, name := range spec.Detectors {
		canonical, kind, ok := resolver.Resolve(name)
		if ok {
			if kind != ResolveExact {
				log.Debug().Str("strategy", spec.StrategyID).
					Str("from", name).Str("to", canonical).Str("via", string(kind)).
					Msg("detector name resolved")
			}
			kept = append(kept, canonical)
			continue
		}
		res.UnknownDetectors[spec.StrategyID] = append(res.UnknownDetectors[spec.StrategyID], name)
		suggestion, score := resolver.Suggest(name)
		if score >= cfg.AutofixThreshold {
			res.Suggestions = append(res.Suggestions, FixSuggestion{
				StrategyID: spec.StrategyID,
				FilePath:   path,
				Before:     name,
				After:      suggestion,
				Confidence: score,
			})
		}
		log.Warn().Str("strategy", spec.StrategyID).Str("detector", name).
			Str("closest", suggestion).Float64("similarity", score).
			Msg("unknown detector dropped from allow-list")
	}
	return kept
}

func readPackFile(path string) (*rawPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy pack: %w", err)
	}
	var pack rawPack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("strategy pack %s: %w", path, err)
	}
	if pack.SchemaVersion == nil {
		return nil, fmt.Errorf("strategy pack %s: SCHEMA_VERSION_MISSING", path)
	}
	if *pack.SchemaVersion != PackSchemaVersion {
		return nil, fmt.Errorf("strategy pack %s: UNSUPPORTED_SCHEMA_VERSION %d", path, *pack.SchemaVersion)
	}
	return &pack, nil
}

func enabledInRaw(raw map[string]json.RawMessage) bool {
	v, ok := raw["enabled"]
	if !ok {
		return true
	}
	return coerceBool(v)
}
