package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/atomicio"
	"github.com/quantive/signalscan/internal/patch"
	"github.com/quantive/signalscan/internal/strategy"
	"github.com/quantive/signalscan/internal/user"
)

// StrategyManager loads and holds the per-user strategy packs. A user
// without an own pack file falls back to the shared default pack.
type StrategyManager struct {
	mu       sync.RWMutex
	dir      string
	resolver *strategy.Resolver
	loader   strategy.LoaderConfig
	patches  *patch.Registry

	byUser  map[string][]strategy.Spec
	shared  []strategy.Spec
	invalid []string
	unknown int
}

// NewStrategyManager creates the manager; call Reload to populate it.
func NewStrategyManager(dir string, resolver *strategy.Resolver, loader strategy.LoaderConfig, patches *patch.Registry) *StrategyManager {
	return &StrategyManager{
		dir:      dir,
		resolver: resolver,
		loader:   loader,
		patches:  patches,
		byUser:   map[string][]strategy.Spec{},
	}
}

// SharedPackPath is the default pack consulted when a user carries no
// pack file of their own.
func (m *StrategyManager) SharedPackPath() string {
	return filepath.Join(m.dir, "strategies.json")
}

func (m *StrategyManager) userPackPath(u user.User) string {
	if u.StrategiesFile != "" {
		return u.StrategiesFile
	}
	return filepath.Join(m.dir, u.ID+".json")
}

// Reload loads every user's pack plus the shared default. Loader
// suggestions flow into the patch registry with stable ids.
func (m *StrategyManager) Reload(users []user.User) {
	byUser := map[string][]strategy.Spec{}
	var invalid []string
	unknown := 0

	load := func(path, owner string) []strategy.Spec {
		if _, err := os.Stat(path); err != nil {
			return nil
		}
		res, err := strategy.LoadPack(path, m.resolver, m.loader)
		if err != nil {
			log.Error().Err(err).Str("path", path).Str("owner", owner).Msg("strategy pack load failed")
			invalid = append(invalid, fmt.Sprintf("%s: %v", owner, err))
			return nil
		}
		for _, inv := range res.InvalidEnabled {
			invalid = append(invalid, fmt.Sprintf("%s/%s", owner, inv.StrategyID))
		}
		for _, names := range res.UnknownDetectors {
			unknown += len(names)
		}
		m.registerSuggestions(path, res.Suggestions)
		return res.Strategies
	}

	shared := load(m.SharedPackPath(), "shared")
	for _, u := range users {
		if specs := load(m.userPackPath(u), u.ID); specs != nil {
			byUser[u.ID] = specs
		}
	}

	m.mu.Lock()
	m.byUser = byUser
	m.shared = shared
	m.invalid = invalid
	m.unknown = unknown
	m.mu.Unlock()
	log.Info().Int("users_with_packs", len(byUser)).Int("shared", len(shared)).
		Int("invalid", len(invalid)).Msg("strategy packs loaded")
}

func (m *StrategyManager) registerSuggestions(path string, sugs []strategy.FixSuggestion) {
	if m.patches == nil {
		return
	}
	for _, s := range sugs {
		id, err := m.patches.Add(patch.Suggestion{
			PatchType:   patch.TypeDetectorRename,
			StrategyIDs: []string{s.StrategyID},
			FilePath:    path,
			Before:      s.Before,
			After:       s.After,
			Confidence:  s.Confidence,
		})
		if err != nil {
			log.Error().Err(err).Msg("patch suggestion persist failed")
			continue
		}
		log.Warn().Str("patch_id", id).Str("before", s.Before).Str("after", s.After).
			Float64("confidence", s.Confidence).Msg("detector fix suggested")
	}
}

// For returns the strategies to scan for a user.
func (m *StrategyManager) For(userID string) []strategy.Spec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if specs, ok := m.byUser[userID]; ok {
		return specs
	}
	return m.shared
}

// All returns the shared pack plus every per-user pack (API listing).
func (m *StrategyManager) All() []strategy.Spec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]strategy.Spec{}, m.shared...)
	for _, specs := range m.byUser {
		out = append(out, specs...)
	}
	return out
}

// Health reports loaded count, invalid enabled strategies and unresolved
// detector count.
func (m *StrategyManager) Health() (int, []string, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.shared)
	for _, specs := range m.byUser {
		n += len(specs)
	}
	inv := append([]string{}, m.invalid...)
	return n, inv, m.unknown
}

// ValidateFile loads a candidate pack and returns its validation errors.
// Used by the patch engine before replacing a pack file.
func (m *StrategyManager) ValidateFile(path string) []string {
	res, err := strategy.LoadPack(path, m.resolver, m.loader)
	if err != nil {
		return []string{err.Error()}
	}
	var errs []string
	for _, inv := range res.InvalidEnabled {
		for _, e := range inv.Errors {
			errs = append(errs, fmt.Sprintf("%s: %s", inv.StrategyID, e))
		}
	}
	return errs
}

// ReplaceShared validates the body and, when clean, replaces the shared
// pack and reloads. Returns validation errors otherwise.
func (m *StrategyManager) ReplaceShared(body []byte, users []user.User) []string {
	tmp := m.SharedPackPath() + ".incoming"
	if err := atomicio.WriteFileAtomic(tmp, body); err != nil {
		return []string{err.Error()}
	}
	defer os.Remove(tmp)
	if errs := m.ValidateFile(tmp); len(errs) > 0 {
		return errs
	}
	if err := atomicio.WriteFileAtomic(m.SharedPackPath(), body); err != nil {
		return []string{err.Error()}
	}
	m.Reload(users)
	return nil
}
