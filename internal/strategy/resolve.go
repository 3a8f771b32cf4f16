package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// DefaultAutofixThreshold is the minimum fuzzy similarity for recording an
// auto-fix suggestion.
const DefaultAutofixThreshold = 0.85

// ResolveKind tells how a detector name was matched.
type ResolveKind string

const (
	ResolveExact      ResolveKind = "exact"
	ResolveCaseFold   ResolveKind = "case_insensitive"
	ResolveNormalized ResolveKind = "normalized"
	ResolveAlias      ResolveKind = "alias"
)

// Resolver maps strategy detector names onto registry names using the
// chain exact -> case-insensitive -> normalized -> alias map, and offers
// fuzzy suggestions for anything still unknown.
type Resolver struct {
	known      []string
	caseFold   map[string]string
	normalized map[string]string
	aliases    map[string]string
}

// NewResolver builds a resolver over the registry's canonical names.
// aliases maps legacy or misspelled names to canonical ones; keys are
// matched after normalization too.
func NewResolver(known []string, aliases map[string]string) *Resolver {
	r := &Resolver{
		known:      append([]string(nil), known...),
		caseFold:   make(map[string]string, len(known)),
		normalized: make(map[string]string, len(known)),
		aliases:    make(map[string]string, len(aliases)),
	}
	sort.Strings(r.known)
	for _, n := range r.known {
		r.caseFold[strings.ToLower(n)] = n
		r.normalized[normalizeName(n)] = n
	}
	for from, to := range aliases {
		r.aliases[normalizeName(from)] = to
	}
	return r
}

// LoadAliases reads an optional JSON alias file {from: to}. A missing file
// yields an empty map.
func LoadAliases(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("detector aliases: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("detector aliases %s: %w", path, err)
	}
	return m, nil
}

// Resolve returns the canonical registry name for the given detector name.
func (r *Resolver) Resolve(name string) (string, ResolveKind, bool) {
	for _, k := range r.known {
		if k == name {
			return k, ResolveExact, true
		}
	}
	if k, ok := r.caseFold[strings.ToLower(name)]; ok {
		return k, ResolveCaseFold, true
	}
	if k, ok := r.normalized[normalizeName(name)]; ok {
		return k, ResolveNormalized, true
	}
	if to, ok := r.aliases[normalizeName(name)]; ok {
		// Alias targets must themselves resolve; one level only.
		if k, ok := r.caseFold[strings.ToLower(to)]; ok {
			return k, ResolveAlias, true
		}
	}
	return "", "", false
}

// Suggest returns the closest known name by longest-common-subsequence
// similarity, with its score in [0,1].
func (r *Resolver) Suggest(name string) (string, float64) {
	best, bestScore := "", 0.0
	a := normalizeName(name)
	for _, k := range r.known {
		s := Similarity(a, normalizeName(k))
		if s > bestScore {
			best, bestScore = k, s
		}
	}
	return best, bestScore
}

// Similarity is the LCS ratio 2*|lcs(a,b)| / (|a|+|b|).
func Similarity(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	l := lcsLen(a, b)
	return 2 * float64(l) / float64(len(a)+len(b))
}

func lcsLen(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// normalizeName lowercases and collapses underscores, dashes and spaces.
func normalizeName(s string) string {
	var b strings.Builder
	for _, ch := range strings.ToLower(s) {
		switch ch {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
