// Package patch maintains the persistent registry of suggested strategy
// fixes and applies or rolls them back against the strategy pack files.
package patch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/atomicio"
)

// Patch types.
const TypeDetectorRename = "detector_rename"

// Suggestion is one persisted patch proposal. Patch ids are stable: the
// same (type, file, before, after) re-registers under its original id.
type Suggestion struct {
	PatchID     string    `json:"patch_id"`
	CreatedAt   time.Time `json:"created_at"`
	PatchType   string    `json:"patch_type"`
	StrategyIDs []string  `json:"strategy_ids"`
	FilePath    string    `json:"file_path"`
	Before      string    `json:"before"`
	After       string    `json:"after"`
	Confidence  float64   `json:"confidence"`
}

func (s *Suggestion) key() string {
	return s.PatchType + "|" + s.FilePath + "|" + s.Before + "|" + s.After
}

// Registry is the JSON-file-backed suggestion store.
type Registry struct {
	mu          sync.Mutex
	path        string
	suggestions []Suggestion
}

// OpenRegistry loads (or initializes) the registry at path.
func OpenRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("patch registry: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &r.suggestions); err != nil {
			return nil, fmt.Errorf("patch registry parse: %w", err)
		}
	}
	return r, nil
}

// Add registers a suggestion, reusing the existing patch id when an
// identical proposal is already known. Returns the stable id.
func (r *Registry) Add(s Suggestion) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.suggestions {
		if r.suggestions[i].key() == s.key() {
			r.suggestions[i].StrategyIDs = mergeIDs(r.suggestions[i].StrategyIDs, s.StrategyIDs)
			return r.suggestions[i].PatchID, r.flushLocked()
		}
	}
	s.PatchID = uuid.NewString()
	s.CreatedAt = time.Now().UTC()
	r.suggestions = append(r.suggestions, s)
	return s.PatchID, r.flushLocked()
}

// Get returns the suggestion by id.
func (r *Registry) Get(patchID string) (Suggestion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.suggestions {
		if s.PatchID == patchID {
			return s, true
		}
	}
	return Suggestion{}, false
}

// List returns all suggestions, oldest first.
func (r *Registry) List() []Suggestion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Suggestion, len(r.suggestions))
	copy(out, r.suggestions)
	return out
}

func (r *Registry) flushLocked() error {
	return atomicio.WriteJSONAtomic(r.path, r.suggestions)
}

func mergeIDs(a, b []string) []string {
	seen := map[string]struct{}{}
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			a = append(a, id)
			seen[id] = struct{}{}
		}
	}
	sort.Strings(a)
	return a
}

// AuditRecord is one line of the patch audit log.
type AuditRecord struct {
	TS          time.Time `json:"ts"`
	PatchID     string    `json:"patch_id"`
	PatchType   string    `json:"patch_type"`
	StrategyIDs []string  `json:"strategy_ids"`
	FilePath    string    `json:"file_path"`
	BackupPath  string    `json:"backup_path"`
	DryRun      bool      `json:"dry_run"`
	Before      string    `json:"before"`
	After       string    `json:"after"`
}

// ValidationError wraps pack validation failures during apply.
type ValidationError struct{ Errs []string }

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation_failed: %v", e.Errs)
}

// Engine applies registered patches to strategy pack files with backup
// and audit. Validate is called on the candidate file before the real
// one is replaced; a non-nil error aborts the apply.
type Engine struct {
	Registry  *Registry
	AuditPath string
	Validate  func(path string) []string
}

// Result reports what an apply or rollback did.
type Result struct {
	PatchID    string `json:"patch_id"`
	FilePath   string `json:"file_path"`
	BackupPath string `json:"backup_path,omitempty"`
	DryRun     bool   `json:"dry_run"`
	Changed    int    `json:"changed"`
}

// Apply rewrites the pack file per the suggestion. Dry runs validate and
// report but leave the file untouched; both outcomes are audited.
func (e *Engine) Apply(s Suggestion, dryRun bool) (Result, error) {
	res := Result{PatchID: s.PatchID, FilePath: s.FilePath, DryRun: dryRun}
	if s.PatchType != TypeDetectorRename {
		return res, fmt.Errorf("unsupported patch type %q", s.PatchType)
	}

	original, err := os.ReadFile(s.FilePath)
	if err != nil {
		return res, fmt.Errorf("patch apply: %w", err)
	}
	modified, changed, err := renameDetector(original, s.Before, s.After)
	if err != nil {
		return res, fmt.Errorf("patch apply: %w", err)
	}
	res.Changed = changed

	// Validate the candidate on disk next to the target so the loader
	// sees the same relative preset paths.
	tmp := s.FilePath + ".patchcheck"
	if err := atomicio.WriteFileAtomic(tmp, modified); err != nil {
		return res, err
	}
	defer os.Remove(tmp)
	if e.Validate != nil {
		if errs := e.Validate(tmp); len(errs) > 0 {
			return res, &ValidationError{Errs: errs}
		}
	}

	if !dryRun {
		backup := fmt.Sprintf("%s.bak.%s", s.FilePath, s.PatchID)
		if err := atomicio.WriteFileAtomic(backup, original); err != nil {
			return res, fmt.Errorf("patch backup: %w", err)
		}
		res.BackupPath = backup
		if err := atomicio.WriteFileAtomic(s.FilePath, modified); err != nil {
			return res, fmt.Errorf("patch write: %w", err)
		}
	}

	e.audit(AuditRecord{
		TS: time.Now().UTC(), PatchID: s.PatchID, PatchType: s.PatchType,
		StrategyIDs: s.StrategyIDs, FilePath: s.FilePath, BackupPath: res.BackupPath,
		DryRun: dryRun, Before: s.Before, After: s.After,
	})
	log.Info().Str("patch_id", s.PatchID).Bool("dry_run", dryRun).Int("changed", changed).Msg("patch applied")
	return res, nil
}

// Rollback restores the backup created by the most recent non-dry apply
// of the patch.
func (e *Engine) Rollback(patchID string, dryRun bool) (Result, error) {
	rec, ok, err := e.lastApplied(patchID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("no applied record for patch %s", patchID)
	}
	res := Result{PatchID: patchID, FilePath: rec.FilePath, BackupPath: rec.BackupPath, DryRun: dryRun}

	backup, err := os.ReadFile(rec.BackupPath)
	if err != nil {
		return res, fmt.Errorf("patch rollback: %w", err)
	}
	if !dryRun {
		if err := atomicio.WriteFileAtomic(rec.FilePath, backup); err != nil {
			return res, fmt.Errorf("patch rollback write: %w", err)
		}
	}
	e.audit(AuditRecord{
		TS: time.Now().UTC(), PatchID: patchID, PatchType: "rollback",
		StrategyIDs: rec.StrategyIDs, FilePath: rec.FilePath, BackupPath: rec.BackupPath,
		DryRun: dryRun, Before: rec.After, After: rec.Before,
	})
	log.Info().Str("patch_id", patchID).Bool("dry_run", dryRun).Msg("patch rolled back")
	return res, nil
}

// AuditFileSize returns the audit log size in bytes.
func (e *Engine) AuditFileSize() int64 {
	info, err := os.Stat(e.AuditPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (e *Engine) audit(rec AuditRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Msg("patch audit marshal failed")
		return
	}
	if err := atomicio.AppendLine(e.AuditPath, line); err != nil {
		log.Error().Err(err).Str("path", e.AuditPath).Msg("patch audit append failed")
	}
}

// lastApplied scans the audit log in reverse for the patch's most recent
// non-dry apply.
func (e *Engine) lastApplied(patchID string) (AuditRecord, bool, error) {
	f, err := os.Open(e.AuditPath)
	if err != nil {
		if os.IsNotExist(err) {
			return AuditRecord{}, false, nil
		}
		return AuditRecord{}, false, err
	}
	defer f.Close()

	var records []AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec AuditRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return AuditRecord{}, false, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.PatchID == patchID && !r.DryRun && r.PatchType != "rollback" && r.BackupPath != "" {
			return r, true, nil
		}
	}
	return AuditRecord{}, false, nil
}

// renameDetector rewrites detector references in a pack document:
// entries of each strategy's "detectors" list plus keys of its
// "detector_params" map. The rest of the document passes through
// untouched.
func renameDetector(doc []byte, before, after string) ([]byte, int, error) {
	var pack map[string]json.RawMessage
	if err := json.Unmarshal(doc, &pack); err != nil {
		return nil, 0, fmt.Errorf("parse pack: %w", err)
	}
	var strategies []map[string]json.RawMessage
	if raw, ok := pack["strategies"]; ok {
		if err := json.Unmarshal(raw, &strategies); err != nil {
			return nil, 0, fmt.Errorf("parse strategies: %w", err)
		}
	}

	changed := 0
	for _, s := range strategies {
		if raw, ok := s["detectors"]; ok {
			var names []string
			if err := json.Unmarshal(raw, &names); err == nil {
				touched := false
				for i, n := range names {
					if n == before {
						names[i] = after
						touched = true
						changed++
					}
				}
				if touched {
					enc, _ := json.Marshal(names)
					s["detectors"] = enc
				}
			}
		}
		if raw, ok := s["detector_params"]; ok {
			var params map[string]json.RawMessage
			if err := json.Unmarshal(raw, &params); err == nil {
				if v, hit := params[before]; hit {
					delete(params, before)
					params[after] = v
					changed++
					enc, _ := json.Marshal(params)
					s["detector_params"] = enc
				}
			}
		}
	}

	enc, err := json.Marshal(strategies)
	if err != nil {
		return nil, 0, err
	}
	pack["strategies"] = enc
	out, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return nil, 0, err
	}
	return append(out, '\n'), changed, nil
}

// BackupPathFor is the deterministic backup location for a patch.
func BackupPathFor(filePath, patchID string) string {
	return filepath.Clean(fmt.Sprintf("%s.bak.%s", filePath, patchID))
}
