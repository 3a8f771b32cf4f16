package signals

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/atomicio"
)

// Store is the append-only signal history: one JSONL file for the legacy
// audit records and one for the public projections. Signals are immutable
// once appended.
type Store struct {
	mu         sync.Mutex
	legacyPath string
	publicPath string
}

// NewStore creates the store over the two history files.
func NewStore(legacyPath, publicPath string) *Store {
	return &Store{legacyPath: legacyPath, publicPath: publicPath}
}

// Append persists the signal to both histories. The public projection is
// derived here so the two files can never disagree on a signal.
func (s *Store) Append(sig Signal) error {
	legacyLine, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	publicLine, err := json.Marshal(sig.Public())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicio.AppendLine(s.legacyPath, legacyLine); err != nil {
		return err
	}
	return atomicio.AppendLine(s.publicPath, publicLine)
}

// ListFilter narrows List results.
type ListFilter struct {
	Symbol string
	UserID string // empty reads across users (admin)
	Limit  int
}

// List returns public signals newest first, up to the limit. Blank and
// malformed lines are tolerated.
func (s *Store) List(f ListFilter) ([]PublicSignal, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	all, err := s.readPublic()
	if err != nil {
		return nil, err
	}
	out := make([]PublicSignal, 0, f.Limit)
	for i := len(all) - 1; i >= 0 && len(out) < f.Limit; i-- {
		sig := all[i]
		if f.Symbol != "" && sig.Symbol != f.Symbol {
			continue
		}
		if f.UserID != "" && sig.UserID != f.UserID {
			continue
		}
		out = append(out, sig)
	}
	return out, nil
}

// GetByID scans the public history in reverse for the first match.
func (s *Store) GetByID(id string) (PublicSignal, bool, error) {
	all, err := s.readPublic()
	if err != nil {
		return PublicSignal{}, false, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].SignalID == id {
			return all[i], true, nil
		}
	}
	return PublicSignal{}, false, nil
}

func (s *Store) readPublic() ([]PublicSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.publicPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []PublicSignal
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sig PublicSignal
		if err := json.Unmarshal(line, &sig); err != nil {
			log.Debug().Err(err).Str("path", s.publicPath).Msg("skipping malformed signal line")
			continue
		}
		out = append(out, sig)
	}
	return out, scanner.Err()
}
