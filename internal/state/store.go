// Package state persists signal governance state: last-send records per
// (symbol, tf, strategy_id, direction) and per-day counters per
// (symbol, tf, strategy_id) bucket.
package state

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/atomicio"
)

// SchemaVersion of the state file.
const SchemaVersion = 2

// DefaultPruneDays is how long sent records and daily buckets are kept.
const DefaultPruneDays = 14

// saveDebounce is the minimum interval between dirty flushes; the cycle
// driver always flushes at end of cycle regardless.
const saveDebounce = 2 * time.Second

// SentRecord is the last accepted send for one cooldown key.
type SentRecord struct {
	TS         time.Time `json:"ts"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Timeframe  string    `json:"timeframe"`
	StrategyID string    `json:"strategy_id"`
}

type stateFile struct {
	Schema int                       `json:"schema"`
	Sent   map[string]SentRecord     `json:"sent"`
	Daily  map[string]map[string]int `json:"daily"`
}

// Store is the in-memory state with write-through to a single JSON file.
// Saves are atomic (temp + rename + fsync) and debounced.
type Store struct {
	mu       sync.Mutex
	path     string
	sent     map[string]SentRecord
	daily    map[string]map[string]int
	dirty    bool
	lastSave time.Time
}

// Key derives the cooldown key SHA1(symbol|tf|strategy_id|direction).
func Key(symbol, tf, strategyID, direction string) string {
	sum := sha1.Sum([]byte(symbol + "|" + tf + "|" + strategyID + "|" + direction))
	return hex.EncodeToString(sum[:])
}

// Bucket derives the daily-count bucket symbol|tf|strategy_id.
func Bucket(symbol, tf, strategyID string) string {
	return symbol + "|" + tf + "|" + strategyID
}

// Day formats ts as the ISO date in the user's local timezone offset.
// Only day bucketing uses the offset; every stored timestamp stays UTC.
func Day(ts time.Time, tzOffsetHours int) string {
	return ts.UTC().Add(time.Duration(tzOffsetHours) * time.Hour).Format("2006-01-02")
}

// Open loads (or initializes) the store at path. Legacy sent records
// missing a strategy_id are treated as strategy_id "legacy".
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		sent:  map[string]SentRecord{},
		daily: map[string]map[string]int{},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("state store: %w", err)
	}
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("state store %s: %w", path, err)
	}
	for k, rec := range f.Sent {
		if rec.StrategyID == "" {
			rec.StrategyID = "legacy"
		}
		s.sent[k] = rec
	}
	if f.Daily != nil {
		s.daily = f.Daily
	}
	log.Info().Str("path", path).Int("sent", len(s.sent)).Int("daily_buckets", len(s.daily)).
		Msg("signal state loaded")
	return s, nil
}

// CanSend reports whether the cooldown for key has elapsed.
// cooldownMinutes 0 disables the cooldown entirely.
func (s *Store) CanSend(key string, now time.Time, cooldownMinutes int) bool {
	if cooldownMinutes <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sent[key]
	if !ok {
		return true
	}
	return now.Sub(rec.TS) >= time.Duration(cooldownMinutes)*time.Minute
}

// LastSent returns the sent record for key.
func (s *Store) LastSent(key string) (SentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sent[key]
	return rec, ok
}

// RecordSent stores the accepted send for key and marks the store dirty.
func (s *Store) RecordSent(key string, now time.Time, symbol, tf, strategyID, direction string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[key] = SentRecord{
		TS:         now.UTC(),
		Symbol:     symbol,
		Direction:  direction,
		Timeframe:  tf,
		StrategyID: strategyID,
	}
	s.dirty = true
}

// DailyCount returns the counter for bucket on day.
func (s *Store) DailyCount(bucket, day string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.daily[bucket][day]
}

// IncrementDaily bumps the counter for bucket on day.
func (s *Store) IncrementDaily(bucket, day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.daily[bucket] == nil {
		s.daily[bucket] = map[string]int{}
	}
	s.daily[bucket][day]++
	s.dirty = true
}

// SnapshotSent returns a copy of the sent map.
func (s *Store) SnapshotSent() map[string]SentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]SentRecord, len(s.sent))
	for k, v := range s.sent {
		out[k] = v
	}
	return out
}

// SnapshotCounts returns (sent records, daily buckets) sizes; used by the
// round-trip law tests and the health snapshot.
func (s *Store) SnapshotCounts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent), len(s.daily)
}

// Prune drops sent records older than olderThanDays and daily buckets for
// days before the cutoff. Returns the number of removed entries.
func (s *Store) Prune(olderThanDays int, now time.Time) int {
	if olderThanDays <= 0 {
		olderThanDays = DefaultPruneDays
	}
	cutoff := now.UTC().AddDate(0, 0, -olderThanDays)
	cutoffDay := cutoff.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, rec := range s.sent {
		if rec.TS.Before(cutoff) {
			delete(s.sent, k)
			removed++
		}
	}
	for bucket, days := range s.daily {
		for day := range days {
			if day < cutoffDay {
				delete(days, day)
				removed++
			}
		}
		if len(days) == 0 {
			delete(s.daily, bucket)
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// Flush writes the store to disk if dirty and the debounce window has
// passed. force bypasses the debounce (used at end of cycle and shutdown).
func (s *Store) Flush(force bool) error {
	s.mu.Lock()
	if !s.dirty || (!force && time.Since(s.lastSave) < saveDebounce) {
		s.mu.Unlock()
		return nil
	}
	f := stateFile{
		Schema: SchemaVersion,
		Sent:   make(map[string]SentRecord, len(s.sent)),
		Daily:  make(map[string]map[string]int, len(s.daily)),
	}
	for k, v := range s.sent {
		f.Sent[k] = v
	}
	for b, days := range s.daily {
		cp := make(map[string]int, len(days))
		for d, n := range days {
			cp[d] = n
		}
		f.Daily[b] = cp
	}
	s.dirty = false
	s.lastSave = time.Now()
	path := s.path
	s.mu.Unlock()

	if err := atomicio.WriteJSONAtomic(path, f); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("state save: %w", err)
	}
	return nil
}
