// Package health renders the startup banner and the health snapshot
// served by the API and the health subcommand.
package health

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Snapshot is the deterministic health document. Field order is fixed
// by the struct so repeated renders of the same state are byte-equal.
type Snapshot struct {
	Status                string   `json:"status"`
	AppVersion            string   `json:"app_version"`
	GitSHA                string   `json:"git_sha"`
	UptimeS               int64    `json:"uptime_s"`
	StrategiesLoadedCount int      `json:"strategies_loaded_count"`
	InvalidStrategies     []string `json:"invalid_strategies"`
	UnknownDetectorsCount int      `json:"unknown_detectors_count"`
	LastScanTS            string   `json:"last_scan_ts"`
	LastScanID            string   `json:"last_scan_id"`
	MetricsEventsFileSize int64    `json:"metrics_events_file_size"`
	PatchAuditFileSize    int64    `json:"patch_audit_file_size"`
}

// Checker aggregates the live readings behind the snapshot. Nil probes
// read as zero values.
type Checker struct {
	AppVersion string
	GitSHA     string
	Started    time.Time

	Strategies      func() (loaded int, invalid []string, unknownDetectors int)
	LastScan        func() (ts time.Time, scanID string)
	MetricsFileSize func() int64
	PatchAuditSize  func() int64
}

// Snapshot takes the current readings. Status degrades only when an
// enabled strategy failed validation.
func (c *Checker) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Status:            StatusOK,
		AppVersion:        c.AppVersion,
		GitSHA:            c.GitSHA,
		UptimeS:           int64(now.Sub(c.Started).Seconds()),
		InvalidStrategies: []string{},
	}
	if c.Strategies != nil {
		loaded, invalid, unknown := c.Strategies()
		s.StrategiesLoadedCount = loaded
		s.UnknownDetectorsCount = unknown
		if len(invalid) > 0 {
			s.InvalidStrategies = invalid
			s.Status = StatusDegraded
		}
	}
	if c.LastScan != nil {
		ts, id := c.LastScan()
		if !ts.IsZero() {
			s.LastScanTS = ts.UTC().Format(time.RFC3339)
		}
		s.LastScanID = id
	}
	if c.MetricsFileSize != nil {
		s.MetricsEventsFileSize = c.MetricsFileSize()
	}
	if c.PatchAuditSize != nil {
		s.PatchAuditFileSize = c.PatchAuditSize()
	}
	return s
}

// JSON renders the snapshot.
func (s Snapshot) JSON() []byte {
	out, _ := json.Marshal(s)
	return out
}

// BannerInfo carries everything the one-line boot banner reports.
type BannerInfo struct {
	AppVersion     string
	GitSHA         string
	StrategySchema int
	ExplainSchema  int
	MetricsSchema  int
	Detectors      int
	PresetsDir     string
	NotifyMode     string
	Provider       string
}

// Banner returns the single startup line.
func (b BannerInfo) Banner() string {
	return fmt.Sprintf("STARTUP_BANNER | %s | %s | strategy_schema=%d | explain_schema=%d | metrics_schema=%d | detectors=%d | presets_dir=%s | notify_mode=%s | provider=%s",
		b.AppVersion, b.GitSHA, b.StrategySchema, b.ExplainSchema, b.MetricsSchema,
		b.Detectors, b.PresetsDir, b.NotifyMode, b.Provider)
}

// Log emits the banner through the structured logger as well.
func (b BannerInfo) Log() {
	log.Info().
		Str("app_version", b.AppVersion).
		Str("git_sha", b.GitSHA).
		Int("strategy_schema", b.StrategySchema).
		Int("explain_schema", b.ExplainSchema).
		Int("metrics_schema", b.MetricsSchema).
		Int("detectors", b.Detectors).
		Str("presets_dir", b.PresetsDir).
		Str("notify_mode", b.NotifyMode).
		Str("provider", b.Provider).
		Msg("STARTUP_BANNER")
}
