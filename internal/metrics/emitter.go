// Package metrics emits one event per scan outcome to an append-only
// JSONL log and mirrors counters into the Prometheus registry.
package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/atomicio"
)

// SchemaVersion of the metrics event.
const SchemaVersion = 1

// Event is the per-outcome telemetry record. Compact JSON separators;
// exactly one event per scan outcome.
type Event struct {
	TS           time.Time `json:"ts"`
	ScanID       string    `json:"scan_id"`
	Symbol       string    `json:"symbol"`
	TF           string    `json:"tf"`
	StrategyID   string    `json:"strategy_id"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason"`
	Score        float64   `json:"score"`
	RR           float64   `json:"rr"`
	Regime       string    `json:"regime"`
	Candidates   int       `json:"candidates"`
	FailoverUsed bool      `json:"failover_used"`
	ParamsDigest string    `json:"params_digest"`
	TopHits      []string  `json:"top_hits"`
	HitCount     int       `json:"hit_count"`

	BlockedWinnerStrategyID string `json:"blocked_winner_strategy_id,omitempty"`
	BlockedReason           string `json:"blocked_reason,omitempty"`
}

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalscan_scans_total",
		Help: "Scan outcomes by status.",
	}, []string{"status"})
	SignalsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalscan_signals_emitted_total",
		Help: "Accepted signals persisted.",
	})
	GovernanceBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalscan_governance_blocks_total",
		Help: "Governance blocks by reason.",
	}, []string{"reason"})
	QueueEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalscan_queue_events_total",
		Help: "Queue events by terminal status.",
	}, []string{"status"})
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalscan_notifications_sent_total",
		Help: "Telegram messages delivered.",
	})
	CachedSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signalscan_cached_symbols",
		Help: "Symbols held in the market cache.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signalscan_queue_depth",
		Help: "Queue events not in a terminal state.",
	})
)

// Emitter appends events to the JSONL log. Emit never returns an error:
// telemetry must not fail a scan, so failures are logged and dropped.
type Emitter struct {
	mu   sync.Mutex
	path string
}

// NewEmitter creates an emitter writing to path.
func NewEmitter(path string) *Emitter {
	return &Emitter{path: path}
}

// Emit appends one event and bumps the Prometheus counters.
func (e *Emitter) Emit(ev Event) {
	ev.TS = ev.TS.UTC()
	ScansTotal.WithLabelValues(ev.Status).Inc()

	line, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("metrics event marshal failed")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := atomicio.AppendLine(e.path, line); err != nil {
		log.Error().Err(err).Str("path", e.path).Msg("metrics event append failed")
	}
}

// FileSize returns the current size of the metrics log in bytes.
func (e *Emitter) FileSize() int64 {
	info, err := os.Stat(e.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
