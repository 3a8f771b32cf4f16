package notify

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/metrics"
	"github.com/quantive/signalscan/internal/queue"
	"github.com/quantive/signalscan/internal/user"
)

// Delivery modes.
const (
	ModeOff       = "off"
	ModeAll       = "all"
	ModeAdminOnly = "admin_only"
)

// WorkerConfig tunes the queue drain loop.
type WorkerConfig struct {
	Mode             string
	BatchSize        int
	LockSeconds      int
	PollInterval     time.Duration
	DeliveryCooldown time.Duration
}

// DefaultWorkerConfig returns the standard drain settings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Mode:             ModeAll,
		BatchSize:        10,
		LockSeconds:      120,
		PollInterval:     5 * time.Second,
		DeliveryCooldown: 4 * time.Hour,
	}
}

// Worker drains the event queue and fans each event out to the users
// entitled to it. Delivery is at-least-once; the per-(user, setup_key)
// ledger in the queue database keeps retries from double-sending.
type Worker struct {
	cfg      WorkerConfig
	queue    *queue.Queue
	users    *user.Registry
	notifier Notifier
}

// NewWorker wires the drain loop.
func NewWorker(cfg WorkerConfig, q *queue.Queue, users *user.Registry, n Notifier) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.LockSeconds <= 0 {
		cfg.LockSeconds = 120
	}
	return &Worker{cfg: cfg, queue: q, users: users, notifier: n}
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.Mode == ModeOff {
		log.Info().Msg("notify worker disabled (mode off)")
		<-ctx.Done()
		return ctx.Err()
	}
	log.Info().Str("mode", w.cfg.Mode).Int("batch", w.cfg.BatchSize).Msg("notify worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Drain(ctx)
		}
	}
}

// Drain claims one batch and processes it. Exposed for the worker
// subcommand's --once flag.
func (w *Worker) Drain(ctx context.Context) {
	events, err := w.queue.Claim(w.cfg.BatchSize, w.cfg.LockSeconds)
	if err != nil {
		log.Error().Err(err).Msg("queue claim failed")
		return
	}
	for i := range events {
		w.process(ctx, &events[i])
	}
	if depth, err := w.queue.Depth(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}

// SignalPayload is the slice of the queued signal the message needs.
type SignalPayload struct {
	SignalID   string  `json:"signal_id"`
	UserID     string  `json:"user_id"`
	Symbol     string  `json:"symbol"`
	TF         string  `json:"tf"`
	Direction  string  `json:"direction"`
	Entry      float64 `json:"entry"`
	SL         float64 `json:"sl"`
	TP         float64 `json:"tp"`
	RR         float64 `json:"rr"`
	Score      float64 `json:"score"`
	StrategyID string  `json:"strategy_id"`
}

func (w *Worker) process(ctx context.Context, ev *queue.Event) {
	var sig SignalPayload
	if err := ev.Payload(&sig); err != nil {
		// Malformed payloads never become deliverable; park them as DONE
		// so they stop burning attempts.
		log.Error().Err(err).Int64("event", ev.ID).Msg("undecodable event payload")
		w.markDone(ev)
		return
	}

	now := time.Now().UTC()
	var failed bool
	for _, u := range w.users.Notifiable(w.cfg.Mode == ModeAdminOnly) {
		if sig.UserID != "" && sig.UserID != u.ID {
			continue
		}
		recent, err := w.queue.DeliveryRecent(u.ID, ev.SetupKey, now)
		if err != nil {
			log.Error().Err(err).Str("user", u.ID).Msg("delivery ledger lookup failed")
			failed = true
			continue
		}
		if recent {
			log.Debug().Str("user", u.ID).Str("setup_key", ev.SetupKey).Msg("delivery suppressed by cooldown")
			continue
		}
		if err := w.notifier.SendMessage(ctx, u.TelegramChatID, FormatSignal(&sig)); err != nil {
			logSendFailure(err, u.ID)
			if IsRetryable(err) {
				failed = true
			}
			continue
		}
		if err := w.queue.RecordDelivery(u.ID, ev.SetupKey, now, w.cfg.DeliveryCooldown); err != nil {
			log.Error().Err(err).Str("user", u.ID).Msg("delivery record failed")
		}
		metrics.NotificationsSent.Inc()
	}

	if failed {
		backoff := Backoff(ev.Attempts)
		if err := w.queue.MarkFailed(ev.ID, backoff); err != nil {
			log.Error().Err(err).Int64("event", ev.ID).Msg("mark failed errored")
			return
		}
		metrics.QueueEvents.WithLabelValues(queue.StatusFailed).Inc()
		log.Warn().Int64("event", ev.ID).Int("attempts", ev.Attempts).Dur("retry_in", backoff).Msg("event delivery failed")
		return
	}
	w.markDone(ev)
}

func (w *Worker) markDone(ev *queue.Event) {
	if err := w.queue.MarkDone(ev.ID); err != nil {
		log.Error().Err(err).Int64("event", ev.ID).Msg("mark done errored")
		return
	}
	metrics.QueueEvents.WithLabelValues(queue.StatusDone).Inc()
}

// Backoff returns the retry delay after the given attempt count:
// 60s doubling per attempt, capped at one hour.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	secs := 60.0 * math.Pow(2, float64(attempts-1))
	if secs > 3600 {
		secs = 3600
	}
	return time.Duration(secs) * time.Second
}

// FormatSignal renders the Telegram message body (MarkdownV2).
func FormatSignal(sig *SignalPayload) string {
	arrow := "🟢 LONG"
	if sig.Direction == "SELL" {
		arrow = "🔴 SHORT"
	}
	return fmt.Sprintf("%s *%s* %s\nEntry: `%s`\nStop: `%s`\nTarget: `%s`\nRR: `%s`  Score: `%s`\nStrategy: %s",
		arrow,
		EscapeMarkdown(sig.Symbol),
		EscapeMarkdown(sig.TF),
		EscapeMarkdown(fmtPrice(sig.Entry)),
		EscapeMarkdown(fmtPrice(sig.SL)),
		EscapeMarkdown(fmtPrice(sig.TP)),
		EscapeMarkdown(strconv.FormatFloat(sig.RR, 'f', 2, 64)),
		EscapeMarkdown(strconv.FormatFloat(sig.Score, 'f', 2, 64)),
		EscapeMarkdown(sig.StrategyID))
}

func fmtPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
