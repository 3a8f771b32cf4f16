package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantive/signalscan/internal/market"
)

// Resilient wraps a provider with an outbound rate limiter and a circuit
// breaker. When the breaker is open, calls fail fast and the ingestor falls
// back to its secondary provider for the cycle.
type Resilient struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewResilient wraps inner with rps outbound budget (0 disables limiting).
func NewResilient(inner Provider, rps float64) *Resilient {
	var lim *rate.Limiter
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("provider", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("provider circuit state change")
		},
	})
	return &Resilient{inner: inner, limiter: lim, breaker: cb}
}

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) Candles(ctx context.Context, symbol string, tf market.Timeframe, limit int, since time.Time) ([]market.Candle, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	out, err := r.breaker.Execute(func() (any, error) {
		return r.inner.Candles(ctx, symbol, tf, limit, since)
	})
	if err != nil {
		return nil, err
	}
	return out.([]market.Candle), nil
}

// Healthy reports whether the breaker currently admits calls.
func (r *Resilient) Healthy() bool {
	return r.breaker.State() != gobreaker.StateOpen
}
