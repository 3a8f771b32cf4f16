// Package provider defines the market-data provider contract and the
// implementations the ingestor consumes.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/quantive/signalscan/internal/market"
)

// DefaultTimeout bounds every provider call.
const DefaultTimeout = 15 * time.Second

// Provider fetches UTC-timestamped OHLC candles. Implementations are
// idempotent; callers retry per their own policy.
type Provider interface {
	// Name identifies the provider in logs and the boot banner.
	Name() string
	// Candles returns up to limit candles at tf for symbol. When since is
	// non-zero only candles strictly after it are returned.
	Candles(ctx context.Context, symbol string, tf market.Timeframe, limit int, since time.Time) ([]market.Candle, error)
}

// New constructs a provider by name. Supported: "synthetic" and "httpjson"
// (baseURL required for the latter).
func New(name, baseURL string) (Provider, error) {
	switch name {
	case "", "synthetic":
		return NewSynthetic(0), nil
	case "httpjson":
		if baseURL == "" {
			return nil, fmt.Errorf("provider httpjson requires a base URL")
		}
		return NewHTTPJSON(baseURL), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}
