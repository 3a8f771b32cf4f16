package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quantive/signalscan/internal/market"
)

// HTTPJSON pulls candles from a generic JSON endpoint:
//
//	GET {base}/candles?symbol=S&tf=M5&limit=N[&since=RFC3339]
//
// responding with a JSON array of {time, open, high, low, close, volume}.
type HTTPJSON struct {
	base   string
	client *http.Client
}

// NewHTTPJSON creates the provider with the default 15s timeout.
func NewHTTPJSON(base string) *HTTPJSON {
	return &HTTPJSON{
		base:   base,
		client: &http.Client{Timeout: DefaultTimeout},
	}
}

func (p *HTTPJSON) Name() string { return "httpjson" }

func (p *HTTPJSON) Candles(ctx context.Context, symbol string, tf market.Timeframe, limit int, since time.Time) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("tf", string(tf))
	q.Set("limit", strconv.Itoa(limit))
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/candles?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("httpjson: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpjson: %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("httpjson: %s: unexpected status %d", symbol, resp.StatusCode)
	}

	var out []market.Candle
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("httpjson: %s: decode: %w", symbol, err)
	}
	return out, nil
}
