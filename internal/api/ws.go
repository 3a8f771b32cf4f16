package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quantive/signalscan/internal/market"
)

const (
	wsWriteDeadline = 10 * time.Second
	wsPollInterval  = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" ||
			strings.Contains(origin, "localhost") ||
			strings.Contains(origin, "127.0.0.1")
	},
}

// wsFrame is one pushed market update.
type wsFrame struct {
	Symbol string        `json:"symbol"`
	TF     string        `json:"tf"`
	Candle market.Candle `json:"candle"`
}

// handleMarketWS streams the latest candle for a symbol/timeframe at a
// 1s cadence, pushing only when the bar changed.
func (s *Server) handleMarketWS(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	tf := market.M5
	if raw := r.URL.Query().Get("tf"); raw != "" {
		parsed, err := market.ParseTimeframe(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tf = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	log.Debug().Str("symbol", symbol).Str("tf", string(tf)).Msg("ws client connected")

	// Reader goroutine only surfaces close; clients never send data.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	var lastSent market.Candle
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			candles := s.deps.Cache.Resampled(symbol, tf)
			if len(candles) == 0 {
				continue
			}
			latest := candles[len(candles)-1]
			if latest == lastSent {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteJSON(wsFrame{Symbol: symbol, TF: string(tf), Candle: latest}); err != nil {
				log.Debug().Err(err).Str("symbol", symbol).Msg("ws write failed")
				return
			}
			lastSent = latest
		}
	}
}
