package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/quantive/signalscan/internal/market"
	"github.com/quantive/signalscan/internal/signals"
)

const maxStrategiesBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snap := s.deps.Health.Snapshot(time.Now())
	code := http.StatusOK
	if snap.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	w.Write(snap.JSON())
}

func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pairs":  s.deps.Users.Universe(),
		"cached": s.deps.Cache.Symbols(),
	})
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	s.serveCandles(w, r, r.URL.Query().Get("symbol"))
}

func (s *Server) handleMarketCandles(w http.ResponseWriter, r *http.Request) {
	s.serveCandles(w, r, mux.Vars(r)["symbol"])
}

func (s *Server) serveCandles(w http.ResponseWriter, r *http.Request, symbol string) {
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	tf := market.M5
	if raw := r.URL.Query().Get("tf"); raw != "" {
		parsed, err := market.ParseTimeframe(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		tf = parsed
	}
	limit := queryInt(r, "limit", 500)

	candles := s.deps.Cache.Resampled(symbol, tf)
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"tf":      string(tf),
		"candles": candles,
	})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	filter := signals.ListFilter{
		Symbol: r.URL.Query().Get("symbol"),
		UserID: r.URL.Query().Get("user"),
		Limit:  queryInt(r, "limit", 50),
	}
	list, err := s.deps.Signals.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signal history unavailable")
		return
	}
	if list == nil {
		list = []signals.PublicSignal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": list})
}

func (s *Server) handleSignalByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sig, found, err := s.deps.Signals.GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signal history unavailable")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "signal not found")
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleDetectors(w http.ResponseWriter, r *http.Request) {
	includeDocs := r.URL.Query().Get("include_docs") == "true" || r.URL.Query().Get("include_docs") == "1"
	writeJSON(w, http.StatusOK, map[string]any{
		"detectors": s.deps.Detectors.Docs(includeDocs),
	})
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": s.deps.Strategies(),
	})
}

// PUT /api/strategies replaces the caller's pack file; the body is
// validated before anything touches disk.
func (s *Server) handleStrategiesPut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStrategiesBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if errs := s.deps.ReloadStrategies(body); len(errs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation_failed",
			"errors": errs,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reloaded"})
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	s.deps.Scheduler.Resume()
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Scheduler.Pause()
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

func (s *Server) handleScanManual(w http.ResponseWriter, r *http.Request) {
	s.deps.Scheduler.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
