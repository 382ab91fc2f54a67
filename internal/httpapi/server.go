// Package httpapi exposes the engine over a JSON HTTP API, plus an SSE
// stream of optimized-parameter changes.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"backlab/internal/domain"
	"backlab/internal/engine"
	"backlab/internal/paramstore"
	"backlab/internal/store"
	"backlab/internal/strategy"
)

// Server serves the engine HTTP API.
type Server struct {
	engine   *engine.Engine
	registry *strategy.Registry
	bars     store.BarStore
	runs     store.RunStore
	params   *paramstore.Store
	log      *slog.Logger
}

// NewServer creates a new API server.
func NewServer(
	eng *engine.Engine,
	registry *strategy.Registry,
	bars store.BarStore,
	runs store.RunStore,
	params *paramstore.Store,
	log *slog.Logger,
) *Server {
	return &Server{
		engine:   eng,
		registry: registry,
		bars:     bars,
		runs:     runs,
		params:   params,
		log:      log,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/backtest", s.handleBacktest)
	mux.HandleFunc("POST /api/grid-search", s.handleGridSearch)
	mux.HandleFunc("POST /api/monte-carlo", s.handleMonteCarlo)
	mux.HandleFunc("POST /api/walk-forward", s.handleWalkForward)
	mux.HandleFunc("POST /api/portfolio", s.handlePortfolio)

	mux.HandleFunc("GET /api/strategies", s.handleStrategies)
	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)

	mux.HandleFunc("GET /api/params", s.handleParams)
	mux.HandleFunc("GET /api/params/stream", s.handleParamsStream)
	mux.HandleFunc("DELETE /api/params/{strategy}/{symbol}", s.handleDeleteParams)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func decode[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return req, false
	}
	return req, true
}

// ---------------------------------------------------------------------------
// Run endpoints
// ---------------------------------------------------------------------------

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[engine.BacktestRequest](w, r)
	if !ok {
		return
	}
	resp, err := s.engine.RunBacktest(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleGridSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[engine.GridSearchRequest](w, r)
	if !ok {
		return
	}
	resp, err := s.engine.RunGridSearch(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleMonteCarlo(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[engine.MonteCarloRequest](w, r)
	if !ok {
		return
	}
	resp, err := s.engine.RunMonteCarlo(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleWalkForward(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[engine.WalkForwardRequest](w, r)
	if !ok {
		return
	}
	resp, err := s.engine.RunWalkForward(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	req, ok := decode[engine.PortfolioRequest](w, r)
	if !ok {
		return
	}
	resp, err := s.engine.RunPortfolio(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, resp)
}

// ---------------------------------------------------------------------------
// Catalog endpoints
// ---------------------------------------------------------------------------

// StrategyInfo describes one registered strategy.
type StrategyInfo struct {
	Name   string                    `json:"name"`
	Ranges []strategy.ParameterRange `json:"ranges"`
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	names := s.registry.List()
	infos := make([]StrategyInfo, 0, len(names))
	for _, name := range names {
		strat, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, StrategyInfo{Name: name, Ranges: strat.ParameterRanges()})
	}
	writeJSON(w, map[string][]StrategyInfo{"strategies": infos})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	market := r.URL.Query().Get("market")
	if market == "" {
		market = string(domain.MarketUS)
	}
	symbols, err := s.bars.ListSymbols(r.Context(), market)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing symbols failed")
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, map[string]any{"market": market, "symbols": symbols})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	kind := domain.RunKind(r.URL.Query().Get("kind"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := s.runs.ListRuns(r.Context(), kind, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing runs failed")
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	writeJSON(w, map[string][]domain.RunRecord{"runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, rec)
}

// ---------------------------------------------------------------------------
// Optimized parameter endpoints
// ---------------------------------------------------------------------------

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"params": s.params.Snapshot()})
}

func (s *Server) handleDeleteParams(w http.ResponseWriter, r *http.Request) {
	strategyName := r.PathValue("strategy")
	symbol := strings.ToUpper(r.PathValue("symbol"))
	s.params.Delete(strategyName, symbol)
	w.WriteHeader(http.StatusNoContent)
}

// handleParamsStream pushes parameter changes over SSE, starting with a full
// snapshot.
func (s *Server) handleParamsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := s.params.Subscribe(16)
	defer s.params.Unsubscribe(id)

	send := func(e paramstore.Event) bool {
		data, err := json.Marshal(e)
		if err != nil {
			s.log.Error("marshalling SSE event", "error", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(paramstore.Event{Type: "snapshot", Data: s.params.Snapshot()}) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-ch:
			if !open {
				return
			}
			if !send(e) {
				return
			}
		}
	}
}
