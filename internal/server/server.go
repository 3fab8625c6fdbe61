package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tickerboard/internal/batch"
	"tickerboard/internal/config"
	"tickerboard/internal/ticker"
)

// Server exposes the batch aggregator endpoint, on-demand detail fill and
// engine health.
type Server struct {
	mux    *http.ServeMux
	agg    *batch.Aggregator
	engine *ticker.Aggregator
	store  *ticker.RecordStore
	lazy   *ticker.LazyDetailFetcher
	fresh  int
	stale  int
	log    *zap.Logger
}

// NewClient builds the shared exchange-facing HTTP client with transport
// timeouts; per-call deadlines come from request contexts.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func New(agg *batch.Aggregator, engine *ticker.Aggregator, store *ticker.RecordStore, lazy *ticker.LazyDetailFetcher, cfg config.BatchConfig, log *zap.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		agg:    agg,
		engine: engine,
		store:  store,
		lazy:   lazy,
		fresh:  cfg.FreshSeconds,
		stale:  cfg.StaleSeconds,
		log:    log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/api/tickers", http.HandlerFunc(s.handleTickers))
	s.mux.Handle("/api/details", http.HandlerFunc(s.handleDetails))
	s.mux.Handle("/healthz", http.HandlerFunc(s.handleHealth))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleTickers serves the merged record set. Partial window failures still
// return 200 with nulled fields; only losing the 24h list itself is fatal.
func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	res, err := s.agg.Aggregate(r.Context())
	if err != nil {
		s.log.Error("aggregation failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control",
		fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d", s.fresh, s.stale))
	w.Header().Set("X-Aggregation-Status", res.Status())
	json.NewEncoder(w).Encode(res.Records)
}

// handleDetails triggers a lazy fill for one symbol and returns its record.
// Concurrent requests for the same symbol collapse into one upstream fetch.
func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}
	s.lazy.FetchDetails(r.Context(), symbol)

	snap := s.store.Snapshot()
	rec, ok := snap[symbol]
	if !ok {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := map[string]any{"time": time.Now().UTC()}
	if s.engine != nil {
		report["stream"] = s.engine.Health()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
