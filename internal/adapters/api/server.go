// Package api serves a read-only HTTP view of the running portfolio plus an
// exposure check for proposed orders.
package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrodnm/kalshibot/internal/application/engine/portfolio"
	"github.com/alejandrodnm/kalshibot/internal/application/matchcache"
	"github.com/alejandrodnm/kalshibot/internal/application/risk"
	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Portfolio is the part of the engine the API reads. Both methods must be
// safe for concurrent use.
type Portfolio interface {
	Snapshot() portfolio.Snapshot
	CheckOrder(prop risk.Proposal) risk.Decision
}

// Matches looks up cached event matches.
type Matches interface {
	Get(key string) (matchcache.CachedMatch, bool)
}

// Server holds the HTTP handlers.
type Server struct {
	portfolio Portfolio
	matches   Matches
	metrics   http.Handler
}

// NewServer creates the API. metrics may be nil.
func NewServer(p Portfolio, m Matches, metrics http.Handler) *Server {
	return &Server{portfolio: p, matches: m, metrics: metrics}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/positions", s.positions)
		r.Get("/summary", s.summary)
		r.Get("/exposure", s.exposure)
		r.Post("/size", s.size)
		r.Get("/matches/{key}", s.match)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	snap := s.portfolio.Snapshot()
	resp := map[string]any{"status": "ok", "service": "kalshibot"}
	if !snap.At.IsZero() {
		resp["last_cycle"] = snap.At.UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

// positions handles GET /api/v1/positions. ?all=true includes settled ones.
func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	snap := s.portfolio.Snapshot()
	all := r.URL.Query().Get("all") == "true"
	out := make([]domain.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		if all || p.IsOpen() {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type summaryResponse struct {
	At            time.Time `json:"at"`
	Mode          string    `json:"mode"`
	Capital       float64   `json:"capital"`
	OpenPositions int       `json:"open_positions"`
	Exposure      float64   `json:"exposure"`
	Realized      float64   `json:"realized_pnl"`
	Unrealized    float64   `json:"unrealized_pnl"`
	Equity        float64   `json:"equity"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	ExitsPlaced   int       `json:"exits_placed"`
	ReconcileSkip bool      `json:"reconcile_skipped"`
	Warnings      []string  `json:"warnings,omitempty"`
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	snap := s.portfolio.Snapshot()
	writeJSON(w, http.StatusOK, summaryResponse{
		At:            snap.At,
		Mode:          snap.Report.Mode,
		Capital:       snap.Capital,
		OpenPositions: len(snap.Report.Marks),
		Exposure:      snap.Exposure.Total,
		Realized:      snap.Realized,
		Unrealized:    snap.Report.Unrealized,
		Equity:        snap.Report.Equity,
		Wins:          snap.Wins,
		Losses:        snap.Losses,
		ExitsPlaced:   snap.Report.ExitsPlaced,
		ReconcileSkip: snap.Report.ReconcileSkip,
		Warnings:      snap.Report.Warnings,
	})
}

type marketExposure struct {
	MarketID string      `json:"market_id"`
	Side     domain.Side `json:"side"`
	Exposure float64     `json:"exposure"`
}

type exposureResponse struct {
	Total    float64            `json:"total"`
	ByEvent  map[string]float64 `json:"by_event"`
	ByMarket []marketExposure   `json:"by_market"`
}

func (s *Server) exposure(w http.ResponseWriter, _ *http.Request) {
	snap := s.portfolio.Snapshot().Exposure
	resp := exposureResponse{Total: snap.Total, ByEvent: snap.ByEvent, ByMarket: []marketExposure{}}
	if resp.ByEvent == nil {
		resp.ByEvent = map[string]float64{}
	}
	for k, v := range snap.ByMarket {
		resp.ByMarket = append(resp.ByMarket, marketExposure{MarketID: k.MarketID, Side: k.Side, Exposure: v})
	}
	sort.Slice(resp.ByMarket, func(i, j int) bool {
		a, b := resp.ByMarket[i], resp.ByMarket[j]
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		return a.Side < b.Side
	})
	writeJSON(w, http.StatusOK, resp)
}

type sizeRequest struct {
	EventID  string  `json:"event_id"`
	MarketID string  `json:"market_id"`
	Side     string  `json:"side"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Hedge    bool    `json:"hedge"`
}

type sizeResponse struct {
	AllowedQty int    `json:"allowed_qty"`
	Violation  bool   `json:"violation"`
	Scaled     bool   `json:"scaled"`
	Binding    string `json:"binding,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// size handles POST /api/v1/size: how much of a proposed order the
// exposure limits allow against the last published snapshot.
func (s *Server) size(w http.ResponseWriter, r *http.Request) {
	var req sizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	side, ok := domain.ParseSide(req.Side)
	if !ok {
		writeError(w, "side must be yes or no", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" {
		writeError(w, "market_id is required", http.StatusBadRequest)
		return
	}
	if req.Price <= 0 || req.Price >= 1 {
		writeError(w, "price must be in (0, 1)", http.StatusBadRequest)
		return
	}
	eventID := req.EventID
	if eventID == "" {
		eventID = domain.EventFromMarket(req.MarketID)
	}

	d := s.portfolio.CheckOrder(risk.Proposal{
		EventID:    domain.NormalizeTicker(eventID),
		MarketID:   domain.NormalizeTicker(req.MarketID),
		Side:       side,
		DesiredQty: req.Quantity,
		Price:      req.Price,
		IsHedge:    req.Hedge,
	})
	writeJSON(w, http.StatusOK, sizeResponse{
		AllowedQty: d.AllowedQty,
		Violation:  d.Violation,
		Scaled:     d.Scaled,
		Binding:    d.Binding,
		Reason:     d.Reason,
	})
}

type quoteView struct {
	Ticker string   `json:"ticker"`
	Title  string   `json:"title"`
	YesBid *float64 `json:"yes_bid"`
	YesAsk *float64 `json:"yes_ask"`
}

type matchResponse struct {
	Key       string      `json:"key"`
	EventID   string      `json:"event_id"`
	Markets   []quoteView `json:"markets"`
	Timestamp time.Time   `json:"timestamp"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (s *Server) match(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	m, ok := s.matches.Get(key)
	if !ok {
		writeError(w, "match not cached", http.StatusNotFound)
		return
	}
	resp := matchResponse{Key: m.Key, EventID: m.EventID, Timestamp: m.Timestamp, ExpiresAt: m.ExpiresAt, Markets: []quoteView{}}
	for _, q := range m.Markets {
		resp.Markets = append(resp.Markets, quoteView{Ticker: q.Ticker, Title: q.Title, YesBid: q.YesBid, YesAsk: q.YesAsk})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
