// Package api serves entity history, price quotes and live trading state
// over HTTP and websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"paperTrading/internal/fixedpoint"
	"paperTrading/internal/metrics"
	"paperTrading/internal/model"
	"paperTrading/internal/quote"
	"paperTrading/internal/storage"
	"paperTrading/internal/trading"
)

// Config for the API server.
type Config struct {
	Addr         string
	ExplorerBase string
	PollInterval time.Duration
}

// Deps are the collaborators behind the routes. Store is required; the
// state routes answer 503 without a Reader.
type Deps struct {
	Store    storage.EntityStore
	History  HistorySource
	Quotes   quote.Provider
	Reader   trading.StateReader
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server provides the REST and websocket API.
type Server struct {
	config Config
	deps   Deps
	router *mux.Router
	logger *zap.Logger
}

type ErrorResponse struct {
	Message string `json:"message"`
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.History == nil {
		deps.History = deps.Store
	}
	if deps.Quotes == nil {
		deps.Quotes = quote.NewService(nil)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		router: mux.NewRouter(),
		logger: deps.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(metricsMiddleware(s.deps.Metrics))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/history/{kind}", s.handleHistory).Methods("GET")
	api.HandleFunc("/entities/{id}", s.handleEntity).Methods("GET")
	api.HandleFunc("/unreconciled", s.handleUnreconciled).Methods("GET")
	api.HandleFunc("/price", s.handlePrice).Methods("GET")
	api.HandleFunc("/price/historical", s.handlePriceHistory).Methods("GET")
	api.HandleFunc("/accounts/{address}/state", s.handleState).Methods("GET")
	api.HandleFunc("/accounts/{address}/subscribe", s.handleSubscribe)
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server starting", zap.String("addr", s.config.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Message: message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q, err := historyQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entities, err := s.deps.History.Recent(r.Context(), q)
	if err != nil {
		s.logger.Warn("history query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": HistoryItems(entities, s.config.ExplorerBase),
		"limit": q.EffectiveLimit(),
	})
}

func historyQuery(r *http.Request) (storage.Query, error) {
	q := storage.Query{User: r.URL.Query().Get("user")}
	if q.User != "" && !common.IsHexAddress(q.User) {
		return q, errors.New("invalid user address")
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return q, errors.New("invalid limit")
		}
		q.Limit = n
	}

	kinds := mux.Vars(r)["kind"]
	if kinds == "" {
		kinds = r.URL.Query().Get("kind")
	}
	if kinds == "" {
		q.Kinds = DefaultHistoryKinds
		return q, nil
	}
	for _, part := range strings.Split(kinds, ",") {
		kind, err := model.ParseEventKind(part)
		if err != nil {
			return q, err
		}
		q.Kinds = append(q.Kinds, kind)
	}
	return q, nil
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	id := model.EntityID(strings.ToLower(mux.Vars(r)["id"]))
	entity, err := s.deps.Store.ByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	if err != nil {
		s.logger.Warn("entity lookup failed", zap.String("entity_id", string(id)), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "entity lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, NewHistoryItem(entity, s.config.ExplorerBase))
}

func (s *Server) handleUnreconciled(w http.ResponseWriter, r *http.Request) {
	entities, err := s.deps.Store.Unreconciled(r.Context())
	if err != nil {
		s.logger.Warn("unreconciled query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": HistoryItems(entities, s.config.ExplorerBase),
	})
}

type priceResponse struct {
	quote.Spot
	Synthesized bool `json:"synthesized"`
}

type priceHistoryResponse struct {
	Points      []quote.PricePoint `json:"points"`
	Synthesized bool               `json:"synthesized"`
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Quotes.Spot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "price unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, priceResponse{Spot: result.Data, Synthesized: result.IsSynthesized()})
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Quotes.History(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "price history unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, priceHistoryResponse{Points: result.Data, Synthesized: result.IsSynthesized()})
}

type stateResponse struct {
	trading.StateView
	DepositState string `json:"deposit_state,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reader == nil {
		s.writeError(w, http.StatusServiceUnavailable, "live reads not configured")
		return
	}
	account, ok := accountVar(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	var deposit *big.Int
	if raw := r.URL.Query().Get("deposit"); raw != "" {
		v, err := fixedpoint.ParseWETH(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		deposit = v
	}

	reads := s.deps.Reader.Read(r.Context(), account)
	var spot *quote.Result[quote.Spot]
	if result, err := s.deps.Quotes.Spot(r.Context()); err == nil {
		spot = &result
	}
	state := trading.ComputeState(account, reads, spot, nil)
	resp := stateResponse{StateView: state.View()}
	if deposit != nil && state.WETHAllowance != nil {
		flow := trading.NewDepositFlow(account, common.Address{}, nil, nil)
		flow.SetAmount(deposit)
		flow.ObserveAllowance(state.WETHAllowance)
		resp.DepositState = flow.State().String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func accountVar(r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
