// Package api provides the HTTP handlers for querying and driving a
// simulation: account and position queries, manual order entry, run
// control, analytics and database backups.
//
// All monetary values use shopspring/decimal and are encoded as strings.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/events"
	"github.com/quantsim/sim-exchange/internal/exchange"
	"github.com/quantsim/sim-exchange/internal/model"
	"github.com/quantsim/sim-exchange/internal/sim"
	"github.com/quantsim/sim-exchange/internal/store"
)

// Service serves one simulation session.
type Service struct {
	session *sim.Session
	engine  *exchange.Engine
	store   store.Store
	backups *store.Backups // nil unless the store is a SQLite file
	hub     *events.Hub    // nil disables /ws
	log     *slog.Logger
}

// NewService creates the HTTP service. Pass nil for backups or hub when the
// feature is not available.
func NewService(session *sim.Session, engine *exchange.Engine, st store.Store, backups *store.Backups, hub *events.Hub) *Service {
	return &Service{
		session: session,
		engine:  engine,
		store:   st,
		backups: backups,
		hub:     hub,
		log:     slog.Default().With("component", "api"),
	}
}

// Routes mounts the handlers under r.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Get("/account", s.GetAccount)
	r.Get("/positions", s.ListPositions)
	r.Get("/orders", s.ListOrders)
	r.Post("/orders", s.SubmitOrder)
	r.Get("/orders/{orderID}", s.GetOrder)
	r.Delete("/orders/{orderID}", s.CancelOrder)
	r.Get("/trades", s.ListTrades)
	r.Get("/snapshots", s.ListSnapshots)

	r.Get("/simulation", s.GetState)
	r.Post("/simulation/stop", s.Stop)
	r.Get("/simulation/results", s.GetResults)
	r.Get("/simulation/report", s.GetReport)

	r.Get("/backups", s.ListBackups)
	r.Post("/backups", s.CreateBackup)
	r.Delete("/backups", s.CleanupBackups)
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"` // "BUY" or "SELL"
	Type   string          `json:"type"` // "MARKET" or "LIMIT"; default LIMIT when a price is given
	Volume int64           `json:"volume"`
	Price  decimal.Decimal `json:"price"`
}

// OrderResponse carries the order and, when refused, the rejection.
type OrderResponse struct {
	Order        model.Order      `json:"order"`
	RejectCode   model.RejectCode `json:"reject_code,omitempty"`
	RejectDetail string           `json:"reject_detail,omitempty"`
}

// StateResponse is the JSON body for GET /simulation.
type StateResponse struct {
	State      sim.State `json:"state"`
	Error      string    `json:"error,omitempty"`
	SimTime    string    `json:"sim_time,omitempty"`
	Symbols    []string  `json:"symbols"`
	OpenOrders int       `json:"open_orders"`
}

// --- Handlers ---

// GetAccount handles GET /api/v1/account
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.AccountInfo())
}

// ListPositions handles GET /api/v1/positions
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := s.session.Positions()
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListOrders handles GET /api/v1/orders. ?status=open limits the list to
// pending and partially filled orders.
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	var orders []model.Order
	switch strings.ToLower(r.URL.Query().Get("status")) {
	case "", "all":
		orders = s.engine.Orders()
	case "open":
		orders = s.engine.PendingOrders()
	default:
		writeError(w, "status must be open or all", http.StatusBadRequest)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// SubmitOrder handles POST /api/v1/orders
// A rejected order is still an order: it is returned with 422 and its
// reject code.
func (s *Service) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	sig := model.Signal{
		Symbol: req.Symbol,
		Side:   model.Side(strings.ToUpper(req.Side)),
		Type:   model.OrderType(strings.ToUpper(req.Type)),
		Volume: req.Volume,
		Price:  req.Price,
	}
	if sig.Type == "" {
		sig.Type = model.Market
		if req.Price.IsPositive() {
			sig.Type = model.Limit
		}
	}

	order, err := s.session.SubmitOrder(r.Context(), sig)
	if err != nil {
		if rej, ok := exchange.IsRejection(err); ok {
			writeJSON(w, http.StatusUnprocessableEntity, OrderResponse{Order: order, RejectCode: rej.Code, RejectDetail: rej.Detail})
			return
		}
		if errors.Is(err, exchange.ErrMalformedOrder) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Error("submit order", "symbol", sig.Symbol, "err", err)
		writeError(w, "failed to submit order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, OrderResponse{Order: order})
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.engine.Order(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, "order not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	order, err := s.session.CancelOrder(r.Context(), orderID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, order)
	case errors.Is(err, exchange.ErrOrderNotFound):
		writeError(w, "order not found", http.StatusNotFound)
	case errors.Is(err, model.ErrInvalidTransition):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		s.log.Error("cancel order", "order_id", orderID, "err", err)
		writeError(w, "failed to cancel order", http.StatusInternalServerError)
	}
}

// ListTrades handles GET /api/v1/trades
func (s *Service) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades := s.session.TradeHistory()
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ListSnapshots handles GET /api/v1/snapshots from the store.
func (s *Service) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	accountID := s.engine.Ledger().View().Account.ID
	snaps, err := s.store.ListSnapshots(r.Context(), accountID)
	if err != nil {
		s.log.Error("list snapshots", "account_id", accountID, "err", err)
		writeError(w, "failed to list snapshots", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetState handles GET /api/v1/simulation
func (s *Service) GetState(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{
		State:      s.session.State(),
		Symbols:    s.engine.Symbols(),
		OpenOrders: len(s.engine.PendingOrders()),
	}
	if err := s.session.Err(); err != nil {
		resp.Error = err.Error()
	}
	if now := s.engine.Now(); !now.IsZero() {
		resp.SimTime = now.Format(time.RFC3339)
	}
	if resp.Symbols == nil {
		resp.Symbols = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stop handles POST /api/v1/simulation/stop
func (s *Service) Stop(w http.ResponseWriter, r *http.Request) {
	if st := s.session.State(); st != sim.StateRunning {
		writeError(w, "simulation is "+string(st), http.StatusConflict)
		return
	}
	s.session.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// GetResults handles GET /api/v1/simulation/results: the signal outcomes
// of the most recent event.
func (s *Service) GetResults(w http.ResponseWriter, r *http.Request) {
	results := s.session.Results()
	if results == nil {
		results = []sim.SignalResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// GetReport handles GET /api/v1/simulation/report
func (s *Service) GetReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Report())
}

// ListBackups handles GET /api/v1/backups
func (s *Service) ListBackups(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackups(w) {
		return
	}
	list, err := s.backups.List()
	if err != nil {
		s.log.Error("list backups", "err", err)
		writeError(w, "failed to list backups", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []store.BackupInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateBackup handles POST /api/v1/backups
func (s *Service) CreateBackup(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackups(w) {
		return
	}
	path, err := s.backups.Backup(r.Context())
	if err != nil {
		s.log.Error("backup", "err", err)
		writeError(w, "backup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// CleanupBackups handles DELETE /api/v1/backups?days=N. Backups older than
// N days are removed; days=0 removes all of them.
func (s *Service) CleanupBackups(w http.ResponseWriter, r *http.Request) {
	if !s.requireBackups(w) {
		return
	}
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days < 0 {
		writeError(w, "days must be a non-negative integer", http.StatusBadRequest)
		return
	}
	removed, err := s.backups.Cleanup(days)
	if err != nil {
		s.log.Error("cleanup backups", "days", days, "removed", removed, "err", err)
		writeError(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Service) requireBackups(w http.ResponseWriter) bool {
	if s.backups == nil {
		writeError(w, "backups are only available for the sqlite store", http.StatusNotImplemented)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
