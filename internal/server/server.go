// Package server exposes the admin HTTP surface for manual control and
// inspection of a running bot.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"

	"github.com/shopspring/decimal"
)

const requestTimeout = 10 * time.Second

// Caller issues request/response calls over the bus.
type Caller interface {
	Call(ctx context.Context, topic string, request, out interface{}) error
}

// Server is the admin HTTP server. Orders go through the bus like any
// other worker's; cancellation talks to the venue directly because no
// worker owns it.
type Server struct {
	symbol   string
	port     int
	caller   Caller
	exchange core.Exchange
	logger   core.Logger
	srv      *http.Server
}

// New creates the admin server.
func New(symbol string, port int, caller Caller, exchange core.Exchange, logger core.Logger) *Server {
	return &Server{
		symbol:   symbol,
		port:     port,
		caller:   caller,
		exchange: exchange,
		logger:   logger.WithField("component", "admin_server"),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /position", s.handlePosition)
	mux.HandleFunc("POST /create-order", s.handleCreateOrder)
	mux.HandleFunc("POST /create-market-order", s.handleCreateMarketOrder)
	mux.HandleFunc("POST /cancel-order", s.handleCancelOrder)
	mux.HandleFunc("GET /portfolio_state", s.handlePortfolioState)
	return mux
}

// Start serves the admin API in the background.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}
	go func() {
		s.logger.Info("Starting admin server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server failed", "error", err)
		}
	}()
}

// Stop gracefully stops the admin server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping admin server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var resp core.PositionsResponse
	if err := s.caller.Call(ctx, bus.TopicPositions, core.PositionsRequest{Symbol: s.symbol}, &resp); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if resp.Err != "" {
		s.writeError(w, http.StatusBadGateway, resp.Err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp.Positions)
}

type createOrderRequest struct {
	Side        string          `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TimeInForce string          `json:"timeInForce"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	side, err := core.ParseSide(body.Side)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Quantity.Sign() <= 0 || body.Price.Sign() <= 0 {
		s.writeError(w, http.StatusBadRequest, "quantity and price must be positive")
		return
	}
	tif := core.TIFGoodTillCancel
	if body.TimeInForce != "" {
		if tif, err = core.ParseTimeInForce(body.TimeInForce); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	s.placeOrder(w, r, core.PlaceOrderRequest{
		Symbol:    s.symbol,
		Side:      side,
		OrderType: core.TypeLimit,
		Qty:       body.Quantity,
		Price:     body.Price,
		TIF:       tif,
	})
}

func (s *Server) handleCreateMarketOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	side, err := core.ParseSide(body.Side)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Quantity.Sign() <= 0 {
		s.writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	s.placeOrder(w, r, core.PlaceOrderRequest{
		Symbol:    s.symbol,
		Side:      side,
		OrderType: core.TypeMarket,
		Qty:       body.Quantity,
	})
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request, req core.PlaceOrderRequest) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var resp core.PlaceOrderResponse
	if err := s.caller.Call(ctx, bus.TopicPlaceOrder, req, &resp); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if resp.Err != "" {
		s.writeError(w, http.StatusBadGateway, resp.Err)
		return
	}
	s.logger.Info("Manual order placed",
		"order_id", resp.OrderID, "side", req.Side, "type", req.OrderType, "qty", req.Qty)
	s.writeJSON(w, http.StatusOK, resp)
}

type cancelOrderRequest struct {
	OrderID int64 `json:"orderId"`
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var body cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.OrderID <= 0 {
		s.writeError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := s.exchange.CancelOrder(ctx, s.symbol, body.OrderID); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.logger.Info("Order canceled", "order_id", body.OrderID)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"orderId": body.OrderID, "status": "canceled"})
}

func (s *Server) handlePortfolioState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var resp core.StatsResponse
	if err := s.caller.Call(ctx, bus.TopicPortfolioStats, core.StatsRequest{Symbol: s.symbol}, &resp); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
