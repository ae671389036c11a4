package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/pkg/logging"
)

type stubCaller struct {
	stats     core.StatsResponse
	positions []core.ExchangePosition
	orders    []core.PlaceOrderRequest
	orderErr  string
	callErr   error
}

func (s *stubCaller) Call(_ context.Context, topic string, request, out interface{}) error {
	if s.callErr != nil {
		return s.callErr
	}
	switch topic {
	case bus.TopicPositions:
		*out.(*core.PositionsResponse) = core.PositionsResponse{Positions: s.positions}
	case bus.TopicPortfolioStats:
		*out.(*core.StatsResponse) = s.stats
	case bus.TopicPlaceOrder:
		s.orders = append(s.orders, request.(core.PlaceOrderRequest))
		*out.(*core.PlaceOrderResponse) = core.PlaceOrderResponse{OrderID: 42, Status: core.StatusNew, Err: s.orderErr}
	}
	return nil
}

type stubExchange struct {
	core.Exchange
	canceled  []int64
	cancelErr error
}

func (s *stubExchange) CancelOrder(_ context.Context, _ string, orderID int64) error {
	if s.cancelErr != nil {
		return s.cancelErr
	}
	s.canceled = append(s.canceled, orderID)
	return nil
}

func newTestServer(caller *stubCaller, exchange *stubExchange) *httptest.Server {
	s := New("BTCUSDT", 0, caller, exchange, logging.NewNop())
	return httptest.NewServer(s.Handler())
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestGetPosition(t *testing.T) {
	caller := &stubCaller{positions: []core.ExchangePosition{
		{Symbol: "BTCUSDT", Qty: decimal.NewFromFloat(0.5), EntryPrice: decimal.NewFromInt(50000)},
	}}
	ts := newTestServer(caller, &stubExchange{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/position")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var positions []core.ExchangePosition
	decodeBody(t, resp, &positions)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
}

func TestCreateLimitOrder(t *testing.T) {
	caller := &stubCaller{}
	ts := newTestServer(caller, &stubExchange{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/create-order",
		`{"side":"BUY","quantity":"0.01","price":"50000","timeInForce":"GTC"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ack core.PlaceOrderResponse
	decodeBody(t, resp, &ack)
	assert.Equal(t, int64(42), ack.OrderID)

	require.Len(t, caller.orders, 1)
	assert.Equal(t, core.TypeLimit, caller.orders[0].OrderType)
	assert.Equal(t, core.SideBuy, caller.orders[0].Side)
	assert.Equal(t, core.TIFGoodTillCancel, caller.orders[0].TIF)
}

func TestCreateOrderRejectsBadSide(t *testing.T) {
	ts := newTestServer(&stubCaller{}, &stubExchange{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/create-order", `{"side":"SIDEWAYS","quantity":"1","price":"100"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["error"], "side")
}

func TestCreateOrderRejectsNonPositiveQuantity(t *testing.T) {
	ts := newTestServer(&stubCaller{}, &stubExchange{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/create-order", `{"side":"BUY","quantity":"0","price":"100"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateMarketOrder(t *testing.T) {
	caller := &stubCaller{}
	ts := newTestServer(caller, &stubExchange{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/create-market-order", `{"side":"SELL","quantity":"0.25"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, caller.orders, 1)
	assert.Equal(t, core.TypeMarket, caller.orders[0].OrderType)
	assert.Equal(t, core.SideSell, caller.orders[0].Side)
}

func TestCreateOrderVenueRejectionIsNon2xx(t *testing.T) {
	caller := &stubCaller{orderErr: "order rejected: margin is insufficient"}
	ts := newTestServer(caller, &stubExchange{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/create-market-order", `{"side":"BUY","quantity":"1"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["error"], "margin")
}

func TestCancelOrder(t *testing.T) {
	exchange := &stubExchange{}
	ts := newTestServer(&stubCaller{}, exchange)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/cancel-order", `{"orderId":7}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []int64{7}, exchange.canceled)
}

func TestCancelOrderRequiresID(t *testing.T) {
	ts := newTestServer(&stubCaller{}, &stubExchange{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/cancel-order", `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelOrderVenueError(t *testing.T) {
	exchange := &stubExchange{cancelErr: core.ErrOrderNotFound}
	ts := newTestServer(&stubCaller{}, exchange)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/cancel-order", `{"orderId":9}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestPortfolioState(t *testing.T) {
	caller := &stubCaller{stats: core.StatsResponse{
		RealizedPnl: decimal.NewFromInt(12),
		CashBalance: decimal.NewFromInt(10000),
	}}
	ts := newTestServer(caller, &stubExchange{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/portfolio_state")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats core.StatsResponse
	decodeBody(t, resp, &stats)
	assert.True(t, stats.RealizedPnl.Equal(decimal.NewFromInt(12)))
}

func TestBusTimeoutReturns502(t *testing.T) {
	caller := &stubCaller{callErr: core.ErrRequestTimeout}
	ts := newTestServer(caller, &stubExchange{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/position")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
