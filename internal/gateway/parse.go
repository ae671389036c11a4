package gateway

import (
	"encoding/json"
	"fmt"

	"futuresbot/internal/core"

	"github.com/shopspring/decimal"
)

// Wire formats for the combined market stream and the user-data stream.
// Field names follow the venue's single-letter convention.

type streamHeader struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

type depthEvent struct {
	EventType string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		EndTime   int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

type orderTradeUpdateEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Side          string `json:"S"`
		OrderType     string `json:"o"`
		TimeInForce   string `json:"f"`
		OrigQty       string `json:"q"`
		ExecType      string `json:"x"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		LastQty       string `json:"l"`
		CumFilledQty  string `json:"z"`
		LastPrice     string `json:"L"`
		Commission    string `json:"n"`
		CommissionAst string `json:"N"`
		TradeTime     int64  `json:"T"`
		TradeID       int64  `json:"t"`
		AvgPrice      string `json:"ap"`
		StopPrice     string `json:"sp"`
		IsMaker       bool   `json:"m"`
		RealizedPnl   string `json:"rp"`
		PositionSide  string `json:"ps"`
	} `json:"o"`
}

func eventType(data []byte) string {
	var hdr streamHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		return ""
	}
	return hdr.EventType
}

// parseDecimal treats an absent field as zero; the venue omits some
// numeric fields on non-trade events.
func parseDecimal(name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q: %v", core.ErrDecode, name, s, err)
	}
	return d, nil
}

// parseDepth converts a partial-depth event into an order book snapshot.
func parseDepth(data []byte) (*core.OrderBook, error) {
	var evt depthEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("%w: depth event: %v", core.ErrDecode, err)
	}

	parseLevels := func(raw [][]string, side string) ([]core.PriceLevel, error) {
		levels := make([]core.PriceLevel, 0, len(raw))
		for _, pair := range raw {
			if len(pair) != 2 {
				return nil, fmt.Errorf("%w: %s level has %d fields", core.ErrDecode, side, len(pair))
			}
			price, err := parseDecimal(side+" price", pair[0])
			if err != nil {
				return nil, err
			}
			size, err := parseDecimal(side+" size", pair[1])
			if err != nil {
				return nil, err
			}
			levels = append(levels, core.PriceLevel{Price: price, Size: size})
		}
		return levels, nil
	}

	bids, err := parseLevels(evt.Bids, "bid")
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(evt.Asks, "ask")
	if err != nil {
		return nil, err
	}

	return &core.OrderBook{
		ContractName: evt.Symbol,
		Timestamp:    evt.EventTime,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// parseKline converts a kline event into a candlestick.
func parseKline(data []byte) (*core.Kline, error) {
	var evt klineEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("%w: kline event: %v", core.ErrDecode, err)
	}

	k := evt.Kline
	kline := &core.Kline{
		Symbol:    evt.Symbol,
		Interval:  k.Interval,
		StartTime: k.StartTime,
		EndTime:   k.EndTime,
		IsClosed:  k.IsClosed,
	}

	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", k.Open, &kline.Open},
		{"high", k.High, &kline.High},
		{"low", k.Low, &kline.Low},
		{"close", k.Close, &kline.Close},
		{"volume", k.Volume, &kline.Volume},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst, _ = d.Float64()
	}
	return kline, nil
}

// parseOrderTradeUpdate normalizes an ORDER_TRADE_UPDATE into the
// domain execution event. Unknown enum values are an error; the caller
// logs and skips the event rather than guessing.
func parseOrderTradeUpdate(data []byte) (*core.OrderEvent, error) {
	var evt orderTradeUpdateEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("%w: order trade update: %v", core.ErrDecode, err)
	}
	if evt.EventType != "ORDER_TRADE_UPDATE" {
		return nil, fmt.Errorf("%w: unexpected event type %q", core.ErrDecode, evt.EventType)
	}

	o := evt.Order

	side, err := core.ParseSide(o.Side)
	if err != nil {
		return nil, err
	}
	positionSide, err := core.ParsePositionSide(o.PositionSide)
	if err != nil {
		return nil, err
	}
	execType, err := core.ParseExecutionType(o.ExecType)
	if err != nil {
		return nil, err
	}
	status, err := core.ParseOrderStatus(o.Status)
	if err != nil {
		return nil, err
	}
	orderType, err := core.ParseOrderType(o.OrderType)
	if err != nil {
		return nil, err
	}
	tif, err := core.ParseTimeInForce(o.TimeInForce)
	if err != nil {
		return nil, err
	}

	event := &core.OrderEvent{
		Symbol:        o.Symbol,
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Side:          side,
		PositionSide:  positionSide,
		ExecType:      execType,
		Status:        status,
		OrderType:     orderType,
		TimeInForce:   tif,
		IsMaker:       o.IsMaker,
		EventTimeMs:   evt.EventTime,
		TradeTimeMs:   o.TradeTime,
	}

	decimals := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"orig qty", o.OrigQty, &event.OrigQty},
		{"cum filled qty", o.CumFilledQty, &event.CumFilledQty},
		{"avg price", o.AvgPrice, &event.AvgPrice},
		{"last qty", o.LastQty, &event.LastQty},
		{"last price", o.LastPrice, &event.LastPrice},
		{"commission", o.Commission, &event.Commission},
		{"realized pnl", o.RealizedPnl, &event.RealizedPnl},
		{"stop price", o.StopPrice, &event.StopPrice},
	}
	for _, f := range decimals {
		if *f.dst, err = parseDecimal(f.name, f.raw); err != nil {
			return nil, err
		}
	}
	return event, nil
}
