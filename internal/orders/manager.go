package orders

import (
	"context"
	"encoding/json"
	"errors"

	"futuresbot/internal/bus"
	"futuresbot/internal/core"
)

// Manager consumes execution updates from the bus and keeps the order
// store current. A NEW execution inserts; everything else updates the
// existing row. An update for an unknown order falls back to insert so
// a restart mid-lifecycle does not lose the order.
type Manager struct {
	symbol   string
	broker   bus.Broker
	channels bus.Channels
	store    core.OrderStore
	logger   core.Logger
}

// NewManager creates the order manager worker.
func NewManager(symbol string, broker bus.Broker, channels bus.Channels, store core.OrderStore, logger core.Logger) *Manager {
	return &Manager{
		symbol:   symbol,
		broker:   broker,
		channels: channels,
		store:    store,
		logger:   logger.WithField("component", "order_manager"),
	}
}

// Run consumes the order update channel until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	sub, err := m.broker.Subscribe(ctx, m.channels.Execution(m.symbol))
	if err != nil {
		return err
	}
	defer sub.Close()

	m.logger.Info("Order manager started", "symbol", m.symbol)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-sub.C():
			if !ok {
				return nil
			}
			m.handle(ctx, env.Value)
		}
	}
}

func (m *Manager) handle(ctx context.Context, payload []byte) {
	var evt core.OrderEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		m.logger.Warn("Skipping undecodable execution update", "error", err)
		return
	}

	if evt.ExecType == core.ExecNew {
		if err := m.store.Insert(ctx, &evt); err != nil {
			m.logger.Error("Failed to insert order", "order_id", evt.OrderID, "error", err)
		} else {
			m.logger.Info("Order recorded", "order_id", evt.OrderID, "status", evt.Status)
		}
		return
	}

	err := m.store.Update(ctx, &evt)
	if errors.Is(err, core.ErrOrderNotFound) {
		// first event we saw for this order, e.g. after a restart
		err = m.store.Insert(ctx, &evt)
	}
	if err != nil {
		m.logger.Error("Failed to persist execution update", "order_id", evt.OrderID, "error", err)
		return
	}
	m.logger.Debug("Order updated",
		"order_id", evt.OrderID, "exec_type", evt.ExecType, "status", evt.Status,
		"filled", evt.CumFilledQty)
}
