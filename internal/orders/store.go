// Package orders persists execution updates and keeps the order log
// current as events stream in.
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"futuresbot/internal/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS futures_order (
	order_id        INTEGER PRIMARY KEY,
	symbol          TEXT NOT NULL,
	client_order_id TEXT NOT NULL,
	side            TEXT NOT NULL,
	position_side   TEXT NOT NULL,
	exec_type       TEXT NOT NULL,
	status          TEXT NOT NULL,
	order_type      TEXT NOT NULL,
	time_in_force   TEXT NOT NULL,
	orig_qty        TEXT NOT NULL,
	cum_filled_qty  TEXT NOT NULL,
	avg_price       TEXT NOT NULL,
	last_qty        TEXT NOT NULL,
	last_price      TEXT NOT NULL,
	commission      TEXT NOT NULL,
	realized_pnl    TEXT NOT NULL,
	stop_price      TEXT NOT NULL,
	is_maker        INTEGER NOT NULL,
	event_time_ms   INTEGER NOT NULL,
	trade_time_ms   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_futures_order_symbol ON futures_order(symbol);
`

// SQLiteStore implements core.OrderStore on a local SQLite database.
// Every write runs in its own transaction.
type SQLiteStore struct {
	db     *sql.DB
	logger core.Logger
}

// NewSQLiteStore opens (or creates) the database in WAL mode.
func NewSQLiteStore(path string, logger core.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open order store: %w", err)
	}
	// single writer; SQLite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create order schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "order_store"),
	}, nil
}

// Insert stores a new order row.
func (s *SQLiteStore) Insert(ctx context.Context, evt *core.OrderEvent) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO futures_order (
				order_id, symbol, client_order_id, side, position_side,
				exec_type, status, order_type, time_in_force,
				orig_qty, cum_filled_qty, avg_price, last_qty, last_price,
				commission, realized_pnl, stop_price, is_maker,
				event_time_ms, trade_time_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.OrderID, evt.Symbol, evt.ClientOrderID, string(evt.Side), string(evt.PositionSide),
			string(evt.ExecType), string(evt.Status), string(evt.OrderType), string(evt.TimeInForce),
			evt.OrigQty.String(), evt.CumFilledQty.String(), evt.AvgPrice.String(),
			evt.LastQty.String(), evt.LastPrice.String(),
			evt.Commission.String(), evt.RealizedPnl.String(), evt.StopPrice.String(), boolToInt(evt.IsMaker),
			evt.EventTimeMs, evt.TradeTimeMs,
		)
		return err
	})
}

// Update rewrites the mutable columns of an existing order. Returns
// core.ErrOrderNotFound when no row matches.
func (s *SQLiteStore) Update(ctx context.Context, evt *core.OrderEvent) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE futures_order SET
				exec_type = ?, status = ?,
				cum_filled_qty = ?, avg_price = ?, last_qty = ?, last_price = ?,
				commission = ?, realized_pnl = ?, is_maker = ?,
				event_time_ms = ?, trade_time_ms = ?
			WHERE order_id = ?`,
			string(evt.ExecType), string(evt.Status),
			evt.CumFilledQty.String(), evt.AvgPrice.String(),
			evt.LastQty.String(), evt.LastPrice.String(),
			evt.Commission.String(), evt.RealizedPnl.String(), boolToInt(evt.IsMaker),
			evt.EventTimeMs, evt.TradeTimeMs,
			evt.OrderID,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: order %d", core.ErrOrderNotFound, evt.OrderID)
		}
		return nil
	})
}

// Get loads one order by venue id.
func (s *SQLiteStore) Get(ctx context.Context, orderID int64) (*core.OrderEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, symbol, client_order_id, side, position_side,
		       exec_type, status, order_type, time_in_force,
		       orig_qty, cum_filled_qty, avg_price, last_qty, last_price,
		       commission, realized_pnl, stop_price, is_maker,
		       event_time_ms, trade_time_ms
		FROM futures_order WHERE order_id = ?`, orderID)

	var (
		evt     core.OrderEvent
		side, positionSide, execType, status, orderType, tif string
		origQty, cumQty, avgPrice, lastQty, lastPrice        string
		commission, realizedPnl, stopPrice                   string
		isMaker                                              int
	)
	err := row.Scan(
		&evt.OrderID, &evt.Symbol, &evt.ClientOrderID, &side, &positionSide,
		&execType, &status, &orderType, &tif,
		&origQty, &cumQty, &avgPrice, &lastQty, &lastPrice,
		&commission, &realizedPnl, &stopPrice, &isMaker,
		&evt.EventTimeMs, &evt.TradeTimeMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", core.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	evt.Side = core.Side(side)
	evt.PositionSide = core.PositionSide(positionSide)
	evt.ExecType = core.ExecutionType(execType)
	evt.Status = core.OrderStatus(status)
	evt.OrderType = core.OrderType(orderType)
	evt.TimeInForce = core.TimeInForce(tif)
	evt.IsMaker = isMaker != 0

	decimals := map[*decimal.Decimal]string{
		&evt.OrigQty: origQty, &evt.CumFilledQty: cumQty, &evt.AvgPrice: avgPrice,
		&evt.LastQty: lastQty, &evt.LastPrice: lastPrice,
		&evt.Commission: commission, &evt.RealizedPnl: realizedPnl, &evt.StopPrice: stopPrice,
	}
	for dst, raw := range decimals {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: stored decimal %q: %v", core.ErrDecode, raw, err)
		}
		*dst = d
	}
	return &evt, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
