package repository

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-collector/internal/entity"
)

type MarketTradeRepository struct {
	db *sqlx.DB
}

func NewMarketTradeRepository(db *sqlx.DB) *MarketTradeRepository {
	return &MarketTradeRepository{db: db}
}

func (r *MarketTradeRepository) Create(ctx context.Context, event entity.MarketEvent) error {
	query, args, err := insertMarketTradeQuery(event, time.Now().UTC())
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func insertMarketTradeQuery(event entity.MarketEvent, now time.Time) (string, []any, error) {
	if event.Trade == nil {
		return "", nil, errors.New("market event has no trade")
	}

	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert("market_trades").
		Columns(
			"id",
			"exchange",
			"symbol",
			"trade_id",
			"price",
			"size",
			"side",
			"generation",
			"sequence",
			"event_time",
			"received_at",
			"created_at",
			"updated_at",
		).
		Values(
			event.ID,
			event.Exchange,
			event.Instrument.Symbol(),
			event.Trade.TradeID,
			event.Trade.Price,
			event.Trade.Size,
			event.Trade.Side,
			event.Generation,
			event.Sequence,
			event.EventTime,
			event.ReceivedAt,
			now,
			now,
		).
		Suffix(`ON CONFLICT (exchange, symbol, trade_id)
DO UPDATE SET
	price = EXCLUDED.price,
	size = EXCLUDED.size,
	side = EXCLUDED.side,
	event_time = EXCLUDED.event_time,
	updated_at = EXCLUDED.updated_at`).
		ToSql()
}
