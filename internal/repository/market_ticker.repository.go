package repository

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-collector/internal/entity"
)

type MarketTickerRepository struct {
	db *sqlx.DB
}

func NewMarketTickerRepository(db *sqlx.DB) *MarketTickerRepository {
	return &MarketTickerRepository{db: db}
}

func (r *MarketTickerRepository) Create(ctx context.Context, event entity.MarketEvent) error {
	query, args, err := insertMarketTickerQuery(event, time.Now().UTC())
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func insertMarketTickerQuery(event entity.MarketEvent, now time.Time) (string, []any, error) {
	if event.Ticker == nil {
		return "", nil, errors.New("market event has no ticker")
	}

	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert("market_tickers").
		Columns(
			"id",
			"exchange",
			"symbol",
			"price",
			"volume_24h",
			"best_bid",
			"best_bid_size",
			"best_ask",
			"best_ask_size",
			"intermediate_rate",
			"generation",
			"sequence",
			"event_time",
			"received_at",
			"created_at",
		).
		Values(
			event.ID,
			event.Exchange,
			event.Instrument.Symbol(),
			event.Ticker.Price,
			event.Ticker.Volume24h,
			event.Ticker.BestBid,
			event.Ticker.BestBidSize,
			event.Ticker.BestAsk,
			event.Ticker.BestAskSize,
			event.Ticker.IntermediateRate,
			event.Generation,
			event.Sequence,
			event.EventTime,
			event.ReceivedAt,
			now,
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
}
