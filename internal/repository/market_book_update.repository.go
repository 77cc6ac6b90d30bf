package repository

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-collector/internal/entity"
)

type MarketBookUpdateRepository struct {
	db *sqlx.DB
}

func NewMarketBookUpdateRepository(db *sqlx.DB) *MarketBookUpdateRepository {
	return &MarketBookUpdateRepository{db: db}
}

func (r *MarketBookUpdateRepository) Create(ctx context.Context, event entity.MarketEvent) error {
	query, args, err := insertMarketBookUpdateQuery(event, time.Now().UTC())
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// levels are stored as jsonb arrays of {price, size}.
func insertMarketBookUpdateQuery(event entity.MarketEvent, now time.Time) (string, []any, error) {
	if event.Book == nil {
		return "", nil, errors.New("market event has no book update")
	}

	bids, err := json.Marshal(nonNilLevels(event.Book.Bids))
	if err != nil {
		return "", nil, err
	}
	asks, err := json.Marshal(nonNilLevels(event.Book.Asks))
	if err != nil {
		return "", nil, err
	}

	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert("market_book_updates").
		Columns(
			"id",
			"exchange",
			"symbol",
			"snapshot",
			"bids",
			"asks",
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
			event.Book.Snapshot,
			string(bids),
			string(asks),
			event.Generation,
			event.Sequence,
			event.EventTime,
			event.ReceivedAt,
			now,
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
}

func nonNilLevels(levels []entity.PriceLevel) []entity.PriceLevel {
	if levels == nil {
		return []entity.PriceLevel{}
	}
	return levels
}
