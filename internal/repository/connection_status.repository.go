package repository

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-collector/internal/entity"
)

type ConnectionStatusRepository struct {
	db *sqlx.DB
}

func NewConnectionStatusRepository(db *sqlx.DB) *ConnectionStatusRepository {
	return &ConnectionStatusRepository{db: db}
}

func (r *ConnectionStatusRepository) Create(ctx context.Context, event entity.MarketEvent) error {
	query, args, err := insertConnectionStatusQuery(event, time.Now().UTC())
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func insertConnectionStatusQuery(event entity.MarketEvent, now time.Time) (string, []any, error) {
	if event.Status == nil {
		return "", nil, errors.New("market event has no connection status")
	}

	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert("connection_statuses").
		Columns(
			"id",
			"exchange",
			"state",
			"fatal",
			"reason",
			"attempt",
			"generation",
			"event_time",
			"created_at",
		).
		Values(
			event.ID,
			event.Exchange,
			event.Status.State,
			event.Status.Fatal,
			event.Status.Reason,
			event.Status.Attempt,
			event.Generation,
			event.EventTime,
			now,
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
}
