package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-collector/internal/entity"
)

type marketEventWriter interface {
	Create(ctx context.Context, event entity.MarketEvent) error
}

// MarketEventRepository routes canonical events to the table for their kind.
// Heartbeats are not persisted.
type MarketEventRepository struct {
	writers map[entity.EventKind]marketEventWriter
}

func NewMarketEventRepository(db *sqlx.DB) *MarketEventRepository {
	return &MarketEventRepository{
		writers: map[entity.EventKind]marketEventWriter{
			entity.EventKindTrade:            NewMarketTradeRepository(db),
			entity.EventKindTicker:           NewMarketTickerRepository(db),
			entity.EventKindBookUpdate:       NewMarketBookUpdateRepository(db),
			entity.EventKindConnectionStatus: NewConnectionStatusRepository(db),
		},
	}
}

func (r *MarketEventRepository) Create(ctx context.Context, event entity.MarketEvent) error {
	if event.Kind == entity.EventKindHeartbeat {
		return nil
	}

	writer, ok := r.writers[event.Kind]
	if !ok {
		return fmt.Errorf("no repository for market event kind %q", event.Kind)
	}

	return writer.Create(ctx, event)
}
