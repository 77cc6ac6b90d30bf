package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-collector/internal/entity"
)

type SymbolMappingRepository struct {
	db *sqlx.DB
}

func NewSymbolMappingRepository(db *sqlx.DB) *SymbolMappingRepository {
	return &SymbolMappingRepository{db: db}
}

// GetByExchanges loads the mappings of the given exchanges, or of every
// exchange when none is given.
func (r *SymbolMappingRepository) GetByExchanges(ctx context.Context, exchanges ...string) (entity.ExchangeSymbolMapping, error) {
	query, args, err := selectSymbolMappingQuery(exchanges)
	if err != nil {
		return nil, err
	}

	var mappings []entity.SymbolMapping
	err = r.db.SelectContext(ctx, &mappings, query, args...)
	if err != nil {
		return nil, err
	}

	return groupSymbolMappings(mappings), nil
}

func selectSymbolMappingQuery(exchanges []string) (string, []any, error) {
	builder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("id", "exchange", "symbol", "exchange_symbol", "created_at", "updated_at").
		From("symbol_mappings").
		OrderBy("created_at desc")

	if len(exchanges) > 0 {
		builder = builder.Where(sq.Eq{"exchange": exchanges})
	}

	return builder.ToSql()
}

// groupSymbolMappings keeps the newest row when a symbol is mapped twice;
// rows arrive ordered newest first.
func groupSymbolMappings(mappings []entity.SymbolMapping) entity.ExchangeSymbolMapping {
	exchangeSymbolMapping := make(entity.ExchangeSymbolMapping)
	for _, mapping := range mappings {
		if _, ok := exchangeSymbolMapping[mapping.Exchange]; !ok {
			exchangeSymbolMapping[mapping.Exchange] = make(map[string]string)
		}
		if _, ok := exchangeSymbolMapping[mapping.Exchange][mapping.Symbol]; ok {
			continue
		}
		exchangeSymbolMapping[mapping.Exchange][mapping.Symbol] = mapping.ExchangeSymbol
	}

	return exchangeSymbolMapping
}
