package entity

import "time"

type SymbolMapping struct {
	ID             string    `db:"id" json:"id"`
	Exchange       string    `db:"exchange" json:"exchange"`
	Symbol         string    `db:"symbol" json:"symbol"`
	ExchangeSymbol string    `db:"exchange_symbol" json:"exchange_symbol"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// [exchange][symbol] = exchange_symbol
type ExchangeSymbolMapping map[string]map[string]string
