package models

import "github.com/shopspring/decimal"

// Package - покупаемый тариф. Цена по умолчанию может быть переопределена
// индивидуальной ценой пользователя.
type Package struct {
	Code    string          `db:"code"`
	Title   string          `db:"title"`
	Price   decimal.Decimal `db:"price"`
	Enabled bool            `db:"enabled"`
}

// PackageResponse DTO для списка тарифов.
type PackageResponse struct {
	Code    string  `json:"code"`
	Title   string  `json:"title"`
	Price   float64 `json:"price"`
	Enabled bool    `json:"enabled"`
}
