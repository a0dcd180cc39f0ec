package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerType описывает тип движения средств.
type LedgerType string

const (
	LedgerTypeRecharge LedgerType = "recharge"
	LedgerTypeConsume  LedgerType = "consume"
	LedgerTypeRefund   LedgerType = "refund"
)

// LedgerEntry - запись журнала движения средств. Журнал только дописывается:
// сумма amounts всех записей пользователя в порядке создания в точности
// равна его текущему балансу.
type LedgerEntry struct {
	ID           int64           `db:"id"`
	UserID       int64           `db:"user_id"`
	Amount       decimal.Decimal `db:"amount"`
	Type         LedgerType      `db:"type"`
	Reason       string          `db:"reason"`
	OrderID      *int64          `db:"order_id"`
	BalanceAfter decimal.Decimal `db:"balance_after"`
	CreatedAt    time.Time       `db:"created_at"`
}

// LedgerEntryResponse DTO для истории движения средств.
type LedgerEntryResponse struct {
	Amount       float64 `json:"amount"`
	Type         string  `json:"type"`
	Reason       string  `json:"reason"`
	OrderID      *int64  `json:"order_id,omitempty"`
	BalanceAfter float64 `json:"balance_after"`
	CreatedAt    string  `json:"created_at"`
}
