package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RechargeStatus описывает статус заявки на пополнение баланса.
type RechargeStatus string

const (
	RechargeStatusPending  RechargeStatus = "pending"
	RechargeStatusApproved RechargeStatus = "approved"
	RechargeStatusRejected RechargeStatus = "rejected"
)

// RechargeRequest - заявка покупателя на пополнение баланса с чеком об оплате.
// Одобрение зачисляет средства и создаёт запись журнала атомарно.
type RechargeRequest struct {
	ID         int64           `db:"id"`
	UserID     int64           `db:"user_id"`
	Amount     decimal.Decimal `db:"amount"`
	ProofRef   string          `db:"proof_ref"`
	Status     RechargeStatus  `db:"status"`
	ReviewedBy string          `db:"reviewed_by"`
	CreatedAt  time.Time       `db:"created_at"`
	ReviewedAt *time.Time      `db:"reviewed_at"`
}

// RechargeResponse DTO заявки на пополнение.
type RechargeResponse struct {
	ID        int64   `json:"id"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}
