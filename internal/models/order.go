package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusDisputing OrderStatus = "disputing"
)

// Terminal сообщает, является ли статус конечным: такие заказы
// не учитываются в текущей нагрузке продавца.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed || s == OrderStatusCancelled
}

// ConfirmStatus - подтверждение получения покупателем, независимое от статуса заказа.
type ConfirmStatus string

const (
	ConfirmStatusPending     ConfirmStatus = "pending"
	ConfirmStatusConfirmed   ConfirmStatus = "confirmed"
	ConfirmStatusNotReceived ConfirmStatus = "not_received"
)

// Order представляет заказ на пополнение.
type Order struct {
	ID             int64           `db:"id"`
	UserID         int64           `db:"user_id"`
	Username       string          `db:"username"`
	Package        string          `db:"package"`
	Price          decimal.Decimal `db:"price"`
	ProofRef       string          `db:"proof_ref"`
	Remark         string          `db:"remark"`
	Status         OrderStatus     `db:"status"`
	ConfirmStatus  ConfirmStatus   `db:"confirm_status"`
	Notified       bool            `db:"notified"`
	Refunded       bool            `db:"refunded"`
	AcceptedBy     *int64          `db:"accepted_by"`
	AcceptedByName string          `db:"accepted_by_name"`
	CreatedAt      time.Time       `db:"created_at"`
	AcceptedAt     *time.Time      `db:"accepted_at"`
	CompletedAt    *time.Time      `db:"completed_at"`
	FailedAt       *time.Time      `db:"failed_at"`
}

// SubmitOrderRequest DTO для создания заказа (multipart-поля, кроме файла).
type SubmitOrderRequest struct {
	Package         string `form:"package"`
	Remark          string `form:"remark"`
	PreferredSeller int64  `form:"preferred_seller"`
	AllowDuplicate  bool   `form:"allow_duplicate"`
}

// ToResponse формирует ответ API для заказа.
func (o *Order) ToResponse() *OrderResponse {
	price, _ := o.Price.Float64()
	resp := &OrderResponse{
		ID:            o.ID,
		Package:       o.Package,
		Price:         price,
		Remark:        o.Remark,
		Status:        string(o.Status),
		ConfirmStatus: string(o.ConfirmStatus),
		AcceptedBy:    o.AcceptedByName,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
	if o.AcceptedAt != nil {
		v := o.AcceptedAt.Format(time.RFC3339)
		resp.AcceptedAt = &v
	}
	if o.CompletedAt != nil {
		v := o.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	return resp
}

// OrderResponse ответ для списка заказов.
type OrderResponse struct {
	ID            int64   `json:"id"`
	Package       string  `json:"package"`
	Price         float64 `json:"price"`
	Remark        string  `json:"remark,omitempty"`
	Status        string  `json:"status"`
	ConfirmStatus string  `json:"confirm_status"`
	AcceptedBy    string  `json:"accepted_by,omitempty"`
	CreatedAt     string  `json:"created_at"`
	AcceptedAt    *string `json:"accepted_at,omitempty"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}
