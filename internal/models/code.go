package models

import "time"

// ActivationCode - одноразовый код, создающий заказ без списания баланса.
// Переход is_used выполняется строго один раз (compare-and-swap).
type ActivationCode struct {
	ID        int64      `db:"id"`
	Code      string     `db:"code"`
	Package   string     `db:"package"`
	IsUsed    bool       `db:"is_used"`
	UsedAt    *time.Time `db:"used_at"`
	UsedBy    *int64     `db:"used_by"`
	CreatedAt time.Time  `db:"created_at"`
}

// RedeemCodeRequest - запрос на активацию кода.
type RedeemCodeRequest struct {
	Code   string `json:"code"`
	Remark string `json:"remark"`
}
