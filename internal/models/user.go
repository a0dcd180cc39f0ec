package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Роли пользователей веб-части.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User представляет покупателя (пользователя веб-части).
type User struct {
	ID           int64           `db:"id"`
	Username     string          `db:"username"`
	PasswordHash string          `db:"password_hash"`
	Role         string          `db:"role"`
	Balance      decimal.Decimal `db:"balance"`
	CreditLimit  decimal.Decimal `db:"credit_limit"`
	CreatedAt    time.Time       `db:"created_at"`
}

// IsAdmin сообщает, имеет ли пользователь административные права.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// RegisterRequest - запрос на регистрацию пользователя.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest - запрос на аутентификацию пользователя.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BalanceResponse - ответ с балансом пользователя.
type BalanceResponse struct {
	Balance     float64 `json:"balance"`
	CreditLimit float64 `json:"credit_limit"`
}
