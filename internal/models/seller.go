package models

import (
	"fmt"
	"time"
)

// DefaultMaxConcurrentOrders - лимит одновременных заказов для нового продавца.
const DefaultMaxConcurrentOrders = 5

// Seller представляет продавца, работающего через Telegram-бота.
//
// Флаги is_active и participate_in_distribution независимы: неактивный
// продавец не получает уведомлений вообще, а продавец с выключенным
// участием в распределении не получает новых заказов автоматически,
// но может завершать уже принятые.
type Seller struct {
	TelegramID                int64      `db:"telegram_id"`
	Username                  string     `db:"username"`
	FirstName                 string     `db:"first_name"`
	Nickname                  string     `db:"nickname"`
	IsActive                  bool       `db:"is_active"`
	ParticipateInDistribution bool       `db:"participate_in_distribution"`
	IsAdmin                   bool       `db:"is_admin"`
	DistributionLevel         int        `db:"distribution_level"`
	MaxConcurrentOrders       int        `db:"max_concurrent_orders"`
	LastActiveAt              *time.Time `db:"last_active_at"`
	AddedAt                   time.Time  `db:"added_at"`
	AddedBy                   string     `db:"added_by"`
}

// DisplayName возвращает отображаемое имя продавца:
// nickname, иначе first_name, иначе "Seller {id}".
func (s *Seller) DisplayName() string {
	if s.Nickname != "" {
		return s.Nickname
	}
	if s.FirstName != "" {
		return s.FirstName
	}
	return fmt.Sprintf("Seller %d", s.TelegramID)
}

// Weight возвращает вес продавца для взвешенного выбора, минимум 1.
func (s *Seller) Weight() int {
	if s.DistributionLevel < 1 {
		return 1
	}
	return s.DistributionLevel
}

// SellerResponse DTO для административных ответов.
type SellerResponse struct {
	TelegramID                int64  `json:"telegram_id"`
	DisplayName               string `json:"display_name"`
	Username                  string `json:"username,omitempty"`
	IsActive                  bool   `json:"is_active"`
	ParticipateInDistribution bool   `json:"participate_in_distribution"`
	IsAdmin                   bool   `json:"is_admin"`
	DistributionLevel         int    `json:"distribution_level"`
	MaxConcurrentOrders       int    `json:"max_concurrent_orders"`
	CurrentLoad               int    `json:"current_load"`
	LastActiveAt              string `json:"last_active_at,omitempty"`
}
