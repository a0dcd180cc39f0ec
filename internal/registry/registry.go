package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/sandanbot/recharge/internal/models"
)

// SellerStorage - операции реестра продавцов, нужные для выбора кандидатов.
type SellerStorage interface {
	Get(ctx context.Context, telegramID int64) (*models.Seller, error)
	ListParticipating(ctx context.Context) ([]*models.Seller, error)
}

// OrderStorage - операции заказов, нужные для подсчёта нагрузки.
type OrderStorage interface {
	SellerLoad(ctx context.Context, sellerID int64, window time.Duration) (int, error)
}

// Registry отбирает продавцов, которым можно предложить заказ: активных,
// участвующих в раздаче и не достигших лимита одновременных заказов
// в скользящем окне.
type Registry struct {
	sellers SellerStorage
	orders  OrderStorage
	window  time.Duration
}

// New создаёт реестр кандидатов со скользящим окном нагрузки.
func New(sellers SellerStorage, orders OrderStorage, window time.Duration) *Registry {
	if window <= 0 {
		window = time.Hour
	}
	return &Registry{
		sellers: sellers,
		orders:  orders,
		window:  window,
	}
}

// Candidate - продавец вместе с текущей нагрузкой.
type Candidate struct {
	Seller *models.Seller
	Load   int
}

// ListCandidates возвращает продавцов, готовых принять заказ.
func (r *Registry) ListCandidates(ctx context.Context) ([]Candidate, error) {
	sellers, err := r.sellers.ListParticipating(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list participating sellers: %w", err)
	}

	var candidates []Candidate
	for _, s := range sellers {
		load, err := r.orders.SellerLoad(ctx, s.TelegramID, r.window)
		if err != nil {
			return nil, fmt.Errorf("failed to get load for seller %d: %w", s.TelegramID, err)
		}
		if load >= s.MaxConcurrentOrders {
			continue
		}
		candidates = append(candidates, Candidate{Seller: s, Load: load})
	}
	return candidates, nil
}

// IsCandidate проверяет, может ли конкретный продавец принять заказ.
func (r *Registry) IsCandidate(ctx context.Context, telegramID int64) (bool, error) {
	seller, err := r.sellers.Get(ctx, telegramID)
	if err != nil {
		return false, err
	}
	if !seller.IsActive || !seller.ParticipateInDistribution {
		return false, nil
	}

	load, err := r.orders.SellerLoad(ctx, telegramID, r.window)
	if err != nil {
		return false, fmt.Errorf("failed to get load for seller %d: %w", telegramID, err)
	}
	return load < seller.MaxConcurrentOrders, nil
}

// CurrentLoad возвращает число незавершённых заказов продавца в окне.
func (r *Registry) CurrentLoad(ctx context.Context, telegramID int64) (int, error) {
	return r.orders.SellerLoad(ctx, telegramID, r.window)
}

// AllFull сообщает, что принять заказ сейчас некому: либо участников нет,
// либо все достигли лимита.
func (r *Registry) AllFull(ctx context.Context) (bool, error) {
	candidates, err := r.ListCandidates(ctx)
	if err != nil {
		return false, err
	}
	return len(candidates) == 0, nil
}
