package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/queue"
	"github.com/sandanbot/recharge/internal/storage"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("recharge amount must be positive")
	ErrStaleRecharge = errors.New("recharge request already reviewed")
	ErrProofRequired = errors.New("payment proof is required")
)

// RechargeService обрабатывает заявки на пополнение баланса.
type RechargeService interface {
	Submit(ctx context.Context, userID int64, amount decimal.Decimal, proofRef string) (*models.RechargeRequest, error)
	ListPending(ctx context.Context) ([]*models.RechargeRequest, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.RechargeResponse, error)
	Approve(ctx context.Context, id int64, reviewer string) error
	Reject(ctx context.Context, id int64, reviewer string) error
}

// RechargeServiceImpl реализует RechargeService.
type RechargeServiceImpl struct {
	rechargeStorage storage.RechargeStorage
	channel         queue.Channel
	logger          *log.Logger
}

// NewRechargeService создаёт сервис пополнений.
func NewRechargeService(rechargeStorage storage.RechargeStorage, channel queue.Channel, logger *log.Logger) *RechargeServiceImpl {
	if logger == nil {
		logger = log.Default()
	}
	return &RechargeServiceImpl{
		rechargeStorage: rechargeStorage,
		channel:         channel,
		logger:          logger,
	}
}

// Submit создаёт заявку на пополнение и уведомляет админов.
func (s *RechargeServiceImpl) Submit(ctx context.Context, userID int64, amount decimal.Decimal, proofRef string) (*models.RechargeRequest, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if proofRef == "" {
		return nil, ErrProofRequired
	}

	req := &models.RechargeRequest{
		UserID:   userID,
		Amount:   amount,
		ProofRef: proofRef,
	}
	if err := s.rechargeStorage.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create recharge request: %w", err)
	}

	msg := queue.Message{
		Type:      queue.TypeRechargeRequest,
		RequestID: req.ID,
	}
	if err := s.channel.Publish(ctx, msg); err != nil {
		s.logger.Printf("failed to publish recharge request %d: %v", req.ID, err)
	}

	return req, nil
}

// ListPending возвращает заявки, ожидающие решения.
func (s *RechargeServiceImpl) ListPending(ctx context.Context) ([]*models.RechargeRequest, error) {
	return s.rechargeStorage.ListPending(ctx)
}

// ListByUser возвращает заявки пользователя.
func (s *RechargeServiceImpl) ListByUser(ctx context.Context, userID int64) ([]*models.RechargeResponse, error) {
	// Хранилище отдаёт только pending, историю пользователю собираем
	// из журнала, поэтому здесь только ожидающие заявки пользователя.
	pending, err := s.rechargeStorage.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recharges: %w", err)
	}

	resp := make([]*models.RechargeResponse, 0)
	for _, r := range pending {
		if r.UserID != userID {
			continue
		}
		amount, _ := r.Amount.Float64()
		resp = append(resp, &models.RechargeResponse{
			ID:        r.ID,
			Amount:    amount,
			Status:    string(r.Status),
			CreatedAt: r.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp, nil
}

// Approve одобряет заявку: зачисление средств и запись журнала происходят
// в одной транзакции хранилища.
func (s *RechargeServiceImpl) Approve(ctx context.Context, id int64, reviewer string) error {
	ok, err := s.rechargeStorage.Approve(ctx, id, reviewer)
	if err != nil {
		return fmt.Errorf("approve recharge: %w", err)
	}
	if !ok {
		return ErrStaleRecharge
	}
	return nil
}

// Reject отклоняет заявку без изменения баланса.
func (s *RechargeServiceImpl) Reject(ctx context.Context, id int64, reviewer string) error {
	ok, err := s.rechargeStorage.Reject(ctx, id, reviewer)
	if err != nil {
		return fmt.Errorf("reject recharge: %w", err)
	}
	if !ok {
		return ErrStaleRecharge
	}
	return nil
}
