package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/queue"
	"github.com/sandanbot/recharge/internal/storage"
)

// ErrAlreadyTaken возвращается, когда заказ уже принят другим продавцом
// либо переведён из нужного статуса.
var ErrAlreadyTaken = errors.New("order already taken or in another status")

const sellerOrdersLimit = 20

// SellerService обрабатывает действия продавцов из Telegram-бота.
type SellerService interface {
	Accept(ctx context.Context, orderID, sellerID int64) (*models.Order, error)
	Complete(ctx context.Context, orderID, sellerID int64) error
	Fail(ctx context.Context, orderID, sellerID int64) error
	MyOrders(ctx context.Context, sellerID int64) ([]*models.Order, error)
	ToggleActive(ctx context.Context, sellerID int64) (*models.Seller, error)
	SetNickname(ctx context.Context, sellerID int64, nickname string) error
}

// SellerServiceImpl реализует SellerService.
type SellerServiceImpl struct {
	orderStorage  storage.OrderStorage
	sellerStorage storage.SellerStorage
	channel       queue.Channel
	logger        *log.Logger
}

// NewSellerService создаёт сервис действий продавцов.
func NewSellerService(orderStorage storage.OrderStorage, sellerStorage storage.SellerStorage, channel queue.Channel, logger *log.Logger) *SellerServiceImpl {
	if logger == nil {
		logger = log.Default()
	}
	return &SellerServiceImpl{
		orderStorage:  orderStorage,
		sellerStorage: sellerStorage,
		channel:       channel,
		logger:        logger,
	}
}

// Accept закрепляет заказ за продавцом. Из нескольких продавцов, нажавших
// кнопку одновременно, заказ достаётся ровно одному.
func (s *SellerServiceImpl) Accept(ctx context.Context, orderID, sellerID int64) (*models.Order, error) {
	seller, err := s.sellerStorage.Get(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	ok, err := s.orderStorage.Accept(ctx, orderID, sellerID, seller.DisplayName())
	if err != nil {
		return nil, fmt.Errorf("accept order: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyTaken
	}

	s.touch(ctx, sellerID)
	s.notifyStatusChange(ctx, orderID, sellerID)

	return s.orderStorage.GetByID(ctx, orderID)
}

// Complete отмечает заказ выполненным.
func (s *SellerServiceImpl) Complete(ctx context.Context, orderID, sellerID int64) error {
	if err := s.checkAssignee(ctx, orderID, sellerID); err != nil {
		return err
	}

	ok, err := s.orderStorage.Complete(ctx, orderID)
	if err != nil {
		return fmt.Errorf("complete order: %w", err)
	}
	if !ok {
		return ErrAlreadyTaken
	}

	s.touch(ctx, sellerID)
	s.notifyStatusChange(ctx, orderID, sellerID)
	return nil
}

// Fail отмечает заказ невыполненным и возвращает деньги покупателю.
func (s *SellerServiceImpl) Fail(ctx context.Context, orderID, sellerID int64) error {
	if err := s.checkAssignee(ctx, orderID, sellerID); err != nil {
		return err
	}

	ok, err := s.orderStorage.Fail(ctx, orderID)
	if err != nil {
		return fmt.Errorf("fail order: %w", err)
	}
	if !ok {
		return ErrAlreadyTaken
	}

	if _, err := s.orderStorage.Refund(ctx, orderID, "order failed by seller"); err != nil {
		return fmt.Errorf("refund failed order: %w", err)
	}

	s.touch(ctx, sellerID)
	s.notifyStatusChange(ctx, orderID, sellerID)
	return nil
}

// MyOrders возвращает последние заказы, принятые продавцом.
func (s *SellerServiceImpl) MyOrders(ctx context.Context, sellerID int64) ([]*models.Order, error) {
	return s.orderStorage.ListBySeller(ctx, sellerID, sellerOrdersLimit)
}

// ToggleActive переключает активность продавца и возвращает новое состояние.
func (s *SellerServiceImpl) ToggleActive(ctx context.Context, sellerID int64) (*models.Seller, error) {
	if err := s.sellerStorage.ToggleActive(ctx, sellerID); err != nil {
		return nil, err
	}
	return s.sellerStorage.Get(ctx, sellerID)
}

// SetNickname обновляет отображаемое имя продавца.
func (s *SellerServiceImpl) SetNickname(ctx context.Context, sellerID int64, nickname string) error {
	return s.sellerStorage.UpdateNickname(ctx, sellerID, nickname)
}

// checkAssignee проверяет, что заказ закреплён именно за этим продавцом.
func (s *SellerServiceImpl) checkAssignee(ctx context.Context, orderID, sellerID int64) error {
	order, err := s.orderStorage.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.AcceptedBy == nil || *order.AcceptedBy != sellerID {
		return ErrAlreadyTaken
	}
	return nil
}

func (s *SellerServiceImpl) touch(ctx context.Context, sellerID int64) {
	if err := s.sellerStorage.TouchLastActive(ctx, sellerID); err != nil {
		s.logger.Printf("failed to touch seller %d: %v", sellerID, err)
	}
}

func (s *SellerServiceImpl) notifyStatusChange(ctx context.Context, orderID, sellerID int64) {
	msg := queue.Message{
		Type:     queue.TypeOrderStatusChange,
		OrderID:  orderID,
		SellerID: sellerID,
	}
	if err := s.channel.Publish(ctx, msg); err != nil {
		s.logger.Printf("failed to publish status change for order %d: %v", orderID, err)
	}
}
