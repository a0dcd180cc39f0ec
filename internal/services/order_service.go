package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/queue"
	"github.com/sandanbot/recharge/internal/registry"
	"github.com/sandanbot/recharge/internal/storage"
	"github.com/shopspring/decimal"
)

var (
	ErrPackageUnknown  = errors.New("unknown or disabled package")
	ErrDuplicateRemark = errors.New("order with the same remark already submitted today")
	ErrNoCapacity      = errors.New("no sellers available to take the order")
	ErrNotOrderOwner   = errors.New("order belongs to another user")
	ErrWrongStatus     = errors.New("order is not in a status allowing this action")
)

// OrderService определяет интерфейс работы с заказами покупателей.
type OrderService interface {
	Submit(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error)
	RedeemCode(ctx context.Context, user *models.User, req *models.RedeemCodeRequest) (*models.Order, error)
	Cancel(ctx context.Context, user *models.User, orderID int64) error
	ConfirmReceipt(ctx context.Context, user *models.User, orderID int64) error
	Dispute(ctx context.Context, user *models.User, orderID int64) error
	GetUserOrders(ctx context.Context, userID int64) ([]*models.OrderResponse, error)
}

// OrderServiceImpl реализует OrderService.
type OrderServiceImpl struct {
	orderStorage   storage.OrderStorage
	userStorage    storage.UserStorage
	packageStorage storage.PackageStorage
	registry       *registry.Registry
	channel        queue.Channel
	logger         *log.Logger
}

// NewOrderService создаёт новый сервис заказов.
func NewOrderService(orderStorage storage.OrderStorage, userStorage storage.UserStorage, packageStorage storage.PackageStorage, reg *registry.Registry, channel queue.Channel, logger *log.Logger) *OrderServiceImpl {
	if logger == nil {
		logger = log.Default()
	}
	return &OrderServiceImpl{
		orderStorage:   orderStorage,
		userStorage:    userStorage,
		packageStorage: packageStorage,
		registry:       reg,
		channel:        channel,
		logger:         logger,
	}
}

// Submit обрабатывает новый заказ: проверяет пакет и наличие свободных
// продавцов, считает цену, атомарно списывает баланс и ставит заказ
// в очередь раздачи.
func (s *OrderServiceImpl) Submit(ctx context.Context, user *models.User, req *models.SubmitOrderRequest, proofRef string) (*models.Order, error) {
	pkgCode := strings.TrimSpace(req.Package)
	if pkgCode == "" {
		return nil, ErrPackageUnknown
	}

	pkg, err := s.packageStorage.GetByCode(ctx, pkgCode)
	if err != nil {
		if errors.Is(err, storage.ErrPackageNotFound) {
			return nil, ErrPackageUnknown
		}
		return nil, fmt.Errorf("get package: %w", err)
	}
	if !pkg.Enabled {
		return nil, ErrPackageUnknown
	}

	full, err := s.registry.AllFull(ctx)
	if err != nil {
		return nil, fmt.Errorf("check seller capacity: %w", err)
	}
	if full {
		return nil, ErrNoCapacity
	}

	remark := strings.TrimSpace(req.Remark)
	if remark != "" && !req.AllowDuplicate {
		count, err := s.orderStorage.CountSameDayRemark(ctx, user.ID, remark, time.Now())
		if err != nil {
			return nil, fmt.Errorf("check duplicate remark: %w", err)
		}
		if count > 0 {
			return nil, ErrDuplicateRemark
		}
	}

	price, err := s.effectivePrice(ctx, user.ID, pkg)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:   user.ID,
		Username: user.Username,
		Package:  pkg.Code,
		Price:    price,
		ProofRef: proofRef,
		Remark:   remark,
	}

	if err := s.orderStorage.CreateWithDeduction(ctx, order); err != nil {
		return nil, err
	}

	s.publishNewOrder(ctx, order.ID, req.PreferredSeller)

	return order, nil
}

// RedeemCode создаёт заказ по коду активации без списания баланса.
func (s *OrderServiceImpl) RedeemCode(ctx context.Context, user *models.User, req *models.RedeemCodeRequest) (*models.Order, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, storage.ErrCodeNotFound
	}

	full, err := s.registry.AllFull(ctx)
	if err != nil {
		return nil, fmt.Errorf("check seller capacity: %w", err)
	}
	if full {
		return nil, ErrNoCapacity
	}

	order := &models.Order{
		UserID:   user.ID,
		Username: user.Username,
		Remark:   strings.TrimSpace(req.Remark),
	}

	if err := s.orderStorage.CreateFromCode(ctx, order, code); err != nil {
		return nil, err
	}

	s.publishNewOrder(ctx, order.ID, 0)

	return order, nil
}

// Cancel отменяет ещё не принятый заказ и возвращает деньги.
func (s *OrderServiceImpl) Cancel(ctx context.Context, user *models.User, orderID int64) error {
	order, err := s.orderStorage.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != user.ID && !user.IsAdmin() {
		return ErrNotOrderOwner
	}

	ok, err := s.orderStorage.Cancel(ctx, orderID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	if !ok {
		return ErrWrongStatus
	}

	if _, err := s.orderStorage.Refund(ctx, orderID, "order cancelled"); err != nil {
		return fmt.Errorf("refund cancelled order: %w", err)
	}
	return nil
}

// ConfirmReceipt подтверждает получение пополнения покупателем. Подтвердить
// можно и заказ в споре, это закрывает спор.
func (s *OrderServiceImpl) ConfirmReceipt(ctx context.Context, user *models.User, orderID int64) error {
	order, err := s.orderStorage.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != user.ID {
		return ErrNotOrderOwner
	}

	ok, err := s.orderStorage.ConfirmReceipt(ctx, orderID)
	if err != nil {
		return fmt.Errorf("confirm receipt: %w", err)
	}
	if !ok {
		return ErrWrongStatus
	}
	return nil
}

// Dispute переводит выполненный заказ в спор и уведомляет исполнителя.
func (s *OrderServiceImpl) Dispute(ctx context.Context, user *models.User, orderID int64) error {
	order, err := s.orderStorage.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != user.ID {
		return ErrNotOrderOwner
	}

	ok, err := s.orderStorage.Dispute(ctx, orderID)
	if err != nil {
		return fmt.Errorf("open dispute: %w", err)
	}
	if !ok {
		return ErrWrongStatus
	}

	if err := s.orderStorage.SetConfirmStatus(ctx, orderID, models.ConfirmStatusNotReceived); err != nil {
		return fmt.Errorf("set confirm status: %w", err)
	}

	msg := queue.Message{Type: queue.TypeDispute, OrderID: orderID}
	if order.AcceptedBy != nil {
		msg.SellerID = *order.AcceptedBy
	}
	if err := s.channel.Publish(ctx, msg); err != nil {
		s.logger.Printf("failed to publish dispute for order %d: %v", orderID, err)
	}
	return nil
}

// GetUserOrders возвращает заказы пользователя, новые первыми.
func (s *OrderServiceImpl) GetUserOrders(ctx context.Context, userID int64) ([]*models.OrderResponse, error) {
	orders, err := s.orderStorage.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user orders: %w", err)
	}

	resp := make([]*models.OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, o.ToResponse())
	}
	return resp, nil
}

// effectivePrice возвращает персональную цену пользователя, если она задана,
// иначе цену пакета.
func (s *OrderServiceImpl) effectivePrice(ctx context.Context, userID int64, pkg *models.Package) (decimal.Decimal, error) {
	custom, ok, err := s.userStorage.GetCustomPrice(ctx, userID, pkg.Code)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get custom price: %w", err)
	}
	if ok {
		return custom, nil
	}
	return pkg.Price, nil
}

// publishNewOrder ставит заказ в очередь раздачи. Ошибка публикации не
// отменяет заказ: несработавшее уведомление подберёт сверка.
func (s *OrderServiceImpl) publishNewOrder(ctx context.Context, orderID, preferredSeller int64) {
	msg := queue.Message{
		Type:     queue.TypeNewOrder,
		OrderID:  orderID,
		SellerID: preferredSeller,
	}
	if err := s.channel.Publish(ctx, msg); err != nil {
		s.logger.Printf("failed to publish new order %d: %v", orderID, err)
	}
}
