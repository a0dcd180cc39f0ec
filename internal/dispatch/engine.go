package dispatch

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/queue"
	"github.com/sandanbot/recharge/internal/registry"
	"github.com/sandanbot/recharge/internal/storage"
)

// Transport доставляет сообщения продавцам. Реализация (Telegram-бот)
// подключается снаружи, движок про транспорт ничего не знает.
type Transport interface {
	SendOffer(ctx context.Context, sellerID int64, order *models.Order) error
	SendText(ctx context.Context, sellerID int64, text string) error
}

// Engine раздаёт новые заказы продавцам и рассылает служебные уведомления.
//
// Заказ закрепляется за циклом раздачи CAS-ом по флагу notified: из двух
// конкурирующих циклов флаг достаётся одному, второй молча выходит. Сверка
// выставляет флаг сама до публикации и помечает сообщение Claimed.
type Engine struct {
	channel       queue.Channel
	transport     Transport
	registry      *registry.Registry
	orderStorage  storage.OrderStorage
	sellerStorage storage.SellerStorage
	retry         RetryPolicy
	offerTimeout  time.Duration
	logger        *log.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewEngine создаёт движок раздачи заказов.
func NewEngine(channel queue.Channel, transport Transport, reg *registry.Registry, orderStorage storage.OrderStorage, sellerStorage storage.SellerStorage, offerTimeout time.Duration, logger *log.Logger) *Engine {
	if offerTimeout <= 0 {
		offerTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		channel:       channel,
		transport:     transport,
		registry:      reg,
		orderStorage:  orderStorage,
		sellerStorage: sellerStorage,
		retry:         DefaultRetryPolicy(),
		offerTimeout:  offerTimeout,
		logger:        logger,
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run потребляет очередь уведомлений до отмены контекста.
func (e *Engine) Run(ctx context.Context) error {
	deliveries, err := e.channel.Consume(ctx)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := e.handle(ctx, d.Message); err != nil {
				e.logger.Printf("dispatch: failed to handle %s message: %v", d.Message.Type, err)
				if nackErr := d.Nack(true); nackErr != nil {
					e.logger.Printf("dispatch: nack failed: %v", nackErr)
				}
				continue
			}
			if err := d.Ack(); err != nil {
				e.logger.Printf("dispatch: ack failed: %v", err)
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case queue.TypeNewOrder:
		return e.handleNewOrder(ctx, msg)
	case queue.TypeDispute:
		return e.handleDispute(ctx, msg)
	case queue.TypeOrderStatusChange:
		return e.notifyAdmins(ctx, fmt.Sprintf("Заказ #%d: статус изменён продавцом %d", msg.OrderID, msg.SellerID))
	case queue.TypeRechargeRequest:
		return e.notifyAdmins(ctx, fmt.Sprintf("Новая заявка на пополнение #%d, требуется проверка", msg.RequestID))
	case queue.TypeActivityCheck:
		return e.transport.SendText(ctx, msg.SellerID, "Вы ещё на месте? Ответьте любым сообщением.")
	default:
		e.logger.Printf("dispatch: unknown message type %q, dropping", msg.Type)
		return nil
	}
}

// handleNewOrder выбирает продавца для нового заказа и доставляет предложение.
func (e *Engine) handleNewOrder(ctx context.Context, msg queue.Message) error {
	if !msg.Claimed {
		claimed, err := e.orderStorage.MarkNotified(ctx, msg.OrderID)
		if err != nil {
			return fmt.Errorf("claim order %d: %w", msg.OrderID, err)
		}
		if !claimed {
			// Заказ уже обработан другим циклом раздачи.
			return nil
		}
	}

	order, err := e.orderStorage.GetByID(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("get order %d: %w", msg.OrderID, err)
	}
	if order.Status != models.OrderStatusSubmitted {
		return nil
	}

	candidates, err := e.registry.ListCandidates(ctx)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		e.logger.Printf("dispatch: no candidates for order %d, waiting for reconciliation", order.ID)
		return nil
	}

	// Предпочтённый продавец получает заказ, только если он сейчас
	// валидный кандидат; иначе обычный взвешенный выбор.
	if msg.SellerID != 0 {
		for _, c := range candidates {
			if c.Seller.TelegramID == msg.SellerID {
				return e.singleDispatch(ctx, order, c.Seller)
			}
		}
	}

	if msg.Claimed {
		// Сверка: заказ уже ждал раздачи, рассылаем всем до первого успеха.
		return e.broadcastDispatch(ctx, order, candidates)
	}

	picked := e.pickWeighted(candidates)
	return e.singleDispatch(ctx, order, picked.Seller)
}

// pickWeighted выбирает кандидата взвешенным случайным образом:
// вероятность пропорциональна distribution_level (минимум 1).
func (e *Engine) pickWeighted(candidates []registry.Candidate) registry.Candidate {
	total := 0
	for _, c := range candidates {
		total += c.Seller.Weight()
	}

	e.mu.Lock()
	draw := e.rnd.Intn(total)
	e.mu.Unlock()

	for _, c := range candidates {
		draw -= c.Seller.Weight()
		if draw < 0 {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// singleDispatch доставляет предложение одному продавцу с повторами.
// Неудачная доставка не откатывает флаг notified: заказ останется в статусе
// submitted и будет подобран следующей сверкой как непринятый.
func (e *Engine) singleDispatch(ctx context.Context, order *models.Order, seller *models.Seller) error {
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		return e.transport.SendOffer(ctx, seller.TelegramID, order)
	})
	if err != nil {
		e.logger.Printf("dispatch: failed to offer order %d to seller %d: %v", order.ID, seller.TelegramID, err)
		return nil
	}
	return nil
}

// broadcastDispatch перебирает кандидатов, более тяжёлые первыми, с таймаутом
// на каждого. Первый, до кого удалось достучаться, получает заказ сразу
// (авто-принятие); ошибки доставки отдельных продавцов не прерывают обход.
func (e *Engine) broadcastDispatch(ctx context.Context, order *models.Order, candidates []registry.Candidate) error {
	sorted := make([]registry.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Seller.Weight() > sorted[j].Seller.Weight()
	})

	for _, c := range sorted {
		attemptCtx, cancel := context.WithTimeout(ctx, e.offerTimeout)
		err := e.transport.SendOffer(attemptCtx, c.Seller.TelegramID, order)
		cancel()
		if err != nil {
			e.logger.Printf("dispatch: broadcast to seller %d failed for order %d: %v", c.Seller.TelegramID, order.ID, err)
			continue
		}

		accepted, err := e.orderStorage.Accept(ctx, order.ID, c.Seller.TelegramID, c.Seller.DisplayName())
		if err != nil {
			return fmt.Errorf("auto-accept order %d: %w", order.ID, err)
		}
		if !accepted {
			// Пока шла рассылка, заказ принял кто-то другой. Тоже успех.
			return nil
		}
		e.logger.Printf("dispatch: order %d auto-accepted by seller %d", order.ID, c.Seller.TelegramID)
		return nil
	}

	e.logger.Printf("dispatch: broadcast exhausted all candidates for order %d", order.ID)
	return nil
}

// handleDispute уведомляет исполнителя заказа об открытом споре.
func (e *Engine) handleDispute(ctx context.Context, msg queue.Message) error {
	order, err := e.orderStorage.GetByID(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("get order %d: %w", msg.OrderID, err)
	}
	if order.AcceptedBy == nil {
		return e.notifyAdmins(ctx, fmt.Sprintf("Спор по заказу #%d без исполнителя", order.ID))
	}
	text := fmt.Sprintf("Покупатель открыл спор по заказу #%d (%s). Свяжитесь с администратором.", order.ID, order.Package)
	return e.transport.SendText(ctx, *order.AcceptedBy, text)
}

// notifyAdmins рассылает текст всем продавцам-администраторам.
func (e *Engine) notifyAdmins(ctx context.Context, text string) error {
	admins, err := e.sellerStorage.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	for _, a := range admins {
		if err := e.transport.SendText(ctx, a.TelegramID, text); err != nil {
			e.logger.Printf("dispatch: failed to notify admin %d: %v", a.TelegramID, err)
		}
	}
	return nil
}
