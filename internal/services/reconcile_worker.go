package services

import (
	"context"
	"log"
	"time"

	"github.com/sandanbot/recharge/internal/queue"
	"github.com/sandanbot/recharge/internal/storage"
)

const reconcileBatchSize = 50

// ReconcileWorker периодически находит заказы, которые не дошли до раздачи
// (флаг уведомления не установлен), и повторно ставит их в очередь.
// Флаг выставляется до публикации, чтобы при гонке со свежей публикацией
// заказ не был предложен дважды.
type ReconcileWorker struct {
	orderStorage storage.OrderStorage
	channel      queue.Channel
	interval     time.Duration
	logger       *log.Logger
}

func NewReconcileWorker(orderStorage storage.OrderStorage, channel queue.Channel, interval time.Duration, logger *log.Logger) *ReconcileWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ReconcileWorker{
		orderStorage: orderStorage,
		channel:      channel,
		interval:     interval,
		logger:       logger,
	}
}

// Start запускает воркер в отдельной горутине и останавливается по ctx.Done().
func (w *ReconcileWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.ProcessBatch(ctx); err != nil {
					w.logger.Printf("reconcile worker error: %v", err)
				}
			}
		}
	}()
}

// ProcessBatch обрабатывает одну порцию неразосланных заказов.
func (w *ReconcileWorker) ProcessBatch(ctx context.Context) error {
	orders, err := w.orderStorage.ListUnnotified(ctx, reconcileBatchSize)
	if err != nil {
		return err
	}

	if len(orders) > 0 {
		w.logger.Printf("reconciling %d unnotified orders", len(orders))
	}

	for _, o := range orders {
		claimed, err := w.orderStorage.MarkNotified(ctx, o.ID)
		if err != nil {
			w.logger.Printf("failed to claim order %d: %v", o.ID, err)
			continue
		}
		if !claimed {
			// Кто-то успел раньше.
			continue
		}

		msg := queue.Message{
			Type:    queue.TypeNewOrder,
			OrderID: o.ID,
			Claimed: true,
		}
		if err := w.channel.Publish(ctx, msg); err != nil {
			w.logger.Printf("failed to republish order %d: %v", o.ID, err)
		}
	}
	return nil
}
