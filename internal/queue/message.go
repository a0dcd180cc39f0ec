package queue

import "context"

// MessageType определяет вид уведомления в очереди.
type MessageType string

const (
	// TypeNewOrder - новый заказ, требуется раздача продавцам.
	TypeNewOrder MessageType = "new_order"
	// TypeActivityCheck - запрос проверки активности продавца.
	TypeActivityCheck MessageType = "activity_check"
	// TypeDispute - покупатель открыл спор по заказу.
	TypeDispute MessageType = "dispute"
	// TypeOrderStatusChange - изменение статуса заказа, уведомление админам.
	TypeOrderStatusChange MessageType = "order_status_change"
	// TypeRechargeRequest - новая заявка на пополнение баланса.
	TypeRechargeRequest MessageType = "recharge_request"
)

// Message - уведомление, передаваемое между веб-частью и диспетчером.
type Message struct {
	Type      MessageType `json:"type"`
	OrderID   int64       `json:"order_id,omitempty"`
	SellerID  int64       `json:"seller_id,omitempty"`
	RequestID int64       `json:"request_id,omitempty"`
	Text      string      `json:"text,omitempty"`
	// Claimed означает, что отправитель уже установил флаг уведомления
	// на заказе и потребитель не должен делать это повторно.
	Claimed bool `json:"claimed,omitempty"`
}

// Delivery - доставленное сообщение с подтверждением обработки.
type Delivery struct {
	Message Message

	ack  func() error
	nack func(requeue bool) error
}

// Ack подтверждает успешную обработку сообщения.
func (d *Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack возвращает сообщение в очередь либо отбрасывает его.
func (d *Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// Channel - канал уведомлений между компонентами.
type Channel interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
