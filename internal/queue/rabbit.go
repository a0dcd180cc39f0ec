package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	notifyExchange   = "recharge.notify.exchange"
	notifyQueue      = "recharge.notify.queue"
	notifyRoutingKey = "recharge.notify"

	reconnectDelay = 3 * time.Second
	publishTimeout = 5 * time.Second
)

// RabbitChannel - реализация Channel поверх RabbitMQ с автоматическим
// переподключением. Сообщения публикуются персистентными, подтверждение
// обработки ручное.
type RabbitChannel struct {
	url string

	conn    *amqp.Connection
	channel *amqp.Channel

	mu          sync.RWMutex
	isConnected bool
	done        chan struct{}
}

// NewRabbitChannel подключается к брокеру и объявляет топологию.
func NewRabbitChannel(url string) (*RabbitChannel, error) {
	r := &RabbitChannel{
		url:  url,
		done: make(chan struct{}),
	}

	if err := r.connect(); err != nil {
		return nil, err
	}

	go r.monitorConnection()

	return r, nil
}

func (r *RabbitChannel) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	r.conn = conn
	r.channel = ch
	r.isConnected = true

	if err := r.declareTopology(); err != nil {
		ch.Close()
		conn.Close()
		r.isConnected = false
		return err
	}

	return nil
}

func (r *RabbitChannel) declareTopology() error {
	if err := r.channel.ExchangeDeclare(notifyExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := r.channel.QueueDeclare(notifyQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := r.channel.QueueBind(notifyQueue, notifyRoutingKey, notifyExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// monitorConnection следит за состоянием соединения и переподключается
// при обрыве.
func (r *RabbitChannel) monitorConnection() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()

		if conn == nil {
			time.Sleep(reconnectDelay)
			continue
		}

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-r.done:
			return
		case err := <-notifyClose:
			if err != nil {
				log.Printf("RabbitMQ connection lost: %v", err)
			}

			r.mu.Lock()
			r.isConnected = false
			r.mu.Unlock()

			r.reconnect()
		}
	}
}

func (r *RabbitChannel) reconnect() {
	attempt := 0
	for {
		select {
		case <-r.done:
			return
		default:
		}

		attempt++
		if err := r.connect(); err != nil {
			log.Printf("RabbitMQ reconnect attempt %d failed: %v", attempt, err)
			time.Sleep(reconnectDelay)
			continue
		}

		log.Println("RabbitMQ reconnected")
		return
	}
}

// IsConnected сообщает, установлено ли соединение с брокером.
func (r *RabbitChannel) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isConnected
}

func (r *RabbitChannel) Publish(ctx context.Context, msg Message) error {
	r.mu.RLock()
	if !r.isConnected {
		r.mu.RUnlock()
		return fmt.Errorf("rabbitmq is not connected")
	}
	ch := r.channel
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return ch.PublishWithContext(ctx, notifyExchange, notifyRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

func (r *RabbitChannel) Consume(_ context.Context) (<-chan Delivery, error) {
	r.mu.RLock()
	if !r.isConnected {
		r.mu.RUnlock()
		return nil, fmt.Errorf("rabbitmq is not connected")
	}
	ch := r.channel
	r.mu.RUnlock()

	// Уникальный consumer tag, чтобы не конфликтовать после переподключения.
	consumerTag := fmt.Sprintf("notify-consumer-%d", time.Now().UnixNano())
	deliveries, err := ch.Consume(notifyQueue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range deliveries {
			var msg Message
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				log.Printf("failed to decode message, dropping: %v", err)
				_ = d.Nack(false, false)
				continue
			}
			d := d
			out <- Delivery{
				Message: msg,
				ack:     func() error { return d.Ack(false) },
				nack:    func(requeue bool) error { return d.Nack(false, requeue) },
			}
		}
	}()
	return out, nil
}

func (r *RabbitChannel) Close() error {
	close(r.done)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			log.Printf("failed to close RabbitMQ channel: %v", err)
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			log.Printf("failed to close RabbitMQ connection: %v", err)
		}
	}
	r.isConnected = false
	return nil
}
