package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed возвращается при операции над закрытым каналом.
var ErrClosed = errors.New("queue channel closed")

const defaultBuffer = 256

// MemoryChannel - внутрипроцессная реализация Channel поверх буферизованного
// канала. Сохраняет порядок публикации. Используется при запуске без брокера
// и в тестах.
type MemoryChannel struct {
	mu      sync.Mutex
	ch      chan Delivery
	done    chan struct{}
	senders sync.WaitGroup
	closed  bool
}

// NewMemoryChannel создаёт канал с буфером по умолчанию.
func NewMemoryChannel() *MemoryChannel {
	return NewMemoryChannelSize(defaultBuffer)
}

// NewMemoryChannelSize создаёт канал с заданным размером буфера.
func NewMemoryChannelSize(size int) *MemoryChannel {
	return &MemoryChannel{
		ch:   make(chan Delivery, size),
		done: make(chan struct{}),
	}
}

func (m *MemoryChannel) Publish(ctx context.Context, msg Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.senders.Add(1)
	m.mu.Unlock()
	defer m.senders.Done()

	select {
	case m.ch <- Delivery{Message: msg}:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryChannel) Consume(_ context.Context) (<-chan Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	return m.ch, nil
}

// Close дожидается завершения публикаций в полёте и только потом
// закрывает канал доставки.
func (m *MemoryChannel) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)
	m.senders.Wait()
	close(m.ch)
	return nil
}
