package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/queue"
	"github.com/sandanbot/recharge/internal/storage"
	"github.com/shopspring/decimal"
)

type sellerServiceEnv struct {
	mem     *storage.Memory
	channel *queue.MemoryChannel
	service *SellerServiceImpl
}

func newSellerServiceEnv(t *testing.T) *sellerServiceEnv {
	t.Helper()
	mem := storage.NewMemory()
	channel := queue.NewMemoryChannel()
	service := NewSellerService(mem.Orders, mem.Sellers, channel, nil)

	ctx := context.Background()
	for _, id := range []int64{100, 200} {
		if err := mem.Sellers.Add(ctx, &models.Seller{
			TelegramID:                id,
			Nickname:                  "seller",
			IsActive:                  true,
			ParticipateInDistribution: true,
			MaxConcurrentOrders:       5,
		}); err != nil {
			t.Fatalf("Add seller: %v", err)
		}
	}

	return &sellerServiceEnv{mem: mem, channel: channel, service: service}
}

func (e *sellerServiceEnv) order(t *testing.T, price float64) *models.Order {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Username: "buyer", PasswordHash: "h", Balance: decimal.NewFromFloat(1000)}
	if err := e.mem.Users.Create(ctx, user); err != nil {
		// Пользователь уже есть: берём его.
		existing, gerr := e.mem.Users.GetByUsername(ctx, "buyer")
		if gerr != nil {
			t.Fatalf("Create user: %v", err)
		}
		user = existing
	}
	order := &models.Order{UserID: user.ID, Package: "basic_30", Price: decimal.NewFromFloat(price)}
	if err := e.mem.Orders.CreateWithDeduction(ctx, order); err != nil {
		t.Fatalf("CreateWithDeduction: %v", err)
	}
	return order
}

func TestSellerAccept(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns order and records display name", func(t *testing.T) {
		env := newSellerServiceEnv(t)
		order := env.order(t, 30)

		got, err := env.service.Accept(ctx, order.ID, 100)
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		if got.Status != models.OrderStatusAccepted {
			t.Errorf("Status = %s, want %s", got.Status, models.OrderStatusAccepted)
		}
		if got.AcceptedByName != "seller" {
			t.Errorf("AcceptedByName = %q, want %q", got.AcceptedByName, "seller")
		}

		seller, _ := env.mem.Sellers.Get(ctx, 100)
		if seller.LastActiveAt == nil {
			t.Error("LastActiveAt not updated")
		}
	})

	t.Run("second seller loses", func(t *testing.T) {
		env := newSellerServiceEnv(t)
		order := env.order(t, 30)

		if _, err := env.service.Accept(ctx, order.ID, 100); err != nil {
			t.Fatalf("Accept: %v", err)
		}
		_, err := env.service.Accept(ctx, order.ID, 200)
		if !errors.Is(err, ErrAlreadyTaken) {
			t.Errorf("err = %v, want ErrAlreadyTaken", err)
		}
	})

	t.Run("unknown seller rejected", func(t *testing.T) {
		env := newSellerServiceEnv(t)
		order := env.order(t, 30)

		_, err := env.service.Accept(ctx, order.ID, 999)
		if !errors.Is(err, storage.ErrSellerNotFound) {
			t.Errorf("err = %v, want ErrSellerNotFound", err)
		}
	})

	t.Run("concurrent accepts have one winner", func(t *testing.T) {
		env := newSellerServiceEnv(t)
		order := env.order(t, 30)

		var wg sync.WaitGroup
		results := make(chan error, 2)
		for _, id := range []int64{100, 200} {
			wg.Add(1)
			go func(sellerID int64) {
				defer wg.Done()
				_, err := env.service.Accept(ctx, order.ID, sellerID)
				results <- err
			}(id)
		}
		wg.Wait()
		close(results)

		won := 0
		for err := range results {
			if err == nil {
				won++
			} else if !errors.Is(err, ErrAlreadyTaken) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if won != 1 {
			t.Errorf("winners = %d, want 1", won)
		}
	})
}

func TestSellerComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("assignee completes", func(t *testing.T) {
		env := newSellerServiceEnv(t)
		order := env.order(t, 30)
		env.service.Accept(ctx, order.ID, 100)

		if err := env.service.Complete(ctx, order.ID, 100); err != nil {
			t.Fatalf("Complete: %v", err)
		}

		got, _ := env.mem.Orders.GetByID(ctx, order.ID)
		if got.Status != models.OrderStatusCompleted {
			t.Errorf("Status = %s, want %s", got.Status, models.OrderStatusCompleted)
		}
	})

	t.Run("non-assignee rejected", func(t *testing.T) {
		env := newSellerServiceEnv(t)
		order := env.order(t, 30)
		env.service.Accept(ctx, order.ID, 100)

		err := env.service.Complete(ctx, order.ID, 200)
		if !errors.Is(err, ErrAlreadyTaken) {
			t.Errorf("err = %v, want ErrAlreadyTaken", err)
		}
	})
}

// Отметка о невыполнении автоматически возвращает деньги покупателю.
func TestSellerFailRefunds(t *testing.T) {
	ctx := context.Background()
	env := newSellerServiceEnv(t)
	order := env.order(t, 30)
	env.service.Accept(ctx, order.ID, 100)

	if err := env.service.Fail(ctx, order.ID, 100); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, _ := env.mem.Orders.GetByID(ctx, order.ID)
	if got.Status != models.OrderStatusFailed {
		t.Errorf("Status = %s, want %s", got.Status, models.OrderStatusFailed)
	}
	if !got.Refunded {
		t.Error("order not refunded")
	}
	if got.FailedAt == nil {
		t.Error("FailedAt is nil")
	}

	user, _ := env.mem.Users.GetByID(ctx, got.UserID)
	if !user.Balance.Equal(decimal.NewFromFloat(1000)) {
		t.Errorf("Balance = %s, want 1000", user.Balance)
	}
}

func TestSellerMyOrders(t *testing.T) {
	ctx := context.Background()
	env := newSellerServiceEnv(t)

	first := env.order(t, 30)
	second := env.order(t, 30)
	env.service.Accept(ctx, first.ID, 100)
	env.service.Accept(ctx, second.ID, 100)

	third := env.order(t, 30)
	env.service.Accept(ctx, third.ID, 200)

	orders, err := env.service.MyOrders(ctx, 100)
	if err != nil {
		t.Fatalf("MyOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(orders))
	}
	if orders[0].ID != second.ID {
		t.Errorf("first order = %d, want %d", orders[0].ID, second.ID)
	}
}

func TestSellerToggleActive(t *testing.T) {
	ctx := context.Background()
	env := newSellerServiceEnv(t)

	seller, err := env.service.ToggleActive(ctx, 100)
	if err != nil {
		t.Fatalf("ToggleActive: %v", err)
	}
	if seller.IsActive {
		t.Error("IsActive = true after toggle, want false")
	}

	seller, err = env.service.ToggleActive(ctx, 100)
	if err != nil {
		t.Fatalf("ToggleActive: %v", err)
	}
	if !seller.IsActive {
		t.Error("IsActive = false after second toggle, want true")
	}
}
