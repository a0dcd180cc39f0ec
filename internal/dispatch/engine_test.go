package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/queue"
	"github.com/sandanbot/recharge/internal/registry"
	"github.com/sandanbot/recharge/internal/storage"
	"github.com/shopspring/decimal"
)

// fakeTransport записывает отправленные предложения и тексты.
// Через fail можно сымитировать недоступность конкретных продавцов.
type fakeTransport struct {
	mu     sync.Mutex
	offers []int64
	texts  map[int64][]string
	fail   map[int64]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		texts: make(map[int64][]string),
		fail:  make(map[int64]error),
	}
}

func (f *fakeTransport) SendOffer(_ context.Context, sellerID int64, _ *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[sellerID]; err != nil {
		return err
	}
	f.offers = append(f.offers, sellerID)
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, sellerID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[sellerID]; err != nil {
		return err
	}
	f.texts[sellerID] = append(f.texts[sellerID], text)
	return nil
}

func (f *fakeTransport) offeredTo() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.offers))
	copy(out, f.offers)
	return out
}

type engineEnv struct {
	mem       *storage.Memory
	transport *fakeTransport
	engine    *Engine
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	mem := storage.NewMemory()
	transport := newFakeTransport()
	reg := registry.New(mem.Sellers, mem.Orders, time.Hour)
	engine := NewEngine(queue.NewMemoryChannel(), transport, reg, mem.Orders, mem.Sellers, 100*time.Millisecond, nil)
	// Без пауз между повторами доставки.
	engine.retry = RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond, AttemptTimeout: 100 * time.Millisecond}
	return &engineEnv{mem: mem, transport: transport, engine: engine}
}

func (e *engineEnv) addSeller(t *testing.T, id int64, level, maxOrders int) {
	t.Helper()
	if err := e.mem.Sellers.Add(context.Background(), &models.Seller{
		TelegramID:                id,
		Nickname:                  "seller",
		IsActive:                  true,
		ParticipateInDistribution: true,
		DistributionLevel:         level,
		MaxConcurrentOrders:       maxOrders,
	}); err != nil {
		t.Fatalf("Add seller: %v", err)
	}
}

func (e *engineEnv) newOrder(t *testing.T) *models.Order {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Username: "buyer", PasswordHash: "h", Balance: decimal.NewFromFloat(10000)}
	if err := e.mem.Users.Create(ctx, user); err != nil {
		// Пользователь уже есть: берём его.
		existing, gerr := e.mem.Users.GetByUsername(ctx, "buyer")
		if gerr != nil {
			t.Fatalf("Create user: %v", err)
		}
		user = existing
	}
	order := &models.Order{UserID: user.ID, Package: "basic_30", Price: decimal.NewFromFloat(1)}
	if err := e.mem.Orders.CreateWithDeduction(ctx, order); err != nil {
		t.Fatalf("CreateWithDeduction: %v", err)
	}
	return order
}

func TestHandleNewOrderSingleDispatch(t *testing.T) {
	ctx := context.Background()
	env := newEngineEnv(t)
	env.addSeller(t, 100, 1, 5)
	order := env.newOrder(t)

	err := env.engine.handle(ctx, queue.Message{Type: queue.TypeNewOrder, OrderID: order.ID})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	offers := env.transport.offeredTo()
	if len(offers) != 1 || offers[0] != 100 {
		t.Errorf("offers = %v, want [100]", offers)
	}

	got, _ := env.mem.Orders.GetByID(ctx, order.ID)
	if !got.Notified {
		t.Error("order not marked notified")
	}
	// Предложение не принимает заказ автоматически.
	if got.Status != models.OrderStatusSubmitted {
		t.Errorf("Status = %s, want %s", got.Status, models.OrderStatusSubmitted)
	}
}

// Сообщение о заказе, уже захваченном другим циклом, молча пропускается.
func TestHandleNewOrderClaimLost(t *testing.T) {
	ctx := context.Background()
	env := newEngineEnv(t)
	env.addSeller(t, 100, 1, 5)
	order := env.newOrder(t)

	if ok, _ := env.mem.Orders.MarkNotified(ctx, order.ID); !ok {
		t.Fatal("MarkNotified failed")
	}

	err := env.engine.handle(ctx, queue.Message{Type: queue.TypeNewOrder, OrderID: order.ID})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if offers := env.transport.offeredTo(); len(offers) != 0 {
		t.Errorf("offers = %v, want none", offers)
	}
}

func TestHandleNewOrderPreferredSeller(t *testing.T) {
	ctx := context.Background()

	t.Run("valid candidate gets the order", func(t *testing.T) {
		env := newEngineEnv(t)
		env.addSeller(t, 100, 10, 5)
		env.addSeller(t, 200, 1, 5)
		order := env.newOrder(t)

		err := env.engine.handle(ctx, queue.Message{Type: queue.TypeNewOrder, OrderID: order.ID, SellerID: 200})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		offers := env.transport.offeredTo()
		if len(offers) != 1 || offers[0] != 200 {
			t.Errorf("offers = %v, want [200]", offers)
		}
	})

	t.Run("invalid preference falls back to weighted pick", func(t *testing.T) {
		env := newEngineEnv(t)
		env.addSeller(t, 100, 1, 5)
		order := env.newOrder(t)

		// Предпочтённый продавец не зарегистрирован.
		err := env.engine.handle(ctx, queue.Message{Type: queue.TypeNewOrder, OrderID: order.ID, SellerID: 999})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		offers := env.transport.offeredTo()
		if len(offers) != 1 || offers[0] != 100 {
			t.Errorf("offers = %v, want [100]", offers)
		}
	})
}

// Заказы распределяются пропорционально distribution_level.
func TestPickWeightedDistribution(t *testing.T) {
	env := newEngineEnv(t)
	env.addSeller(t, 100, 3, 1000)
	env.addSeller(t, 200, 1, 1000)

	candidates, err := registry.New(env.mem.Sellers, env.mem.Orders, time.Hour).ListCandidates(context.Background())
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(candidates))
	}

	const draws = 10000
	counts := make(map[int64]int)
	for i := 0; i < draws; i++ {
		picked := env.engine.pickWeighted(candidates)
		counts[picked.Seller.TelegramID]++
	}

	// Ожидаем примерно 3:1, допуск 10%.
	heavy := float64(counts[100]) / draws
	if heavy < 0.65 || heavy > 0.85 {
		t.Errorf("heavy seller share = %.3f, want around 0.75", heavy)
	}
	if counts[100]+counts[200] != draws {
		t.Errorf("total draws = %d, want %d", counts[100]+counts[200], draws)
	}
}

// Продавец, выбравший лимит одновременных заказов, выпадает из кандидатов.
func TestDispatchSkipsFullSellers(t *testing.T) {
	ctx := context.Background()
	env := newEngineEnv(t)
	env.addSeller(t, 100, 5, 1)
	env.addSeller(t, 200, 1, 5)

	// Занимаем единственный слот тяжёлого продавца.
	busy := env.newOrder(t)
	if ok, _ := env.mem.Orders.Accept(ctx, busy.ID, 100, "seller"); !ok {
		t.Fatal("Accept failed")
	}

	order := env.newOrder(t)
	err := env.engine.handle(ctx, queue.Message{Type: queue.TypeNewOrder, OrderID: order.ID})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	offers := env.transport.offeredTo()
	if len(offers) != 1 || offers[0] != 200 {
		t.Errorf("offers = %v, want [200]", offers)
	}
}

func TestBroadcastDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("first reachable seller auto-accepts", func(t *testing.T) {
		env := newEngineEnv(t)
		env.addSeller(t, 100, 5, 5)
		env.addSeller(t, 200, 1, 5)
		env.transport.fail[100] = errors.New("telegram unreachable")
		order := env.newOrder(t)

		if ok, _ := env.mem.Orders.MarkNotified(ctx, order.ID); !ok {
			t.Fatal("MarkNotified failed")
		}
		err := env.engine.handle(ctx, queue.Message{Type: queue.TypeNewOrder, OrderID: order.ID, Claimed: true})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}

		got, _ := env.mem.Orders.GetByID(ctx, order.ID)
		if got.Status != models.OrderStatusAccepted {
			t.Errorf("Status = %s, want %s", got.Status, models.OrderStatusAccepted)
		}
		if got.AcceptedBy == nil || *got.AcceptedBy != 200 {
			t.Errorf("AcceptedBy = %v, want 200", got.AcceptedBy)
		}
	})

	t.Run("heavier seller is tried first", func(t *testing.T) {
		env := newEngineEnv(t)
		env.addSeller(t, 100, 1, 5)
		env.addSeller(t, 200, 7, 5)
		order := env.newOrder(t)

		if ok, _ := env.mem.Orders.MarkNotified(ctx, order.ID); !ok {
			t.Fatal("MarkNotified failed")
		}
		err := env.engine.handle(ctx, queue.Message{Type: queue.TypeNewOrder, OrderID: order.ID, Claimed: true})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}

		offers := env.transport.offeredTo()
		if len(offers) == 0 || offers[0] != 200 {
			t.Errorf("offers = %v, want 200 first", offers)
		}
		got, _ := env.mem.Orders.GetByID(ctx, order.ID)
		if got.AcceptedBy == nil || *got.AcceptedBy != 200 {
			t.Errorf("AcceptedBy = %v, want 200", got.AcceptedBy)
		}
	})

	t.Run("all sellers unreachable leaves order submitted", func(t *testing.T) {
		env := newEngineEnv(t)
		env.addSeller(t, 100, 1, 5)
		env.transport.fail[100] = errors.New("telegram unreachable")
		order := env.newOrder(t)

		if ok, _ := env.mem.Orders.MarkNotified(ctx, order.ID); !ok {
			t.Fatal("MarkNotified failed")
		}
		err := env.engine.handle(ctx, queue.Message{Type: queue.TypeNewOrder, OrderID: order.ID, Claimed: true})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}

		got, _ := env.mem.Orders.GetByID(ctx, order.ID)
		if got.Status != models.OrderStatusSubmitted {
			t.Errorf("Status = %s, want %s", got.Status, models.OrderStatusSubmitted)
		}
	})
}

func TestHandleDispute(t *testing.T) {
	ctx := context.Background()
	env := newEngineEnv(t)
	env.addSeller(t, 100, 1, 5)
	order := env.newOrder(t)
	env.mem.Orders.Accept(ctx, order.ID, 100, "seller")
	env.mem.Orders.Complete(ctx, order.ID)
	env.mem.Orders.Dispute(ctx, order.ID)

	err := env.engine.handle(ctx, queue.Message{Type: queue.TypeDispute, OrderID: order.ID, SellerID: 100})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(env.transport.texts[100]) != 1 {
		t.Errorf("got %d texts to assignee, want 1", len(env.transport.texts[100]))
	}
}

func TestNotifyAdmins(t *testing.T) {
	ctx := context.Background()
	env := newEngineEnv(t)
	env.addSeller(t, 100, 1, 5)
	if err := env.mem.Sellers.Add(ctx, &models.Seller{
		TelegramID: 500,
		IsActive:   true,
		IsAdmin:    true,
	}); err != nil {
		t.Fatalf("Add admin: %v", err)
	}

	err := env.engine.handle(ctx, queue.Message{Type: queue.TypeRechargeRequest, RequestID: 7})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(env.transport.texts[500]) != 1 {
		t.Errorf("got %d texts to admin, want 1", len(env.transport.texts[500]))
	}
	if len(env.transport.texts[100]) != 0 {
		t.Errorf("non-admin seller received %d texts, want 0", len(env.transport.texts[100]))
	}
}

func TestUnknownMessageTypeDropped(t *testing.T) {
	env := newEngineEnv(t)
	err := env.engine.handle(context.Background(), queue.Message{Type: "garbage"})
	if err != nil {
		t.Errorf("handle unknown type: %v", err)
	}
}
