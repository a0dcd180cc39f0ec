package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sandanbot/recharge/internal/models"
	"github.com/shopspring/decimal"
)

// Memory - набор хранилищ в памяти с общим состоянием и общим мьютексом.
// Реализует те же контракты, что и Postgres-реализации, включая атомарность
// составных операций. Используется в тестах вместо реальной БД.
type Memory struct {
	Users     *MemoryUserStorage
	Orders    *MemoryOrderStorage
	Sellers   *MemorySellerStorage
	Ledger    *MemoryLedgerStorage
	Codes     *MemoryCodeStorage
	Recharges *MemoryRechargeStorage
	Packages  *MemoryPackageStorage

	core *memoryCore
}

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory() *Memory {
	core := &memoryCore{
		now:         time.Now,
		users:       make(map[int64]*models.User),
		usersByName: make(map[string]int64),
		prices:      make(map[string]decimal.Decimal),
		orders:      make(map[int64]*models.Order),
		sellers:     make(map[int64]*models.Seller),
		codes:       make(map[string]*models.ActivationCode),
		recharges:   make(map[int64]*models.RechargeRequest),
		packages:    make(map[string]*models.Package),
	}
	return &Memory{
		Users:     &MemoryUserStorage{core},
		Orders:    &MemoryOrderStorage{core},
		Sellers:   &MemorySellerStorage{core},
		Ledger:    &MemoryLedgerStorage{core},
		Codes:     &MemoryCodeStorage{core},
		Recharges: &MemoryRechargeStorage{core},
		Packages:  &MemoryPackageStorage{core},
		core:      core,
	}
}

// SetClock подменяет источник времени. Только для тестов.
func (m *Memory) SetClock(now func() time.Time) {
	m.core.mu.Lock()
	defer m.core.mu.Unlock()
	m.core.now = now
}

type memoryCore struct {
	mu  sync.Mutex
	now func() time.Time

	users       map[int64]*models.User
	usersByName map[string]int64
	prices      map[string]decimal.Decimal
	orders      map[int64]*models.Order
	sellers     map[int64]*models.Seller
	ledger      []*models.LedgerEntry
	codes       map[string]*models.ActivationCode
	recharges   map[int64]*models.RechargeRequest
	packages    map[string]*models.Package

	nextUserID     int64
	nextOrderID    int64
	nextLedgerID   int64
	nextCodeID     int64
	nextRechargeID int64
}

func (c *memoryCore) appendLedgerLocked(userID int64, amount decimal.Decimal, typ models.LedgerType, reason string, orderID *int64, balanceAfter decimal.Decimal) {
	c.nextLedgerID++
	c.ledger = append(c.ledger, &models.LedgerEntry{
		ID:           c.nextLedgerID,
		UserID:       userID,
		Amount:       amount,
		Type:         typ,
		Reason:       reason,
		OrderID:      orderID,
		BalanceAfter: balanceAfter,
		CreatedAt:    c.now(),
	})
}

func priceKey(userID int64, pkg string) string {
	return fmt.Sprintf("%d:%s", userID, pkg)
}

// MemoryUserStorage - in-memory реализация хранилища пользователей.
type MemoryUserStorage struct {
	c *memoryCore
}

func (s *MemoryUserStorage) Create(_ context.Context, user *models.User) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if _, ok := s.c.usersByName[user.Username]; ok {
		return ErrUsernameExists
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}

	s.c.nextUserID++
	user.ID = s.c.nextUserID
	user.CreatedAt = s.c.now()

	cp := *user
	s.c.users[user.ID] = &cp
	s.c.usersByName[user.Username] = user.ID
	return nil
}

func (s *MemoryUserStorage) GetByUsername(_ context.Context, username string) (*models.User, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	id, ok := s.c.usersByName[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *s.c.users[id]
	return &cp, nil
}

func (s *MemoryUserStorage) GetByID(_ context.Context, id int64) (*models.User, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	user, ok := s.c.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *MemoryUserStorage) SetCreditLimit(_ context.Context, id int64, limit decimal.Decimal) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	user, ok := s.c.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.CreditLimit = limit
	return nil
}

func (s *MemoryUserStorage) SetCustomPrice(_ context.Context, userID int64, pkg string, price decimal.Decimal) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.c.prices[priceKey(userID, pkg)] = price
	return nil
}

func (s *MemoryUserStorage) GetCustomPrice(_ context.Context, userID int64, pkg string) (decimal.Decimal, bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	price, ok := s.c.prices[priceKey(userID, pkg)]
	return price, ok, nil
}

// MemoryOrderStorage - in-memory реализация хранилища заказов.
type MemoryOrderStorage struct {
	c *memoryCore
}

func (s *MemoryOrderStorage) CreateWithDeduction(_ context.Context, order *models.Order) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	user, ok := s.c.users[order.UserID]
	if !ok {
		return ErrUserNotFound
	}

	available := user.Balance.Add(user.CreditLimit)
	if available.LessThan(order.Price) {
		return &InsufficientFundsError{Shortfall: order.Price.Sub(available)}
	}

	user.Balance = user.Balance.Sub(order.Price)

	s.c.nextOrderID++
	order.ID = s.c.nextOrderID
	order.Status = models.OrderStatusSubmitted
	order.ConfirmStatus = models.ConfirmStatusPending
	order.CreatedAt = s.c.now()

	cp := *order
	s.c.orders[order.ID] = &cp

	s.c.appendLedgerLocked(order.UserID, order.Price.Neg(), models.LedgerTypeConsume,
		fmt.Sprintf("order %d (%s)", order.ID, order.Package), &order.ID, user.Balance)
	return nil
}

func (s *MemoryOrderStorage) CreateFromCode(_ context.Context, order *models.Order, code string) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	c, ok := s.c.codes[code]
	if !ok {
		return ErrCodeNotFound
	}
	if c.IsUsed {
		return ErrCodeUsed
	}

	now := s.c.now()
	c.IsUsed = true
	c.UsedAt = &now
	userID := order.UserID
	c.UsedBy = &userID

	s.c.nextOrderID++
	order.ID = s.c.nextOrderID
	order.Package = c.Package
	order.Price = decimal.Zero
	order.Status = models.OrderStatusSubmitted
	order.ConfirmStatus = models.ConfirmStatusPending
	order.CreatedAt = now

	cp := *order
	s.c.orders[order.ID] = &cp
	return nil
}

func (s *MemoryOrderStorage) Refund(_ context.Context, orderID int64, reason string) (bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	order, ok := s.c.orders[orderID]
	if !ok || order.Refunded {
		return false, nil
	}
	if order.Status != models.OrderStatusCancelled && order.Status != models.OrderStatusFailed {
		return false, nil
	}

	order.Refunded = true

	if order.Price.IsPositive() {
		user := s.c.users[order.UserID]
		user.Balance = user.Balance.Add(order.Price)
		s.c.appendLedgerLocked(order.UserID, order.Price, models.LedgerTypeRefund, reason, &orderID, user.Balance)
	}
	return true, nil
}

func (s *MemoryOrderStorage) Accept(_ context.Context, orderID, sellerID int64, sellerName string) (bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	order, ok := s.c.orders[orderID]
	if !ok || order.Status != models.OrderStatusSubmitted {
		return false, nil
	}

	now := s.c.now()
	order.Status = models.OrderStatusAccepted
	order.AcceptedBy = &sellerID
	order.AcceptedByName = sellerName
	order.AcceptedAt = &now
	return true, nil
}

func (s *MemoryOrderStorage) Complete(_ context.Context, orderID int64) (bool, error) {
	return s.transition(orderID, models.OrderStatusAccepted, models.OrderStatusCompleted)
}

func (s *MemoryOrderStorage) Fail(_ context.Context, orderID int64) (bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	order, ok := s.c.orders[orderID]
	if !ok || order.Status != models.OrderStatusAccepted {
		return false, nil
	}
	now := s.c.now()
	order.Status = models.OrderStatusFailed
	order.FailedAt = &now
	order.CompletedAt = &now
	return true, nil
}

func (s *MemoryOrderStorage) Cancel(_ context.Context, orderID int64) (bool, error) {
	return s.transition(orderID, models.OrderStatusSubmitted, models.OrderStatusCancelled)
}

func (s *MemoryOrderStorage) Dispute(_ context.Context, orderID int64) (bool, error) {
	return s.transition(orderID, models.OrderStatusCompleted, models.OrderStatusDisputing)
}

func (s *MemoryOrderStorage) transition(orderID int64, from, to models.OrderStatus) (bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	order, ok := s.c.orders[orderID]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	if to == models.OrderStatusCompleted && order.CompletedAt == nil {
		now := s.c.now()
		order.CompletedAt = &now
	}
	return true, nil
}

func (s *MemoryOrderStorage) ConfirmReceipt(_ context.Context, orderID int64) (bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	order, ok := s.c.orders[orderID]
	if !ok {
		return false, nil
	}
	switch order.Status {
	case models.OrderStatusSubmitted, models.OrderStatusAccepted,
		models.OrderStatusDisputing, models.OrderStatusCompleted:
	default:
		return false, nil
	}

	order.Status = models.OrderStatusCompleted
	order.ConfirmStatus = models.ConfirmStatusConfirmed
	if order.CompletedAt == nil {
		now := s.c.now()
		order.CompletedAt = &now
	}
	return true, nil
}

func (s *MemoryOrderStorage) SetConfirmStatus(_ context.Context, orderID int64, cs models.ConfirmStatus) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	order, ok := s.c.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.ConfirmStatus = cs
	return nil
}

func (s *MemoryOrderStorage) MarkNotified(_ context.Context, orderID int64) (bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	order, ok := s.c.orders[orderID]
	if !ok || order.Notified {
		return false, nil
	}
	order.Notified = true
	return true, nil
}

func (s *MemoryOrderStorage) ListUnnotified(_ context.Context, limit int) ([]*models.Order, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	var orders []*models.Order
	for _, o := range s.c.orders {
		if !o.Notified && o.Status == models.OrderStatusSubmitted {
			cp := *o
			orders = append(orders, &cp)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *MemoryOrderStorage) GetByID(_ context.Context, orderID int64) (*models.Order, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	order, ok := s.c.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *MemoryOrderStorage) ListByUser(_ context.Context, userID int64) ([]*models.Order, error) {
	return s.list(func(o *models.Order) bool { return o.UserID == userID }, 0), nil
}

func (s *MemoryOrderStorage) ListRecent(_ context.Context, limit int) ([]*models.Order, error) {
	return s.list(func(*models.Order) bool { return true }, limit), nil
}

func (s *MemoryOrderStorage) ListBySeller(_ context.Context, sellerID int64, limit int) ([]*models.Order, error) {
	return s.list(func(o *models.Order) bool {
		return o.AcceptedBy != nil && *o.AcceptedBy == sellerID
	}, limit), nil
}

func (s *MemoryOrderStorage) list(keep func(*models.Order) bool, limit int) []*models.Order {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	var orders []*models.Order
	for _, o := range s.c.orders {
		if keep(o) {
			cp := *o
			orders = append(orders, &cp)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders
}

func (s *MemoryOrderStorage) CountSameDayRemark(_ context.Context, userID int64, remark string, day time.Time) (int, error) {
	if remark == "" {
		return 0, nil
	}

	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	y, mo, d := day.Date()
	count := 0
	for _, o := range s.c.orders {
		oy, omo, od := o.CreatedAt.Date()
		if o.UserID == userID && o.Remark == remark && oy == y && omo == mo && od == d {
			count++
		}
	}
	return count, nil
}

func (s *MemoryOrderStorage) SellerLoad(_ context.Context, sellerID int64, window time.Duration) (int, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	cutoff := s.c.now().Add(-window)
	count := 0
	for _, o := range s.c.orders {
		if o.AcceptedBy != nil && *o.AcceptedBy == sellerID &&
			o.AcceptedAt != nil && o.AcceptedAt.After(cutoff) &&
			!o.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

// MemorySellerStorage - in-memory реализация реестра продавцов.
type MemorySellerStorage struct {
	c *memoryCore
}

func (s *MemorySellerStorage) Add(_ context.Context, seller *models.Seller) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if _, ok := s.c.sellers[seller.TelegramID]; ok {
		return ErrSellerExists
	}
	if seller.DistributionLevel < 1 {
		seller.DistributionLevel = 1
	}
	if seller.MaxConcurrentOrders < 1 {
		seller.MaxConcurrentOrders = 5
	}
	seller.AddedAt = s.c.now()

	cp := *seller
	s.c.sellers[seller.TelegramID] = &cp
	return nil
}

func (s *MemorySellerStorage) Remove(_ context.Context, telegramID int64) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if _, ok := s.c.sellers[telegramID]; !ok {
		return ErrSellerNotFound
	}
	delete(s.c.sellers, telegramID)
	return nil
}

func (s *MemorySellerStorage) Get(_ context.Context, telegramID int64) (*models.Seller, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	seller, ok := s.c.sellers[telegramID]
	if !ok {
		return nil, ErrSellerNotFound
	}
	cp := *seller
	return &cp, nil
}

func (s *MemorySellerStorage) List(_ context.Context) ([]*models.Seller, error) {
	return s.list(func(*models.Seller) bool { return true }), nil
}

func (s *MemorySellerStorage) ListParticipating(_ context.Context) ([]*models.Seller, error) {
	return s.list(func(sl *models.Seller) bool {
		return sl.IsActive && sl.ParticipateInDistribution
	}), nil
}

func (s *MemorySellerStorage) ListActive(_ context.Context) ([]*models.Seller, error) {
	return s.list(func(sl *models.Seller) bool { return sl.IsActive }), nil
}

func (s *MemorySellerStorage) ListAdmins(_ context.Context) ([]*models.Seller, error) {
	return s.list(func(sl *models.Seller) bool { return sl.IsAdmin }), nil
}

func (s *MemorySellerStorage) list(keep func(*models.Seller) bool) []*models.Seller {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	var sellers []*models.Seller
	for _, sl := range s.c.sellers {
		if keep(sl) {
			cp := *sl
			sellers = append(sellers, &cp)
		}
	}
	sort.Slice(sellers, func(i, j int) bool { return sellers[i].TelegramID < sellers[j].TelegramID })
	return sellers
}

func (s *MemorySellerStorage) ToggleActive(_ context.Context, telegramID int64) error {
	return s.update(telegramID, func(sl *models.Seller) { sl.IsActive = !sl.IsActive })
}

func (s *MemorySellerStorage) SetParticipation(_ context.Context, telegramID int64, participate bool) error {
	return s.update(telegramID, func(sl *models.Seller) { sl.ParticipateInDistribution = participate })
}

func (s *MemorySellerStorage) SetDistributionLevel(_ context.Context, telegramID int64, level int) error {
	return s.update(telegramID, func(sl *models.Seller) { sl.DistributionLevel = level })
}

func (s *MemorySellerStorage) SetMaxConcurrent(_ context.Context, telegramID int64, maxOrders int) error {
	return s.update(telegramID, func(sl *models.Seller) { sl.MaxConcurrentOrders = maxOrders })
}

func (s *MemorySellerStorage) UpdateNickname(_ context.Context, telegramID int64, nickname string) error {
	return s.update(telegramID, func(sl *models.Seller) { sl.Nickname = nickname })
}

func (s *MemorySellerStorage) UpdateProfile(_ context.Context, telegramID int64, username, firstName string) error {
	return s.update(telegramID, func(sl *models.Seller) {
		sl.Username = username
		sl.FirstName = firstName
	})
}

func (s *MemorySellerStorage) TouchLastActive(_ context.Context, telegramID int64) error {
	return s.update(telegramID, func(sl *models.Seller) {
		now := s.c.now()
		sl.LastActiveAt = &now
	})
}

func (s *MemorySellerStorage) update(telegramID int64, apply func(*models.Seller)) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	seller, ok := s.c.sellers[telegramID]
	if !ok {
		return ErrSellerNotFound
	}
	apply(seller)
	return nil
}

// MemoryLedgerStorage - in-memory реализация журнала операций.
type MemoryLedgerStorage struct {
	c *memoryCore
}

func (s *MemoryLedgerStorage) ListByUser(_ context.Context, userID int64) ([]*models.LedgerEntry, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	var entries []*models.LedgerEntry
	for _, e := range s.c.ledger {
		if e.UserID == userID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

// MemoryCodeStorage - in-memory реализация хранилища кодов активации.
type MemoryCodeStorage struct {
	c *memoryCore
}

func (s *MemoryCodeStorage) CreateBatch(_ context.Context, codes []*models.ActivationCode) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	for _, code := range codes {
		s.c.nextCodeID++
		code.ID = s.c.nextCodeID
		code.CreatedAt = s.c.now()
		cp := *code
		s.c.codes[code.Code] = &cp
	}
	return nil
}

func (s *MemoryCodeStorage) List(_ context.Context, onlyUnused bool) ([]*models.ActivationCode, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	var codes []*models.ActivationCode
	for _, c := range s.c.codes {
		if onlyUnused && c.IsUsed {
			continue
		}
		cp := *c
		codes = append(codes, &cp)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].ID > codes[j].ID })
	return codes, nil
}

// MemoryRechargeStorage - in-memory реализация заявок на пополнение.
type MemoryRechargeStorage struct {
	c *memoryCore
}

func (s *MemoryRechargeStorage) Create(_ context.Context, req *models.RechargeRequest) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.c.nextRechargeID++
	req.ID = s.c.nextRechargeID
	req.Status = models.RechargeStatusPending
	req.CreatedAt = s.c.now()

	cp := *req
	s.c.recharges[req.ID] = &cp
	return nil
}

func (s *MemoryRechargeStorage) GetByID(_ context.Context, id int64) (*models.RechargeRequest, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	req, ok := s.c.recharges[id]
	if !ok {
		return nil, ErrRechargeNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *MemoryRechargeStorage) ListPending(_ context.Context) ([]*models.RechargeRequest, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	var reqs []*models.RechargeRequest
	for _, r := range s.c.recharges {
		if r.Status == models.RechargeStatusPending {
			cp := *r
			reqs = append(reqs, &cp)
		}
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
	return reqs, nil
}

func (s *MemoryRechargeStorage) Approve(_ context.Context, id int64, reviewer string) (bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	req, ok := s.c.recharges[id]
	if !ok || req.Status != models.RechargeStatusPending {
		return false, nil
	}

	now := s.c.now()
	req.Status = models.RechargeStatusApproved
	req.ReviewedBy = reviewer
	req.ReviewedAt = &now

	user := s.c.users[req.UserID]
	user.Balance = user.Balance.Add(req.Amount)
	s.c.appendLedgerLocked(req.UserID, req.Amount, models.LedgerTypeRecharge,
		fmt.Sprintf("recharge request %d approved by %s", id, reviewer), nil, user.Balance)
	return true, nil
}

func (s *MemoryRechargeStorage) Reject(_ context.Context, id int64, reviewer string) (bool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	req, ok := s.c.recharges[id]
	if !ok || req.Status != models.RechargeStatusPending {
		return false, nil
	}

	now := s.c.now()
	req.Status = models.RechargeStatusRejected
	req.ReviewedBy = reviewer
	req.ReviewedAt = &now
	return true, nil
}

// MemoryPackageStorage - in-memory реализация каталога пакетов.
type MemoryPackageStorage struct {
	c *memoryCore
}

func (s *MemoryPackageStorage) GetByCode(_ context.Context, code string) (*models.Package, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	pkg, ok := s.c.packages[code]
	if !ok {
		return nil, ErrPackageNotFound
	}
	cp := *pkg
	return &cp, nil
}

func (s *MemoryPackageStorage) List(_ context.Context) ([]*models.Package, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	var pkgs []*models.Package
	for _, p := range s.c.packages {
		cp := *p
		pkgs = append(pkgs, &cp)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Code < pkgs[j].Code })
	return pkgs, nil
}

func (s *MemoryPackageStorage) Upsert(_ context.Context, pkg *models.Package) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	cp := *pkg
	s.c.packages[pkg.Code] = &cp
	return nil
}
