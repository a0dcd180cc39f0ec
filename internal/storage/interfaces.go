package storage

import (
	"context"
	"time"

	"github.com/sandanbot/recharge/internal/models"
	"github.com/shopspring/decimal"
)

// UserStorage определяет интерфейс для работы с пользователями.
type UserStorage interface {
	Create(ctx context.Context, user *models.User) error
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	SetCreditLimit(ctx context.Context, id int64, limit decimal.Decimal) error
	SetCustomPrice(ctx context.Context, userID int64, pkg string, price decimal.Decimal) error
	GetCustomPrice(ctx context.Context, userID int64, pkg string) (decimal.Decimal, bool, error)
}

// OrderStorage определяет интерфейс для работы с заказами.
type OrderStorage interface {
	CreateWithDeduction(ctx context.Context, order *models.Order) error
	CreateFromCode(ctx context.Context, order *models.Order, code string) error
	Refund(ctx context.Context, orderID int64, reason string) (bool, error)
	Accept(ctx context.Context, orderID, sellerID int64, sellerName string) (bool, error)
	Complete(ctx context.Context, orderID int64) (bool, error)
	Fail(ctx context.Context, orderID int64) (bool, error)
	Cancel(ctx context.Context, orderID int64) (bool, error)
	Dispute(ctx context.Context, orderID int64) (bool, error)
	ConfirmReceipt(ctx context.Context, orderID int64) (bool, error)
	SetConfirmStatus(ctx context.Context, orderID int64, cs models.ConfirmStatus) error
	MarkNotified(ctx context.Context, orderID int64) (bool, error)
	ListUnnotified(ctx context.Context, limit int) ([]*models.Order, error)
	GetByID(ctx context.Context, orderID int64) (*models.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Order, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Order, error)
	ListBySeller(ctx context.Context, sellerID int64, limit int) ([]*models.Order, error)
	CountSameDayRemark(ctx context.Context, userID int64, remark string, day time.Time) (int, error)
	SellerLoad(ctx context.Context, sellerID int64, window time.Duration) (int, error)
}

// SellerStorage определяет интерфейс реестра продавцов.
type SellerStorage interface {
	Add(ctx context.Context, seller *models.Seller) error
	Remove(ctx context.Context, telegramID int64) error
	Get(ctx context.Context, telegramID int64) (*models.Seller, error)
	List(ctx context.Context) ([]*models.Seller, error)
	ListParticipating(ctx context.Context) ([]*models.Seller, error)
	ListActive(ctx context.Context) ([]*models.Seller, error)
	ListAdmins(ctx context.Context) ([]*models.Seller, error)
	ToggleActive(ctx context.Context, telegramID int64) error
	SetParticipation(ctx context.Context, telegramID int64, participate bool) error
	SetDistributionLevel(ctx context.Context, telegramID int64, level int) error
	SetMaxConcurrent(ctx context.Context, telegramID int64, maxOrders int) error
	UpdateNickname(ctx context.Context, telegramID int64, nickname string) error
	UpdateProfile(ctx context.Context, telegramID int64, username, firstName string) error
	TouchLastActive(ctx context.Context, telegramID int64) error
}

// LedgerStorage определяет интерфейс журнала операций по балансу.
type LedgerStorage interface {
	ListByUser(ctx context.Context, userID int64) ([]*models.LedgerEntry, error)
}

// CodeStorage определяет интерфейс хранилища кодов активации.
type CodeStorage interface {
	CreateBatch(ctx context.Context, codes []*models.ActivationCode) error
	List(ctx context.Context, onlyUnused bool) ([]*models.ActivationCode, error)
}

// RechargeStorage определяет интерфейс заявок на пополнение.
type RechargeStorage interface {
	Create(ctx context.Context, req *models.RechargeRequest) error
	GetByID(ctx context.Context, id int64) (*models.RechargeRequest, error)
	ListPending(ctx context.Context) ([]*models.RechargeRequest, error)
	Approve(ctx context.Context, id int64, reviewer string) (bool, error)
	Reject(ctx context.Context, id int64, reviewer string) (bool, error)
}

// PackageStorage определяет интерфейс каталога пакетов.
type PackageStorage interface {
	GetByCode(ctx context.Context, code string) (*models.Package, error)
	List(ctx context.Context) ([]*models.Package, error)
	Upsert(ctx context.Context, pkg *models.Package) error
}
