package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandanbot/recharge/internal/auth"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/sandanbot/recharge/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmptyCredentials   = errors.New("username and password are required")
)

// UserService определяет интерфейс для работы с пользователями.
type UserService interface {
	Register(ctx context.Context, username, password string) (*models.User, string, error)
	Login(ctx context.Context, username, password string) (*models.User, string, error)
	GetBalance(ctx context.Context, userID int64) (*models.BalanceResponse, error)
	GetLedger(ctx context.Context, userID int64) ([]*models.LedgerEntryResponse, error)
}

// UserServiceImpl реализует UserService.
type UserServiceImpl struct {
	userStorage     storage.UserStorage
	ledgerStorage   storage.LedgerStorage
	jwtSecret       string
	tokenExpiration time.Duration
}

// NewUserService создаёт новый экземпляр UserService.
func NewUserService(userStorage storage.UserStorage, ledgerStorage storage.LedgerStorage, jwtSecret string, tokenExpiration time.Duration) *UserServiceImpl {
	return &UserServiceImpl{
		userStorage:     userStorage,
		ledgerStorage:   ledgerStorage,
		jwtSecret:       jwtSecret,
		tokenExpiration: tokenExpiration,
	}
}

// Register регистрирует нового пользователя.
func (s *UserServiceImpl) Register(ctx context.Context, username, password string) (*models.User, string, error) {
	if username == "" || password == "" {
		return nil, "", ErrEmptyCredentials
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         models.RoleUser,
	}

	err = s.userStorage.Create(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrUsernameExists) {
			return nil, "", storage.ErrUsernameExists
		}
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.generateToken(user)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	return user, token, nil
}

// Login аутентифицирует пользователя.
func (s *UserServiceImpl) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	if username == "" || password == "" {
		return nil, "", ErrEmptyCredentials
	}

	user, err := s.userStorage.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to get user: %w", err)
	}

	if !auth.CheckPassword(password, user.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.generateToken(user)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	return user, token, nil
}

// GetBalance возвращает баланс и кредитный лимит пользователя.
func (s *UserServiceImpl) GetBalance(ctx context.Context, userID int64) (*models.BalanceResponse, error) {
	user, err := s.userStorage.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	balance, _ := user.Balance.Float64()
	creditLimit, _ := user.CreditLimit.Float64()

	return &models.BalanceResponse{
		Balance:     balance,
		CreditLimit: creditLimit,
	}, nil
}

// GetLedger возвращает историю движения средств пользователя
// в порядке создания.
func (s *UserServiceImpl) GetLedger(ctx context.Context, userID int64) ([]*models.LedgerEntryResponse, error) {
	entries, err := s.ledgerStorage.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}

	resp := make([]*models.LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		amount, _ := e.Amount.Float64()
		balanceAfter, _ := e.BalanceAfter.Float64()
		resp = append(resp, &models.LedgerEntryResponse{
			Amount:       amount,
			Type:         string(e.Type),
			Reason:       e.Reason,
			OrderID:      e.OrderID,
			BalanceAfter: balanceAfter,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		})
	}
	return resp, nil
}

// generateToken генерирует JWT токен для пользователя.
func (s *UserServiceImpl) generateToken(user *models.User) (string, error) {
	exp := s.tokenExpiration
	if exp <= 0 {
		exp = 24 * time.Hour
	}
	return auth.GenerateToken(user, s.jwtSecret, exp)
}
