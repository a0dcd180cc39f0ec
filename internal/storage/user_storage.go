package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUsernameExists = errors.New("username already exists")
)

// InsufficientFundsError возвращается, когда balance + credit_limit
// не покрывает цену. Содержит недостающую сумму.
type InsufficientFundsError struct {
	Shortfall decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: short %s", e.Shortfall.String())
}

// PostgresUserStorage реализует UserStorage для PostgreSQL.
type PostgresUserStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStorage создаёт новый экземпляр PostgresUserStorage.
func NewPostgresUserStorage(pool *pgxpool.Pool) *PostgresUserStorage {
	return &PostgresUserStorage{pool: pool}
}

// Create создаёт нового пользователя.
func (s *PostgresUserStorage) Create(ctx context.Context, user *models.User) error {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.Balance.IsZero() {
		user.Balance = decimal.Zero
	}
	if user.CreditLimit.IsZero() {
		user.CreditLimit = decimal.Zero
	}

	query := `
		INSERT INTO users (username, password_hash, role, balance, credit_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`

	err := s.pool.QueryRow(ctx, query,
		user.Username,
		user.PasswordHash,
		user.Role,
		user.Balance,
		user.CreditLimit,
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrUsernameExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByUsername ищет пользователя по имени.
func (s *PostgresUserStorage) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

// GetByID ищет пользователя по ID.
func (s *PostgresUserStorage) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *PostgresUserStorage) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `
		SELECT id, username, password_hash, role, balance, credit_limit, created_at
		FROM users ` + where

	user := &models.User{}
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Balance,
		&user.CreditLimit,
		&user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// SetCreditLimit устанавливает кредитный лимит пользователя.
func (s *PostgresUserStorage) SetCreditLimit(ctx context.Context, id int64, limit decimal.Decimal) error {
	if limit.IsNegative() {
		return fmt.Errorf("credit limit must be non-negative")
	}

	result, err := s.pool.Exec(ctx, `UPDATE users SET credit_limit = $1 WHERE id = $2`, limit, id)
	if err != nil {
		return fmt.Errorf("failed to set credit limit: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetCustomPrice задаёт индивидуальную цену тарифа для пользователя.
func (s *PostgresUserStorage) SetCustomPrice(ctx context.Context, userID int64, pkg string, price decimal.Decimal) error {
	query := `
		INSERT INTO user_prices (user_id, package, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, package) DO UPDATE SET price = EXCLUDED.price
	`
	if _, err := s.pool.Exec(ctx, query, userID, pkg, price); err != nil {
		return fmt.Errorf("failed to set custom price: %w", err)
	}
	return nil
}

// GetCustomPrice возвращает индивидуальную цену, если она задана.
func (s *PostgresUserStorage) GetCustomPrice(ctx context.Context, userID int64, pkg string) (decimal.Decimal, bool, error) {
	var price decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT price FROM user_prices WHERE user_id = $1 AND package = $2`,
		userID, pkg,
	).Scan(&price)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("failed to get custom price: %w", err)
	}

	return price, true, nil
}
