package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandanbot/recharge/internal/models"
)

var (
	ErrSellerNotFound = errors.New("seller not found")
	ErrSellerExists   = errors.New("seller already exists")
)

// PostgresSellerStorage реализует SellerStorage для PostgreSQL.
type PostgresSellerStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresSellerStorage создаёт новый экземпляр PostgresSellerStorage.
func NewPostgresSellerStorage(pool *pgxpool.Pool) *PostgresSellerStorage {
	return &PostgresSellerStorage{pool: pool}
}

// Add регистрирует нового продавца.
func (s *PostgresSellerStorage) Add(ctx context.Context, seller *models.Seller) error {
	if seller.DistributionLevel < 1 {
		seller.DistributionLevel = 1
	}
	if seller.MaxConcurrentOrders < 1 {
		seller.MaxConcurrentOrders = 5
	}

	query := `
		INSERT INTO sellers (telegram_id, username, first_name, nickname,
			is_active, participate_in_distribution, is_admin,
			distribution_level, max_concurrent_orders, added_at, added_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), $10)
		RETURNING added_at
	`
	err := s.pool.QueryRow(ctx, query,
		seller.TelegramID,
		seller.Username,
		seller.FirstName,
		seller.Nickname,
		seller.IsActive,
		seller.ParticipateInDistribution,
		seller.IsAdmin,
		seller.DistributionLevel,
		seller.MaxConcurrentOrders,
		seller.AddedBy,
	).Scan(&seller.AddedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrSellerExists
		}
		return fmt.Errorf("failed to add seller: %w", err)
	}
	return nil
}

// Remove удаляет продавца.
func (s *PostgresSellerStorage) Remove(ctx context.Context, telegramID int64) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM sellers WHERE telegram_id = $1`, telegramID)
	if err != nil {
		return fmt.Errorf("failed to remove seller: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSellerNotFound
	}
	return nil
}

// Get возвращает продавца по telegram_id.
func (s *PostgresSellerStorage) Get(ctx context.Context, telegramID int64) (*models.Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers WHERE telegram_id = $1`

	seller, err := scanSeller(s.pool.QueryRow(ctx, query, telegramID))
	if err != nil {
		return nil, err
	}
	return seller, nil
}

// List возвращает всех продавцов (недавно добавленные первыми).
func (s *PostgresSellerStorage) List(ctx context.Context) ([]*models.Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers ORDER BY added_at DESC`
	return s.querySellers(ctx, query)
}

// ListParticipating возвращает продавцов, доступных для автораспределения:
// активных и с включённым участием. Продавец с выключенным участием
// не возвращается, даже если он активен.
func (s *PostgresSellerStorage) ListParticipating(ctx context.Context) ([]*models.Seller, error) {
	query := `SELECT ` + sellerColumns + `
		FROM sellers
		WHERE is_active = TRUE AND participate_in_distribution = TRUE
		ORDER BY telegram_id ASC`
	return s.querySellers(ctx, query)
}

// ListActive возвращает всех активных продавцов (для широковещательной рассылки).
func (s *PostgresSellerStorage) ListActive(ctx context.Context) ([]*models.Seller, error) {
	query := `SELECT ` + sellerColumns + `
		FROM sellers
		WHERE is_active = TRUE
		ORDER BY telegram_id ASC`
	return s.querySellers(ctx, query)
}

// ListAdmins возвращает продавцов с правами администратора бота.
func (s *PostgresSellerStorage) ListAdmins(ctx context.Context) ([]*models.Seller, error) {
	query := `SELECT ` + sellerColumns + ` FROM sellers WHERE is_admin = TRUE ORDER BY telegram_id ASC`
	return s.querySellers(ctx, query)
}

// ToggleActive переключает активность продавца.
func (s *PostgresSellerStorage) ToggleActive(ctx context.Context, telegramID int64) error {
	return s.exec(ctx, `UPDATE sellers SET is_active = NOT is_active WHERE telegram_id = $1`, telegramID)
}

// SetParticipation включает или выключает участие в распределении.
func (s *PostgresSellerStorage) SetParticipation(ctx context.Context, telegramID int64, participate bool) error {
	return s.exec(ctx, `UPDATE sellers SET participate_in_distribution = $2 WHERE telegram_id = $1`, telegramID, participate)
}

// SetDistributionLevel задаёт вес продавца в распределении (минимум 1).
func (s *PostgresSellerStorage) SetDistributionLevel(ctx context.Context, telegramID int64, level int) error {
	if level < 1 {
		return fmt.Errorf("distribution level must be positive")
	}
	return s.exec(ctx, `UPDATE sellers SET distribution_level = $2 WHERE telegram_id = $1`, telegramID, level)
}

// SetMaxConcurrent задаёт лимит одновременных заказов продавца.
func (s *PostgresSellerStorage) SetMaxConcurrent(ctx context.Context, telegramID int64, maxOrders int) error {
	if maxOrders < 1 {
		return fmt.Errorf("max concurrent orders must be positive")
	}
	return s.exec(ctx, `UPDATE sellers SET max_concurrent_orders = $2 WHERE telegram_id = $1`, telegramID, maxOrders)
}

// UpdateNickname задаёт отображаемое имя продавца.
func (s *PostgresSellerStorage) UpdateNickname(ctx context.Context, telegramID int64, nickname string) error {
	return s.exec(ctx, `UPDATE sellers SET nickname = $2 WHERE telegram_id = $1`, telegramID, nickname)
}

// UpdateProfile обновляет username и имя, полученные из Telegram-профиля.
func (s *PostgresSellerStorage) UpdateProfile(ctx context.Context, telegramID int64, username, firstName string) error {
	return s.exec(ctx,
		`UPDATE sellers SET username = $2, first_name = $3 WHERE telegram_id = $1`,
		telegramID, username, firstName)
}

// TouchLastActive обновляет heartbeat продавца. Метка перезаписывается
// монотонно и используется только для отображения, блокировка не нужна.
func (s *PostgresSellerStorage) TouchLastActive(ctx context.Context, telegramID int64) error {
	return s.exec(ctx, `UPDATE sellers SET last_active_at = NOW() WHERE telegram_id = $1`, telegramID)
}

func (s *PostgresSellerStorage) exec(ctx context.Context, query string, args ...any) error {
	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update seller: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSellerNotFound
	}
	return nil
}

const sellerColumns = `telegram_id, username, first_name, nickname, is_active,
	participate_in_distribution, is_admin, distribution_level,
	max_concurrent_orders, last_active_at, added_at, added_by`

func (s *PostgresSellerStorage) querySellers(ctx context.Context, query string, args ...any) ([]*models.Seller, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sellers: %w", err)
	}
	defer rows.Close()

	var sellers []*models.Seller
	for rows.Next() {
		seller, err := scanSeller(rows)
		if err != nil {
			return nil, err
		}
		sellers = append(sellers, seller)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return sellers, nil
}

func scanSeller(row pgx.Row) (*models.Seller, error) {
	var (
		seller    models.Seller
		username  *string
		firstName *string
		nickname  *string
		addedBy   *string
	)

	err := row.Scan(
		&seller.TelegramID,
		&username,
		&firstName,
		&nickname,
		&seller.IsActive,
		&seller.ParticipateInDistribution,
		&seller.IsAdmin,
		&seller.DistributionLevel,
		&seller.MaxConcurrentOrders,
		&seller.LastActiveAt,
		&seller.AddedAt,
		&addedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSellerNotFound
		}
		return nil, fmt.Errorf("failed to scan seller: %w", err)
	}

	if username != nil {
		seller.Username = *username
	}
	if firstName != nil {
		seller.FirstName = *firstName
	}
	if nickname != nil {
		seller.Nickname = *nickname
	}
	if addedBy != nil {
		seller.AddedBy = *addedBy
	}

	return &seller, nil
}
