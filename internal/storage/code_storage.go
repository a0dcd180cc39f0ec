package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandanbot/recharge/internal/models"
)

// PostgresCodeStorage реализует CodeStorage для PostgreSQL.
// Активация кода выполняется в order_storage (CreateFromCode),
// здесь только генерация и просмотр.
type PostgresCodeStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresCodeStorage создаёт новый экземпляр PostgresCodeStorage.
func NewPostgresCodeStorage(pool *pgxpool.Pool) *PostgresCodeStorage {
	return &PostgresCodeStorage{pool: pool}
}

// CreateBatch сохраняет партию кодов активации.
func (s *PostgresCodeStorage) CreateBatch(ctx context.Context, codes []*models.ActivationCode) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, code := range codes {
		err := tx.QueryRow(ctx, `
			INSERT INTO activation_codes (code, package, is_used, created_at)
			VALUES ($1, $2, FALSE, NOW())
			RETURNING id, created_at
		`, code.Code, code.Package).Scan(&code.ID, &code.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert activation code: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit code batch: %w", err)
	}
	return nil
}

// List возвращает коды, опционально только неиспользованные.
func (s *PostgresCodeStorage) List(ctx context.Context, onlyUnused bool) ([]*models.ActivationCode, error) {
	query := `
		SELECT id, code, package, is_used, used_at, used_by, created_at
		FROM activation_codes
	`
	if onlyUnused {
		query += ` WHERE is_used = FALSE`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query activation codes: %w", err)
	}
	defer rows.Close()

	var codes []*models.ActivationCode
	for rows.Next() {
		var c models.ActivationCode
		if err := rows.Scan(&c.ID, &c.Code, &c.Package, &c.IsUsed, &c.UsedAt, &c.UsedBy, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activation code: %w", err)
		}
		codes = append(codes, &c)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return codes, nil
}
