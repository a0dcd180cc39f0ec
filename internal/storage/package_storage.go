package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandanbot/recharge/internal/models"
)

var ErrPackageNotFound = errors.New("package not found")

// PostgresPackageStorage реализует PackageStorage для PostgreSQL.
type PostgresPackageStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresPackageStorage создаёт новый экземпляр PostgresPackageStorage.
func NewPostgresPackageStorage(pool *pgxpool.Pool) *PostgresPackageStorage {
	return &PostgresPackageStorage{pool: pool}
}

// GetByCode возвращает тариф по коду.
func (s *PostgresPackageStorage) GetByCode(ctx context.Context, code string) (*models.Package, error) {
	pkg := &models.Package{}
	err := s.pool.QueryRow(ctx,
		`SELECT code, title, price, enabled FROM packages WHERE code = $1`, code,
	).Scan(&pkg.Code, &pkg.Title, &pkg.Price, &pkg.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return pkg, nil
}

// List возвращает все тарифы.
func (s *PostgresPackageStorage) List(ctx context.Context) ([]*models.Package, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, title, price, enabled FROM packages ORDER BY code ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*models.Package
	for rows.Next() {
		pkg := &models.Package{}
		if err := rows.Scan(&pkg.Code, &pkg.Title, &pkg.Price, &pkg.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return pkgs, nil
}

// Upsert создаёт или обновляет тариф.
func (s *PostgresPackageStorage) Upsert(ctx context.Context, pkg *models.Package) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO packages (code, title, price, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE
		SET title = EXCLUDED.title, price = EXCLUDED.price, enabled = EXCLUDED.enabled
	`, pkg.Code, pkg.Title, pkg.Price, pkg.Enabled)
	if err != nil {
		return fmt.Errorf("failed to upsert package: %w", err)
	}
	return nil
}
