package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandanbot/recharge/internal/models"
)

// PostgresLedgerStorage реализует LedgerStorage для PostgreSQL.
// Журнал только дописывается; записи создаются внутри транзакций
// операций, меняющих баланс (см. order_storage, recharge_storage).
type PostgresLedgerStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresLedgerStorage создаёт новый экземпляр PostgresLedgerStorage.
func NewPostgresLedgerStorage(pool *pgxpool.Pool) *PostgresLedgerStorage {
	return &PostgresLedgerStorage{pool: pool}
}

// ListByUser возвращает записи журнала пользователя в порядке создания.
func (s *PostgresLedgerStorage) ListByUser(ctx context.Context, userID int64) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, user_id, amount, type, reason, order_id, balance_after, created_at
		FROM ledger
		WHERE user_id = $1
		ORDER BY id ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Amount, &e.Type, &e.Reason,
			&e.OrderID, &e.BalanceAfter, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return entries, nil
}
