package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/shopspring/decimal"
)

var ErrRechargeNotFound = errors.New("recharge request not found")

// PostgresRechargeStorage реализует RechargeStorage для PostgreSQL.
type PostgresRechargeStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresRechargeStorage создаёт новый экземпляр PostgresRechargeStorage.
func NewPostgresRechargeStorage(pool *pgxpool.Pool) *PostgresRechargeStorage {
	return &PostgresRechargeStorage{pool: pool}
}

// Create сохраняет новую заявку на пополнение.
func (s *PostgresRechargeStorage) Create(ctx context.Context, req *models.RechargeRequest) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO recharge_requests (user_id, amount, proof_ref, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, created_at
	`, req.UserID, req.Amount, req.ProofRef, models.RechargeStatusPending).Scan(&req.ID, &req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create recharge request: %w", err)
	}
	req.Status = models.RechargeStatusPending
	return nil
}

// GetByID возвращает заявку по идентификатору.
func (s *PostgresRechargeStorage) GetByID(ctx context.Context, id int64) (*models.RechargeRequest, error) {
	req := &models.RechargeRequest{}
	var reviewedBy *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, amount, proof_ref, status, reviewed_by, created_at, reviewed_at
		FROM recharge_requests WHERE id = $1
	`, id).Scan(&req.ID, &req.UserID, &req.Amount, &req.ProofRef, &req.Status, &reviewedBy, &req.CreatedAt, &req.ReviewedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRechargeNotFound
		}
		return nil, fmt.Errorf("failed to get recharge request: %w", err)
	}
	if reviewedBy != nil {
		req.ReviewedBy = *reviewedBy
	}
	return req, nil
}

// ListPending возвращает заявки, ожидающие проверки.
func (s *PostgresRechargeStorage) ListPending(ctx context.Context) ([]*models.RechargeRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, amount, proof_ref, status, reviewed_by, created_at, reviewed_at
		FROM recharge_requests
		WHERE status = $1
		ORDER BY id ASC
	`, models.RechargeStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query recharge requests: %w", err)
	}
	defer rows.Close()

	var reqs []*models.RechargeRequest
	for rows.Next() {
		req := &models.RechargeRequest{}
		var reviewedBy *string
		if err := rows.Scan(&req.ID, &req.UserID, &req.Amount, &req.ProofRef, &req.Status,
			&reviewedBy, &req.CreatedAt, &req.ReviewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recharge request: %w", err)
		}
		if reviewedBy != nil {
			req.ReviewedBy = *reviewedBy
		}
		reqs = append(reqs, req)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return reqs, nil
}

// Approve одобряет заявку: pending -> approved строго один раз, зачисление
// на баланс и запись журнала выполняются в той же транзакции. Повторный
// вызов возвращает false и не меняет баланс.
func (s *PostgresRechargeStorage) Approve(ctx context.Context, id int64, reviewer string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	var amount decimal.Decimal
	err = tx.QueryRow(ctx, `
		UPDATE recharge_requests
		SET status = $1, reviewed_by = $2, reviewed_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING user_id, amount
	`, models.RechargeStatusApproved, reviewer, id, models.RechargeStatusPending).Scan(&userID, &amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to approve recharge: %w", err)
	}

	var newBalance decimal.Decimal
	err = tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance`,
		amount, userID,
	).Scan(&newBalance)
	if err != nil {
		return false, fmt.Errorf("failed to credit balance: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger (user_id, amount, type, reason, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, userID, amount, models.LedgerTypeRecharge,
		fmt.Sprintf("recharge request %d approved by %s", id, reviewer), newBalance); err != nil {
		return false, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit approval: %w", err)
	}

	return true, nil
}

// Reject отклоняет заявку: pending -> rejected строго один раз.
func (s *PostgresRechargeStorage) Reject(ctx context.Context, id int64, reviewer string) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE recharge_requests
		SET status = $1, reviewed_by = $2, reviewed_at = NOW()
		WHERE id = $3 AND status = $4
	`, models.RechargeStatusRejected, reviewer, id, models.RechargeStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to reject recharge: %w", err)
	}
	return result.RowsAffected() > 0, nil
}
