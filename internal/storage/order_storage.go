package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sandanbot/recharge/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrCodeNotFound  = errors.New("activation code not found")
	ErrCodeUsed      = errors.New("activation code already used")
)

// PostgresOrderStorage реализует OrderStorage для PostgreSQL.
//
// Все условные переходы статуса выполнены как одиночные UPDATE с проверкой
// ожидаемого статуса в WHERE: ноль затронутых строк означает проигрыш гонки,
// а не ошибку.
type PostgresOrderStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresOrderStorage создаёт новый экземпляр PostgresOrderStorage.
func NewPostgresOrderStorage(pool *pgxpool.Pool) *PostgresOrderStorage {
	return &PostgresOrderStorage{pool: pool}
}

// CreateWithDeduction атомарно списывает цену заказа с баланса покупателя,
// добавляет запись журнала (type=consume) и создаёт заказ. Строка
// пользователя блокируется на время проверки, поэтому конкурирующие заказы
// одного покупателя не могут одновременно пройти проверку достаточности.
func (s *PostgresOrderStorage) CreateWithDeduction(ctx context.Context, order *models.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance, creditLimit decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT balance, credit_limit FROM users WHERE id = $1 FOR UPDATE`,
		order.UserID,
	).Scan(&balance, &creditLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to lock user balance: %w", err)
	}

	available := balance.Add(creditLimit)
	if available.LessThan(order.Price) {
		return &InsufficientFundsError{Shortfall: order.Price.Sub(available)}
	}

	newBalance := balance.Sub(order.Price)
	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance = $1 WHERE id = $2`,
		newBalance, order.UserID,
	); err != nil {
		return fmt.Errorf("failed to debit balance: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, username, package, price, proof_ref, remark, status, confirm_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at
	`,
		order.UserID,
		order.Username,
		order.Package,
		order.Price,
		order.ProofRef,
		order.Remark,
		models.OrderStatusSubmitted,
		models.ConfirmStatusPending,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger (user_id, amount, type, reason, order_id, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`,
		order.UserID,
		order.Price.Neg(),
		models.LedgerTypeConsume,
		fmt.Sprintf("order %d (%s)", order.ID, order.Package),
		order.ID,
		newBalance,
	); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order creation: %w", err)
	}

	order.Status = models.OrderStatusSubmitted
	order.ConfirmStatus = models.ConfirmStatusPending
	return nil
}

// CreateFromCode создаёт заказ по коду активации без списания баланса.
// Пометка кода использованным - compare-and-swap: при конкурентной
// активации побеждает ровно один вызов.
func (s *PostgresOrderStorage) CreateFromCode(ctx context.Context, order *models.Order, code string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var pkg string
	err = tx.QueryRow(ctx, `
		UPDATE activation_codes
		SET is_used = TRUE, used_at = NOW(), used_by = $1
		WHERE code = $2 AND is_used = FALSE
		RETURNING package
	`, order.UserID, code).Scan(&pkg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Либо кода нет, либо он уже использован.
			var exists bool
			if qErr := s.pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM activation_codes WHERE code = $1)`, code,
			).Scan(&exists); qErr == nil && exists {
				return ErrCodeUsed
			}
			return ErrCodeNotFound
		}
		return fmt.Errorf("failed to redeem code: %w", err)
	}

	order.Package = pkg
	order.Price = decimal.Zero

	err = tx.QueryRow(ctx, `
		INSERT INTO orders (user_id, username, package, price, proof_ref, remark, status, confirm_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at
	`,
		order.UserID,
		order.Username,
		order.Package,
		order.Price,
		order.ProofRef,
		order.Remark,
		models.OrderStatusSubmitted,
		models.ConfirmStatusPending,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit code redemption: %w", err)
	}

	order.Status = models.OrderStatusSubmitted
	order.ConfirmStatus = models.ConfirmStatusPending
	return nil
}

// Refund возвращает цену заказа на баланс покупателя. Допустим только из
// статусов cancelled/failed при refunded=false; флаг проверяется и
// устанавливается одним UPDATE, поэтому повторный вызов возвращает false
// и не меняет баланс.
func (s *PostgresOrderStorage) Refund(ctx context.Context, orderID int64, reason string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	var price decimal.Decimal
	err = tx.QueryRow(ctx, `
		UPDATE orders
		SET refunded = TRUE
		WHERE id = $1 AND refunded = FALSE AND status IN ($2, $3)
		RETURNING user_id, price
	`, orderID, models.OrderStatusCancelled, models.OrderStatusFailed).Scan(&userID, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark order refunded: %w", err)
	}

	// Заказы без списания (коды активации) возвращать нечего,
	// но флаг всё равно ставим.
	if price.IsPositive() {
		var newBalance decimal.Decimal
		err = tx.QueryRow(ctx,
			`UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance`,
			price, userID,
		).Scan(&newBalance)
		if err != nil {
			return false, fmt.Errorf("failed to credit balance: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger (user_id, amount, type, reason, order_id, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, userID, price, models.LedgerTypeRefund, reason, orderID, newBalance); err != nil {
			return false, fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit refund: %w", err)
	}

	return true, nil
}

// Accept переводит заказ submitted -> accepted и фиксирует продавца.
// Денормализованное имя продавца сохраняется на момент принятия.
func (s *PostgresOrderStorage) Accept(ctx context.Context, orderID, sellerID int64, sellerName string) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1, accepted_by = $2, accepted_by_name = $3, accepted_at = NOW()
		WHERE id = $4 AND status = $5
	`, models.OrderStatusAccepted, sellerID, sellerName, orderID, models.OrderStatusSubmitted)
	if err != nil {
		return false, fmt.Errorf("failed to accept order: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// Complete переводит заказ accepted -> completed.
func (s *PostgresOrderStorage) Complete(ctx context.Context, orderID int64) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1, completed_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.OrderStatusCompleted, orderID, models.OrderStatusAccepted)
	if err != nil {
		return false, fmt.Errorf("failed to complete order: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// Fail переводит заказ accepted -> failed.
func (s *PostgresOrderStorage) Fail(ctx context.Context, orderID int64) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1, failed_at = NOW(), completed_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.OrderStatusFailed, orderID, models.OrderStatusAccepted)
	if err != nil {
		return false, fmt.Errorf("failed to fail order: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// Cancel переводит заказ submitted -> cancelled.
func (s *PostgresOrderStorage) Cancel(ctx context.Context, orderID int64) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1
		WHERE id = $2 AND status = $3
	`, models.OrderStatusCancelled, orderID, models.OrderStatusSubmitted)
	if err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// Dispute переводит заказ completed -> disputing.
func (s *PostgresOrderStorage) Dispute(ctx context.Context, orderID int64) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1
		WHERE id = $2 AND status = $3
	`, models.OrderStatusDisputing, orderID, models.OrderStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to dispute order: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ConfirmReceipt подтверждает получение: submitted/accepted/disputing -> completed.
// Повторное подтверждение уже выполненного заказа проходит как успех,
// completed_at не перезаписывается, если уже был установлен.
func (s *PostgresOrderStorage) ConfirmReceipt(ctx context.Context, orderID int64) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1, confirm_status = $2, completed_at = COALESCE(completed_at, NOW())
		WHERE id = $3 AND status IN ($4, $5, $6, $7)
	`, models.OrderStatusCompleted, models.ConfirmStatusConfirmed, orderID,
		models.OrderStatusSubmitted, models.OrderStatusAccepted, models.OrderStatusDisputing,
		models.OrderStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to confirm receipt: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// SetConfirmStatus меняет подтверждение получения без смены статуса заказа.
func (s *PostgresOrderStorage) SetConfirmStatus(ctx context.Context, orderID int64, cs models.ConfirmStatus) error {
	result, err := s.pool.Exec(ctx,
		`UPDATE orders SET confirm_status = $1 WHERE id = $2`, cs, orderID)
	if err != nil {
		return fmt.Errorf("failed to set confirm status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// MarkNotified ставит флаг notified ровно один раз: false -> true.
// Возвращает false, если заказ уже был захвачен другим циклом диспетчеризации.
func (s *PostgresOrderStorage) MarkNotified(ctx context.Context, orderID int64) (bool, error) {
	result, err := s.pool.Exec(ctx,
		`UPDATE orders SET notified = TRUE WHERE id = $1 AND notified = FALSE`, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to mark order notified: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListUnnotified возвращает заказы, по которым рассылка ещё не выполнялась.
func (s *PostgresOrderStorage) ListUnnotified(ctx context.Context, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE notified = FALSE AND status = $1
		ORDER BY id ASC
		LIMIT $2
	`
	return s.queryOrders(ctx, query, models.OrderStatusSubmitted, limit)
}

// GetByID возвращает заказ по идентификатору.
func (s *PostgresOrderStorage) GetByID(ctx context.Context, orderID int64) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(s.pool.QueryRow(ctx, query, orderID))
}

// ListByUser возвращает заказы пользователя (новые первыми).
func (s *PostgresOrderStorage) ListByUser(ctx context.Context, userID int64) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY id DESC`
	return s.queryOrders(ctx, query, userID)
}

// ListRecent возвращает последние заказы для административного обзора.
func (s *PostgresOrderStorage) ListRecent(ctx context.Context, limit int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY id DESC LIMIT $1`
	return s.queryOrders(ctx, query, limit)
}

// ListBySeller возвращает последние заказы продавца.
func (s *PostgresOrderStorage) ListBySeller(ctx context.Context, sellerID int64, limit int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE accepted_by = $1 ORDER BY id DESC LIMIT $2`
	return s.queryOrders(ctx, query, sellerID, limit)
}

// CountSameDayRemark считает заказы того же покупателя с тем же непустым
// комментарием за тот же календарный день. Используется как мягкое
// предупреждение о дубликате, не как жёсткий запрет.
func (s *PostgresOrderStorage) CountSameDayRemark(ctx context.Context, userID int64, remark string, day time.Time) (int, error) {
	if remark == "" {
		return 0, nil
	}

	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM orders
		WHERE user_id = $1 AND remark = $2 AND created_at::date = $3::date
	`, userID, remark, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count duplicate remarks: %w", err)
	}
	return count, nil
}

// SellerLoad возвращает текущую нагрузку продавца: заказы, принятые в
// скользящем окне и ещё не достигшие конечного статуса.
func (s *PostgresOrderStorage) SellerLoad(ctx context.Context, sellerID int64, window time.Duration) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM orders
		WHERE accepted_by = $1
		  AND accepted_at > NOW() - $2::interval
		  AND status NOT IN ($3, $4, $5)
	`, sellerID, window.String(),
		models.OrderStatusCompleted, models.OrderStatusFailed, models.OrderStatusCancelled,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count seller load: %w", err)
	}
	return count, nil
}

const orderColumns = `id, user_id, username, package, price, proof_ref, remark,
	status, confirm_status, notified, refunded, accepted_by, accepted_by_name,
	created_at, accepted_at, completed_at, failed_at`

func (s *PostgresOrderStorage) queryOrders(ctx context.Context, query string, args ...any) ([]*models.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("rows error: %w", rows.Err())
	}

	return orders, nil
}

// scanOrder помогает читать заказ из строки результата.
func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		order          models.Order
		acceptedByName *string
	)

	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Username,
		&order.Package,
		&order.Price,
		&order.ProofRef,
		&order.Remark,
		&order.Status,
		&order.ConfirmStatus,
		&order.Notified,
		&order.Refunded,
		&order.AcceptedBy,
		&acceptedByName,
		&order.CreatedAt,
		&order.AcceptedAt,
		&order.CompletedAt,
		&order.FailedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	if acceptedByName != nil {
		order.AcceptedByName = *acceptedByName
	}

	return &order, nil
}
