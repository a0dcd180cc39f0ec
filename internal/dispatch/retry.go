package dispatch

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy описывает повторы доставки: число попыток, пауза между ними
// и таймаут одной попытки.
type RetryPolicy struct {
	MaxRetries     uint64
	Backoff        time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy - политика по умолчанию для доставки предложений.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		Backoff:        time.Second,
		AttemptTimeout: 5 * time.Second,
	}
}

// Do выполняет операцию с повторами. Каждая попытка ограничена своим
// таймаутом, отмена внешнего контекста прекращает повторы.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(p.MaxRetries, retry.NewConstant(p.Backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}
		if err := op(attemptCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
