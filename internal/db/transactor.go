package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/online-store/internal/catalog"
	"github.com/vasiliy-maslov/online-store/internal/order"
)

// Transactor runs order placement in one read-committed transaction with a
// bounded wait for row locks.
type Transactor struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

func NewTransactor(pool *pgxpool.Pool, lockTimeout time.Duration) *Transactor {
	return &Transactor{pool: pool, lockTimeout: lockTimeout}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, stores order.TxStores) error) (err error) {
	tx, beginErr := t.pool.Begin(ctx)
	if beginErr != nil {
		return classifyError(ctx, fmt.Errorf("repository: failed to begin transaction: %w", beginErr))
	}

	defer func() {
		// Rollback must run even when ctx is already cancelled.
		rbCtx := context.WithoutCancel(ctx)
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("Panic recovered during order transaction, rolling back")
			if rbErr := tx.Rollback(rbCtx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(rbCtx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			}
			err = classifyError(ctx, err)
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Msg("Failed to commit transaction")
			err = classifyError(ctx, fmt.Errorf("repository: failed to commit transaction: %w", commitErr))
		}
	}()

	// Ограничиваем ожидание блокировок строк внутри транзакции
	if t.lockTimeout > 0 {
		if _, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeoutSetting(t.lockTimeout)); err != nil {
			return fmt.Errorf("repository: failed to set lock timeout: %w", err)
		}
	}

	return fn(ctx, order.TxStores{
		Catalog: catalog.NewRepository(tx),
		Ledger:  order.NewLedger(tx),
	})
}

func lockTimeoutSetting(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("%dms", ms)
}

// classifyError maps lock and serialization failures onto the order package's
// retryable errors. Anything else is returned unchanged.
func classifyError(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.LockNotAvailable, pgerrcode.DeadlockDetected, pgerrcode.SerializationFailure:
		log.Warn().Str("sqlstate", pgErr.Code).Msg("repository: stock rows contended")
		return fmt.Errorf("%w: %w", order.ErrStockContention, err)
	case pgerrcode.QueryCanceled, pgerrcode.AdminShutdown, pgerrcode.CannotConnectNow:
		return fmt.Errorf("%w: %w", order.ErrStorageUnavailable, err)
	default:
		return err
	}
}
