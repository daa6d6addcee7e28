package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchedulerLockKey — ключ advisory lock лидера планировщика.
const SchedulerLockKey int64 = 424242

// LeaderLock — сессионный advisory lock PostgreSQL.
// Удерживает отдельное соединение пула, пока не вызван Release.
type LeaderLock struct {
	conn *pgxpool.Conn
	key  int64
}

// AcquireLeaderLock ждёт, пока lock с ключом key не освободится,
// проверяя его раз в interval. Возвращает ошибку при отмене ctx.
func AcquireLeaderLock(ctx context.Context, pool *pgxpool.Pool, key int64, interval time.Duration) (*LeaderLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var ok bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
			conn.Release()
			return nil, fmt.Errorf("try advisory lock: %w", err)
		}
		if ok {
			return &LeaderLock{conn: conn, key: key}, nil
		}

		select {
		case <-ctx.Done():
			conn.Release()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release снимает lock и возвращает соединение в пул.
func (l *LeaderLock) Release(ctx context.Context) error {
	defer l.conn.Release()

	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
