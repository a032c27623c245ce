package repository

import (
	"context"
	"time"
)

// SweepLockRepository — блокировки тиков сверки (таблица reconciliation_locks).
// Одна строка на тик, взаимное исключение — первичный ключ tick_at.
type SweepLockRepository interface {
	// TryAcquire вставляет строку тика. false — тик уже занят другим экземпляром.
	TryAcquire(ctx context.Context, tick time.Time, owner string) (bool, error)
	// PurgeBefore удаляет строки тиков раньше tick.
	PurgeBefore(ctx context.Context, tick time.Time) (int64, error)
}

// sweepLockRepo — реализация SweepLockRepository.
type sweepLockRepo struct {
	db DBTX
}

// NewSweepLockRepository создаёт репозиторий блокировок сверки.
func NewSweepLockRepository(db DBTX) SweepLockRepository {
	return &sweepLockRepo{db: db}
}

func (r *sweepLockRepo) TryAcquire(ctx context.Context, tick time.Time, owner string) (bool, error) {
	query := `INSERT INTO reconciliation_locks (tick_at, created_by) VALUES ($1, $2)`

	if _, err := r.db.Exec(ctx, query, tick.UTC(), owner); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, classifyError("ошибка захвата блокировки сверки", err)
	}
	return true, nil
}

func (r *sweepLockRepo) PurgeBefore(ctx context.Context, tick time.Time) (int64, error) {
	query := `DELETE FROM reconciliation_locks WHERE tick_at < $1`

	tag, err := r.db.Exec(ctx, query, tick.UTC())
	if err != nil {
		return 0, classifyError("ошибка очистки блокировок сверки", err)
	}
	return tag.RowsAffected(), nil
}
