// reconcile.go — периодическая сверка зависших факсов.
//
// Сверка гарантирует доставку, если событие загрузки потеряно или отправка
// в downstream не удалась. Тик сверки:
//  1. Блокировка: вставка строки reconciliation_locks с временем тика,
//     округлённым до интервала. Строка уже есть — тик обрабатывает другой
//     экземпляр, выходим без ошибки. Иначе удаляем строки прошлых тиков.
//  2. Выключатель: параметр SweepControl = 0 — выходим без обработки.
//  3. Выборка кандидатов с интервалами из параметров (по умолчанию 10 и 60 минут).
//  4. Для каждого кандидата независимо: HEAD объекта (нет — "upload pending",
//     пропуск), флаг загрузки при необходимости, отправка в downstream,
//     фиксация попытки независимо от результата.
//
// Ошибка по одному факсу не прерывает сверку: факс остаётся кандидатом до
// истечения максимального интервала, после чего перестаёт выбираться.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danussh/Faxing/internal/domain/model"
	"github.com/danussh/Faxing/internal/objectstore"
	"github.com/danussh/Faxing/internal/repository"
)

// ObjectInspector возвращает метаданные файла факса.
// Реализуется objectstore.Issuer.
type ObjectInspector interface {
	Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error)
}

// ObjectChecker проверяет наличие файла факса.
// Реализуется objectstore.Issuer.
type ObjectChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// ReconcileConfig — параметры сверки.
type ReconcileConfig struct {
	// Interval — период тиков и шаг округления времени тика
	Interval time.Duration
	// Workers — сколько кандидатов обрабатывается одновременно
	Workers int
	// Owner — идентификатор экземпляра в строке блокировки
	Owner string
	// Имена параметров
	RetryParam    string
	MaxRetryParam string
	ControlParam  string
	// Значения по умолчанию для интервалов (минуты)
	DefaultRetry    int
	DefaultMaxRetry int
}

// sweepEnabled — значение выключателя по умолчанию (сверка включена).
const sweepEnabled = 1

// SweepResult — итог одного тика сверки.
type SweepResult struct {
	Tick time.Time
	// NextTick — следующий плановый тик
	NextTick time.Time
	// Acquired — тик захвачен этим экземпляром
	Acquired bool
	// Disabled — сверка выключена оператором
	Disabled      bool
	Candidates    int
	UploadPending int
	Dispatched    int
	Failed        int
}

// ReconcileService — сервис периодической сверки.
type ReconcileService struct {
	faxes      repository.FaxRecordRepository
	locks      repository.SweepLockRepository
	objects    ObjectInspector
	dispatcher *Dispatcher
	params     IntParams
	cfg        ReconcileConfig
	logger     *slog.Logger

	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	faxes repository.FaxRecordRepository,
	locks repository.SweepLockRepository,
	objects ObjectInspector,
	dispatcher *Dispatcher,
	params IntParams,
	cfg ReconcileConfig,
	logger *slog.Logger,
) *ReconcileService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &ReconcileService{
		faxes:      faxes,
		locks:      locks,
		objects:    objects,
		dispatcher: dispatcher,
		params:     params,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "reconcile")),
		now:        time.Now,
	}
}

// Start запускает фоновую горутину. Тики выровнены по границам интервала
// (при интервале 5m — в :00, :05, :10 ...), чтобы экземпляры сервиса
// конкурировали за одну и ту же строку блокировки.
func (s *ReconcileService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Сверка зависших факсов запущена",
			slog.String("interval", s.cfg.Interval.String()),
			slog.Int("workers", s.cfg.Workers),
		)

		for {
			next := s.now().Truncate(s.cfg.Interval).Add(s.cfg.Interval)
			timer := time.NewTimer(time.Until(next))

			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("Сверка зависших факсов остановлена")
				return
			case <-timer.C:
				if _, err := s.RunTick(ctx, next); err != nil {
					s.logger.Error("Ошибка сверки", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения текущего тика.
func (s *ReconcileService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// RunOnce выполняет тик текущего интервала (faxctl sweep). Тик берётся
// по началу интервала, а не округлением, чтобы ручной запуск не занял
// будущий плановый тик работающего экземпляра. Если работающий экземпляр
// уже обработал текущий интервал, результат вернётся с Acquired=false.
func (s *ReconcileService) RunOnce(ctx context.Context) (*SweepResult, error) {
	return s.RunTick(ctx, s.now().Truncate(s.cfg.Interval))
}

// RunTick выполняет тик сверки для момента at.
func (s *ReconcileService) RunTick(ctx context.Context, at time.Time) (*SweepResult, error) {
	start := time.Now()
	result, err := s.runTick(ctx, at)
	observeTask("reconcile", start, err)

	switch {
	case err != nil:
		sweepRunsTotal.WithLabelValues("failed").Inc()
	case !result.Acquired:
		sweepRunsTotal.WithLabelValues("lock_lost").Inc()
	case result.Disabled:
		sweepRunsTotal.WithLabelValues("disabled").Inc()
	default:
		sweepRunsTotal.WithLabelValues("processed").Inc()
	}
	return result, err
}

func (s *ReconcileService) runTick(ctx context.Context, at time.Time) (*SweepResult, error) {
	tick := at.Round(s.cfg.Interval).UTC()
	result := &SweepResult{Tick: tick, NextTick: tick.Add(s.cfg.Interval)}

	// 1. Блокировка тика
	acquired, err := s.locks.TryAcquire(ctx, tick, s.cfg.Owner)
	if err != nil {
		return result, fmt.Errorf("блокировка тика: %w", err)
	}
	if !acquired {
		s.logger.Debug("Тик обрабатывается другим экземпляром", slog.Time("tick", tick))
		return result, nil
	}
	result.Acquired = true

	if purged, err := s.locks.PurgeBefore(ctx, tick); err != nil {
		s.logger.Warn("Ошибка очистки блокировок прошлых тиков", slog.String("error", err.Error()))
	} else if purged > 0 {
		s.logger.Debug("Блокировки прошлых тиков удалены", slog.Int64("count", purged))
	}

	// 2. Выключатель
	if s.params.IntOr(ctx, s.cfg.ControlParam, sweepEnabled) == 0 {
		s.logger.Warn("Сверка зависших факсов выключена оператором")
		result.Disabled = true
		return result, nil
	}

	// 3. Кандидаты
	retry := s.params.PositiveIntOr(ctx, s.cfg.RetryParam, s.cfg.DefaultRetry)
	maxRetry := s.params.PositiveIntOr(ctx, s.cfg.MaxRetryParam, s.cfg.DefaultMaxRetry)

	candidates, err := s.faxes.FindReconciliationCandidates(ctx, retry, maxRetry)
	if err != nil {
		return result, fmt.Errorf("выборка зависших факсов: %w", err)
	}
	result.Candidates = len(candidates)
	stuckFaxes.WithLabelValues("total").Set(float64(len(candidates)))

	if len(candidates) == 0 {
		stuckFaxes.WithLabelValues("upload_pending").Set(0)
		s.logger.Debug("Зависших факсов нет", slog.Time("tick", tick))
		return result, nil
	}

	s.logger.Info("Найдены зависшие факсы",
		slog.Time("tick", tick),
		slog.Int("count", len(candidates)),
		slog.Int("retry_minutes", retry),
		slog.Int("max_retry_minutes", maxRetry),
	)

	// 4. Обработка кандидатов
	var pending, dispatched, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, fax := range candidates {
		g.Go(func() error {
			switch s.reprocess(gctx, fax) {
			case outcomePending:
				pending.Add(1)
			case outcomeDispatched:
				dispatched.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.UploadPending = int(pending.Load())
	result.Dispatched = int(dispatched.Load())
	result.Failed = int(failed.Load())
	stuckFaxes.WithLabelValues("upload_pending").Set(float64(result.UploadPending))

	s.logger.Info("Сверка завершена",
		slog.Time("tick", tick),
		slog.Int("candidates", result.Candidates),
		slog.Int("upload_pending", result.UploadPending),
		slog.Int("dispatched", result.Dispatched),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

type reprocessOutcome int

const (
	outcomePending reprocessOutcome = iota
	outcomeDispatched
	outcomeFailed
)

// reprocess повторно обрабатывает один зависший факс.
func (s *ReconcileService) reprocess(ctx context.Context, fax *model.FaxRecord) reprocessOutcome {
	logger := s.logger.With(slog.String("fax_id", fax.FaxID))

	info, err := s.objects.Head(ctx, fax.FaxID)
	if errors.Is(err, objectstore.ErrNotFound) {
		logger.Debug("Файл ещё не загружен")
		return outcomePending
	}
	if err != nil {
		logger.Error("Ошибка проверки файла в хранилище", slog.String("error", err.Error()))
		return outcomeFailed
	}

	if !fax.Uploaded {
		if _, err := s.faxes.MarkUploaded(ctx, fax.FaxID); err != nil {
			logger.Error("Ошибка записи флага загрузки", slog.String("error", err.Error()))
			return outcomeFailed
		}
		fax.Uploaded = true
	}

	outcome := outcomeDispatched
	if err := s.dispatcher.Dispatch(ctx, fax, info.ETag); err != nil {
		outcome = outcomeFailed
	}

	if err := s.faxes.TouchLastSent(ctx, fax.FaxID); err != nil {
		logger.Error("Ошибка фиксации попытки отправки", slog.String("error", err.Error()))
	}
	return outcome
}
