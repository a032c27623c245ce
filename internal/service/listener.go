// listener.go — обработка событий завершения загрузки файла факса.
//
// События доставляются at-least-once, в любом порядке относительно приёма
// метаданных и сверки. Защита от повторной отправки держится на двух
// условных операциях базы: MarkUploaded (0 строк — событие уже обработано
// или записи нет) и FetchUploadedAndEligible (факс уже доставлен,
// остановлен или отправлен сверкой недавно). Таблицы дедупликации нет.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/danussh/Faxing/internal/repository"
	"github.com/danussh/Faxing/internal/uploadevents"
)

// ListenerConfig — параметры обработчика событий загрузки.
type ListenerConfig struct {
	// RetryParam — имя параметра интервала повторной отправки (минуты)
	RetryParam string
	// DefaultRetry — интервал, если параметр недоступен
	DefaultRetry int
}

// UploadListener — обработчик событий загрузки.
type UploadListener struct {
	faxes      repository.FaxRecordRepository
	dispatcher *Dispatcher
	params     IntParams
	cfg        ListenerConfig
	logger     *slog.Logger
}

// NewUploadListener создаёт обработчик событий загрузки.
func NewUploadListener(
	faxes repository.FaxRecordRepository,
	dispatcher *Dispatcher,
	params IntParams,
	cfg ListenerConfig,
	logger *slog.Logger,
) *UploadListener {
	return &UploadListener{
		faxes:      faxes,
		dispatcher: dispatcher,
		params:     params,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "upload_listener")),
	}
}

// HandleEvents обрабатывает события одного сообщения очереди.
// Ошибка возвращается только если флаг загрузки не удалось записать:
// тогда сообщение должно прийти повторно.
func (l *UploadListener) HandleEvents(ctx context.Context, events []uploadevents.Event) error {
	var errs []error
	for _, ev := range events {
		if err := l.HandleEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleEvent обрабатывает одно событие загрузки.
func (l *UploadListener) HandleEvent(ctx context.Context, ev uploadevents.Event) error {
	faxID := ev.Key
	logger := l.logger.With(slog.String("fax_id", faxID))

	if _, err := uuid.Parse(faxID); err != nil {
		logger.Warn("Ключ объекта не является FaxID, событие пропущено")
		return nil
	}

	if !ev.Time.IsZero() {
		logger.Debug("Событие загрузки получено",
			slog.Duration("delay", time.Since(ev.Time)),
		)
	}

	n, err := l.faxes.MarkUploaded(ctx, faxID)
	if err != nil {
		return fmt.Errorf("флаг загрузки %s: %w", faxID, err)
	}
	if n == 0 {
		logger.Warn("Запись не найдена или уже помечена загруженной, событие пропущено")
		return nil
	}

	retry := l.params.PositiveIntOr(ctx, l.cfg.RetryParam, l.cfg.DefaultRetry)
	fax, err := l.faxes.FetchUploadedAndEligible(ctx, faxID, retry)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Info("Факс уже обработан, остановлен или удалён, событие пропущено")
		return nil
	}
	if err != nil {
		// Флаг загрузки уже записан: повторная доставка будет пропущена,
		// факс подберёт сверка
		logger.Error("Ошибка получения факса для отправки", slog.String("error", err.Error()))
		return nil
	}

	// Ошибка отправки залогирована в Dispatch, попытка фиксируется в любом случае
	_ = l.dispatcher.Dispatch(ctx, fax, ev.ETag)

	if err := l.faxes.TouchLastSent(ctx, faxID); err != nil {
		logger.Error("Ошибка фиксации попытки отправки", slog.String("error", err.Error()))
	}
	return nil
}
