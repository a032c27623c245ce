// download.go — выдача presigned URL на скачивание файла факса по ключу.
// Используется downstream-системой, когда ей нужен свежий URL.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/danussh/Faxing/internal/objectstore"
)

// ErrObjectNotFound — файла с таким ключом нет в хранилище.
var ErrObjectNotFound = objectstore.ErrNotFound

// DownloadService — выдача URL на скачивание.
type DownloadService struct {
	objects ObjectChecker
	urls    DownloadURLIssuer
	logger  *slog.Logger
}

// NewDownloadService создаёт сервис выдачи URL на скачивание.
func NewDownloadService(objects ObjectChecker, urls DownloadURLIssuer, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		objects: objects,
		urls:    urls,
		logger:  logger.With(slog.String("component", "download")),
	}
}

// Link проверяет наличие объекта и возвращает presigned URL на скачивание.
// Ошибки: ErrObjectNotFound; остальные — внутренние.
func (s *DownloadService) Link(ctx context.Context, key string) (string, error) {
	start := time.Now()
	url, err := s.link(ctx, key)

	status := "success"
	switch {
	case errors.Is(err, ErrObjectNotFound):
		status = "not_found"
	case err != nil:
		status = "failed"
	}
	taskDuration.WithLabelValues("presigned_url", status).Observe(time.Since(start).Seconds())

	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		s.logger.Error("Ошибка выдачи URL на скачивание",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return url, err
}

func (s *DownloadService) link(ctx context.Context, key string) (string, error) {
	// Проверка обязательна: presigned URL выдаётся и для несуществующего ключа
	ok, err := s.objects.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrObjectNotFound
	}
	return s.urls.DownloadURL(ctx, key)
}
