// status.go — приём статуса обработки факса от downstream.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/danussh/Faxing/internal/repository"
)

// Значения статуса обработки (регистр не важен).
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// StatusUpdate — уведомление о результате обработки факса.
// Downstream может прислать любой из двух ключей.
type StatusUpdate struct {
	Status      string
	FaxID       string
	VendorFaxID string
}

// StatusService — сервис обновления статуса обработки.
type StatusService struct {
	faxes  repository.FaxRecordRepository
	logger *slog.Logger
}

// NewStatusService создаёт сервис статусов.
func NewStatusService(faxes repository.FaxRecordRepository, logger *slog.Logger) *StatusService {
	return &StatusService{
		faxes:  faxes,
		logger: logger.With(slog.String("component", "status")),
	}
}

// ParseStatus переводит строку статуса в признак успешной обработки.
func ParseStatus(status string) (bool, error) {
	switch {
	case strings.EqualFold(status, StatusSuccess):
		return true, nil
	case strings.EqualFold(status, StatusFailed):
		return false, nil
	}
	return false, ErrInvalidStatus
}

// Update обновляет статус: сначала по ключу поставщика (в пределах
// поставщика факса FaxID), затем по FaxID.
// Статус монотонен: FAILED не отменяет ранее принятый SUCCESS.
// Ошибки: ErrInvalidStatus, ErrFaxNotFound.
func (s *StatusService) Update(ctx context.Context, u StatusUpdate) error {
	succeeded, err := ParseStatus(u.Status)
	if err != nil {
		return err
	}

	// Некорректный UUID не может совпасть ни с одной записью
	faxID := ""
	if id, err := uuid.Parse(u.FaxID); err == nil {
		faxID = id.String()
	}

	if u.VendorFaxID != "" {
		n, err := s.faxes.SetProcessStatusByVendorFaxID(ctx, u.VendorFaxID, faxID, succeeded)
		if err != nil {
			return fmt.Errorf("обновление статуса по vendor fax id: %w", err)
		}
		if n > 0 {
			s.logger.Debug("Статус обновлён по vendor fax id",
				slog.String("vendor_fax_id", u.VendorFaxID),
				slog.Bool("succeeded", succeeded),
			)
			return nil
		}
	}

	if faxID == "" {
		return ErrFaxNotFound
	}

	n, err := s.faxes.SetProcessStatusByFaxID(ctx, faxID, succeeded)
	if err != nil {
		return fmt.Errorf("обновление статуса по fax id: %w", err)
	}
	if n == 0 {
		return ErrFaxNotFound
	}

	s.logger.Debug("Статус обновлён по fax id",
		slog.String("fax_id", u.FaxID),
		slog.Bool("succeeded", succeeded),
	)
	return nil
}
