// intake.go — приём метаданных факса от поставщика.
//
// Порядок: проверка секрета поставщика → валидация полей → регистрация
// записи (идемпотентно по паре vendor_fax_id + поставщик) → выдача
// presigned URL на загрузку файла с ключом = FaxID.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danussh/Faxing/internal/domain/model"
	"github.com/danussh/Faxing/internal/repository"
)

// SecretList — источник списка пар vendor:secret.
// Реализуется params.Store.
type SecretList interface {
	List(ctx context.Context, name string) ([]string, error)
}

// UploadURLIssuer выдаёт presigned URL на загрузку файла.
// Реализуется objectstore.Issuer.
type UploadURLIssuer interface {
	UploadURL(ctx context.Context, key string, metadata map[string]string) (string, error)
}

// IntakeResult — результат приёма метаданных.
type IntakeResult struct {
	FaxID     string
	UploadURL string
}

// IntakeService — сервис приёма метаданных факсов.
type IntakeService struct {
	faxes       repository.FaxRecordRepository
	secrets     SecretList
	secretsName string
	urls        UploadURLIssuer
	logger      *slog.Logger

	newID func() string
}

// NewIntakeService создаёт сервис приёма.
// secretsName — имя параметра со списком пар vendor:secret.
func NewIntakeService(
	faxes repository.FaxRecordRepository,
	secrets SecretList,
	secretsName string,
	urls UploadURLIssuer,
	logger *slog.Logger,
) *IntakeService {
	return &IntakeService{
		faxes:       faxes,
		secrets:     secrets,
		secretsName: secretsName,
		urls:        urls,
		logger:      logger.With(slog.String("component", "intake")),
		newID:       uuid.NewString,
	}
}

// Submit принимает метаданные факса.
// Ошибки: ErrUnauthorized, *ValidationError, ErrVendorNotRegistered,
// ErrInvalidInput; остальные — внутренние.
func (s *IntakeService) Submit(ctx context.Context, form *IntakeForm, secretKey string) (*IntakeResult, error) {
	if err := s.authorize(ctx, form.VendorName, secretKey); err != nil {
		return nil, err
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}

	fax, err := s.newFax(form)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	faxID, err := s.faxes.Register(ctx, fax)
	observeTask("store_metadata", start, err)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrVendorNotRegistered):
			return nil, ErrVendorNotRegistered
		case errors.Is(err, repository.ErrInvalidInput):
			return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err.Error())
		}
		return nil, fmt.Errorf("регистрация факса: %w", err)
	}

	if faxID != fax.FaxID {
		s.logger.Info("Повторный приём метаданных",
			slog.String("fax_id", faxID),
			slog.String("vendor_fax_id", fax.VendorFaxID),
		)
	} else {
		s.logger.Info("Метаданные факса сохранены",
			slog.String("fax_id", faxID),
			slog.String("vendor_fax_id", fax.VendorFaxID),
		)
	}

	url, err := s.urls.UploadURL(ctx, faxID, map[string]string{
		"faxid":       faxID,
		"vendorfaxid": fax.VendorFaxID,
		"vendorname":  form.VendorName,
	})
	if err != nil {
		return nil, fmt.Errorf("выдача URL на загрузку: %w", err)
	}

	return &IntakeResult{FaxID: faxID, UploadURL: url}, nil
}

// authorize сверяет lower(vendorName):secret со списком из хранилища параметров.
func (s *IntakeService) authorize(ctx context.Context, vendorName, secretKey string) error {
	pairs, err := s.secrets.List(ctx, s.secretsName)
	if err != nil {
		return fmt.Errorf("получение секретов поставщиков: %w", err)
	}

	candidate := strings.ToLower(vendorName) + ":" + secretKey
	for _, pair := range pairs {
		if pair == candidate {
			return nil
		}
	}

	s.logger.Warn("Неверный секрет поставщика", slog.String("vendor", vendorName))
	return ErrUnauthorized
}

// newFax переводит проверенную форму в модель регистрации.
func (s *IntakeService) newFax(form *IntakeForm) (*model.NewFax, error) {
	pages, err := strconv.Atoi(form.FaxPages)
	if err != nil {
		return nil, &ValidationError{Kind: KindMalformed, Fields: []string{FieldFaxPages}}
	}
	duration, err := strconv.Atoi(form.TransmissionDurationSeconds)
	if err != nil {
		return nil, &ValidationError{Kind: KindMalformed, Fields: []string{FieldTransmissionDurationSeconds}}
	}

	faxID := s.newID()
	return &model.NewFax{
		FaxID:                faxID,
		VendorName:           form.VendorName,
		VendorFaxID:          form.VendorFaxID,
		Filename:             faxID + ".tif",
		GoodPageCount:        pages,
		Partial:              form.Partial(),
		FromNumber:           form.CallerNumber,
		ToNumber:             form.CalledNumber,
		TransmissionStatus:   form.TransmissionStatus,
		TransmissionDuration: duration,
		ReceivedAt:           form.FaxReceivedTimestamp,
		CallerANI:            form.CallerANI,
		RemoteID:             form.RemoteID,
		VendorMetadata:       form.VendorMetadata,
	}, nil
}
