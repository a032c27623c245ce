// dispatcher.go — отправка факса в downstream-систему обработки.
//
// Dispatch общий для обработчика событий загрузки и сверки. Ошибка
// отправки не повторяется на месте: вызывающий код фиксирует попытку
// (TouchLastSent), и факс будет отправлен следующей сверкой.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/danussh/Faxing/internal/domain/model"
	"github.com/danussh/Faxing/internal/downstream"
)

// EnvelopeSender отправляет конверт в downstream.
// Реализуется downstream.Client.
type EnvelopeSender interface {
	Send(ctx context.Context, env *downstream.Envelope) error
}

// DownloadURLIssuer выдаёт presigned URL на скачивание файла.
// Реализуется objectstore.Issuer.
type DownloadURLIssuer interface {
	DownloadURL(ctx context.Context, key string) (string, error)
}

// IntParams — целочисленные операционные параметры с fail-open значениями.
// Реализуется params.Store.
type IntParams interface {
	IntOr(ctx context.Context, name string, def int) int
	PositiveIntOr(ctx context.Context, name string, def int) int
}

// digestEnabled — значение параметра проверки дайджеста, при котором
// FILEMD5HEXDIGEST передаётся в downstream.
const digestEnabled = 1

// Dispatcher — отправка факсов в downstream.
type Dispatcher struct {
	sender      EnvelopeSender
	urls        DownloadURLIssuer
	params      IntParams
	digestParam string
	region      string
	location    *time.Location
	logger      *slog.Logger
}

// NewDispatcher создаёт отправитель.
// digestParam — имя параметра-флага передачи MD5 (1 — передавать).
// location — часовой пояс FAXRECEIVEDTIMESTAMP.
func NewDispatcher(
	sender EnvelopeSender,
	urls DownloadURLIssuer,
	params IntParams,
	digestParam string,
	region string,
	location *time.Location,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		urls:        urls,
		params:      params,
		digestParam: digestParam,
		region:      region,
		location:    location,
		logger:      logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch отправляет факс и ждёт подтверждения downstream.
// digest — MD5 файла (ETag), передаётся только при включённом флаге.
// Ошибка уже залогирована и учтена в метриках, вызывающему достаточно
// не прерывать свою работу.
func (d *Dispatcher) Dispatch(ctx context.Context, f *model.FaxRecord, digest string) error {
	start := time.Now()
	err := d.dispatch(ctx, f, digest)
	observeTask("dispatch", start, err)

	if err != nil {
		dispatchTotal.WithLabelValues("failure").Inc()
		d.logger.Error("Ошибка отправки факса в downstream",
			slog.String("fax_id", f.FaxID),
			slog.String("error", err.Error()),
		)
		return err
	}

	dispatchTotal.WithLabelValues("success").Inc()
	d.logger.Info("Факс отправлен в downstream", slog.String("fax_id", f.FaxID))
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, f *model.FaxRecord, digest string) error {
	url, err := d.urls.DownloadURL(ctx, f.FaxID)
	if err != nil {
		return fmt.Errorf("выдача URL на скачивание: %w", err)
	}

	opts := downstream.EnvelopeOptions{
		PresignedURL: url,
		Region:       d.region,
		Location:     d.location,
	}
	if d.params.IntOr(ctx, d.digestParam, digestEnabled) == digestEnabled {
		opts.Digest = digest
	}

	return d.sender.Send(ctx, downstream.NewFaxEnvelope(f, opts))
}
