package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/danussh/Faxing/internal/domain/model"
)

// FaxRecordRepository — операции над таблицей fax_records.
// Все изменения факса выражены именованными операциями, взаимное
// исключение обеспечивается ограничениями уникальности и условными UPDATE.
type FaxRecordRepository interface {
	// Register вставляет факс или, при конфликте (vendor_fax_id, vendor_id),
	// увеличивает retry_count существующей записи. Возвращает FaxID
	// сохранённой записи. ErrVendorNotRegistered — поставщик неизвестен.
	Register(ctx context.Context, f *model.NewFax) (string, error)
	// MarkUploaded устанавливает флаг загрузки, если он ещё не установлен.
	// Возвращает 0, если записи нет, она удалена или флаг уже стоит.
	MarkUploaded(ctx context.Context, faxID string) (int64, error)
	// SetProcessStatusByVendorFaxID обновляет статус доставки по ключу
	// поставщика. Ключ уникален только в пределах поставщика: при непустом
	// faxID обновление ограничено поставщиком этого факса, без faxID —
	// выполняется, только если ключ принадлежит ровно одной записи.
	SetProcessStatusByVendorFaxID(ctx context.Context, vendorFaxID, faxID string, succeeded bool) (int64, error)
	// SetProcessStatusByFaxID обновляет статус доставки по FaxID.
	SetProcessStatusByFaxID(ctx context.Context, faxID string, succeeded bool) (int64, error)
	// FindReconciliationCandidates возвращает зависшие факсы.
	FindReconciliationCandidates(ctx context.Context, retryMinutes, maxRetryMinutes int) ([]*model.FaxRecord, error)
	// FetchUploadedAndEligible возвращает загруженный факс, ещё подлежащий
	// отправке. ErrNotFound — факс уже обработан, остановлен или удалён.
	FetchUploadedAndEligible(ctx context.Context, faxID string, retryMinutes int) (*model.FaxRecord, error)
	// TouchLastSent фиксирует попытку отправки в downstream.
	TouchLastSent(ctx context.Context, faxID string) error
	// GetByID возвращает факс по FaxID (включая удалённые).
	GetByID(ctx context.Context, faxID string) (*model.FaxRecord, error)
	// SoftDelete помечает факс удалённым.
	SoftDelete(ctx context.Context, faxID, actor string) (int64, error)
	// StopProcessing выключает обработку факса.
	StopProcessing(ctx context.Context, faxID, actor string) (int64, error)
}

// faxRecordRepo — реализация FaxRecordRepository.
type faxRecordRepo struct {
	db DBTX
}

// NewFaxRecordRepository создаёт репозиторий факсов.
func NewFaxRecordRepository(db DBTX) FaxRecordRepository {
	return &faxRecordRepo{db: db}
}

// faxColumns — колонки выборки факса вместе с именем поставщика.
const faxColumns = `
	f.fax_id, f.vendor_id, v.name, f.vendor_fax_id, f.filename,
	f.good_page_count, f.bad_page_count, f.from_number, f.to_number,
	f.timezone_offset, f.transmission_status, f.transmission_duration,
	f.received_at, f.caller_ani, f.remote_id, f.vendor_metadata, f.partial,
	f.fax_uploaded, f.process_status, f.stop_processing, f.retry_count,
	f.last_sent_at, f.created_at, f.last_modified_at, f.deleted_at`

// pendingPredicate — факс не доставлен, не остановлен и не удалён.
const pendingPredicate = `
	f.process_status IS NOT TRUE
	AND f.stop_processing IS NOT TRUE
	AND f.deleted_at IS NULL`

func scanFax(row pgx.Row) (*model.FaxRecord, error) {
	f := &model.FaxRecord{}
	err := row.Scan(
		&f.FaxID, &f.VendorID, &f.VendorName, &f.VendorFaxID, &f.Filename,
		&f.GoodPageCount, &f.BadPageCount, &f.FromNumber, &f.ToNumber,
		&f.TimezoneOffset, &f.TransmissionStatus, &f.TransmissionDuration,
		&f.ReceivedAt, &f.CallerANI, &f.RemoteID, &f.VendorMetadata, &f.Partial,
		&f.Uploaded, &f.ProcessStatus, &f.StopProcessing, &f.RetryCount,
		&f.LastSentAt, &f.CreatedAt, &f.LastModifiedAt, &f.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *faxRecordRepo) Register(ctx context.Context, f *model.NewFax) (string, error) {
	query := `
		INSERT INTO fax_records (fax_id, filename, good_page_count, bad_page_count,
			from_number, to_number, transmission_status, vendor_fax_id, vendor_metadata,
			transmission_duration, received_at, caller_ani, remote_id, partial,
			vendor_id, created_by, last_modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::text::timestamptz, $12, $13, $14,
			(SELECT id FROM vendors WHERE lower(name) = lower($15) AND deleted_at IS NULL),
			'system', 'system')
		ON CONFLICT (vendor_fax_id, vendor_id) DO UPDATE
		SET retry_count = fax_records.retry_count + 1,
			last_modified_at = now(),
			last_modified_by = 'system'
		RETURNING fax_id`

	var faxID string
	err := r.db.QueryRow(ctx, query,
		f.FaxID, f.Filename, f.GoodPageCount, f.BadPageCount(),
		f.FromNumber, f.ToNumber, f.TransmissionStatus, f.VendorFaxID, f.VendorMetadata,
		f.TransmissionDuration, f.ReceivedAt, f.CallerANI, f.RemoteID, f.Partial,
		f.VendorName,
	).Scan(&faxID)
	if err != nil {
		return "", classifyError("ошибка регистрации факса", err)
	}
	return faxID, nil
}

func (r *faxRecordRepo) MarkUploaded(ctx context.Context, faxID string) (int64, error) {
	query := `
		UPDATE fax_records
		SET fax_uploaded = true, last_modified_at = now(), last_modified_by = 'system'
		WHERE fax_id = $1 AND deleted_at IS NULL AND fax_uploaded = false`

	tag, err := r.db.Exec(ctx, query, faxID)
	if err != nil {
		return 0, classifyError("ошибка обновления флага загрузки", err)
	}
	return tag.RowsAffected(), nil
}

// process_status только растёт: false не перезаписывает true.
const setProcessStatusSet = `
	SET process_status = (COALESCE(process_status, false) OR $2),
		last_modified_at = now(),
		last_modified_by = 'system-callback'`

func (r *faxRecordRepo) SetProcessStatusByVendorFaxID(ctx context.Context, vendorFaxID, faxID string, succeeded bool) (int64, error) {
	query := `
		WITH scope AS (
			SELECT vendor_id FROM fax_records WHERE $3 <> '' AND fax_id::text = $3
			UNION ALL
			SELECT min(vendor_id) FROM fax_records
			WHERE $3 = '' AND vendor_fax_id = $1
			HAVING count(*) = 1
		)
		UPDATE fax_records` + setProcessStatusSet + `
		WHERE vendor_fax_id = $1 AND vendor_id IN (SELECT vendor_id FROM scope)`

	tag, err := r.db.Exec(ctx, query, vendorFaxID, succeeded, faxID)
	if err != nil {
		return 0, classifyError("ошибка обновления статуса по vendor fax id", err)
	}
	return tag.RowsAffected(), nil
}

func (r *faxRecordRepo) SetProcessStatusByFaxID(ctx context.Context, faxID string, succeeded bool) (int64, error) {
	query := `UPDATE fax_records` + setProcessStatusSet + ` WHERE fax_id = $1`

	tag, err := r.db.Exec(ctx, query, faxID, succeeded)
	if err != nil {
		return 0, classifyError("ошибка обновления статуса по fax id", err)
	}
	return tag.RowsAffected(), nil
}

func (r *faxRecordRepo) FindReconciliationCandidates(ctx context.Context, retryMinutes, maxRetryMinutes int) ([]*model.FaxRecord, error) {
	query := `
		SELECT ` + faxColumns + `
		FROM fax_records f
		JOIN vendors v ON v.id = f.vendor_id
		WHERE ` + pendingPredicate + `
			AND (
				f.last_sent_at < now() - make_interval(mins => $1)
				OR (f.last_sent_at IS NULL AND f.created_at < now() - make_interval(mins => $1))
			)
			AND f.created_at > now() - make_interval(mins => $2)
		ORDER BY f.created_at`

	rows, err := r.db.Query(ctx, query, retryMinutes, maxRetryMinutes)
	if err != nil {
		return nil, classifyError("ошибка выборки зависших факсов", err)
	}
	defer rows.Close()

	var result []*model.FaxRecord
	for rows.Next() {
		f, err := scanFax(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования факса: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации факсов: %w", err)
	}
	return result, nil
}

func (r *faxRecordRepo) FetchUploadedAndEligible(ctx context.Context, faxID string, retryMinutes int) (*model.FaxRecord, error) {
	query := `
		SELECT ` + faxColumns + `
		FROM fax_records f
		JOIN vendors v ON v.id = f.vendor_id
		WHERE f.fax_id = $1
			AND f.fax_uploaded = true
			AND ` + pendingPredicate + `
			AND (f.last_sent_at IS NULL OR f.last_sent_at < now() - make_interval(mins => $2))`

	f, err := scanFax(r.db.QueryRow(ctx, query, faxID, retryMinutes))
	if err != nil {
		return nil, classifyError("ошибка получения факса для отправки", err)
	}
	return f, nil
}

func (r *faxRecordRepo) TouchLastSent(ctx context.Context, faxID string) error {
	query := `UPDATE fax_records SET last_sent_at = now() WHERE fax_id = $1`
	if _, err := r.db.Exec(ctx, query, faxID); err != nil {
		return classifyError("ошибка обновления last_sent_at", err)
	}
	return nil
}

func (r *faxRecordRepo) GetByID(ctx context.Context, faxID string) (*model.FaxRecord, error) {
	query := `
		SELECT ` + faxColumns + `
		FROM fax_records f
		JOIN vendors v ON v.id = f.vendor_id
		WHERE f.fax_id = $1`

	f, err := scanFax(r.db.QueryRow(ctx, query, faxID))
	if err != nil {
		return nil, classifyError("ошибка получения факса", err)
	}
	return f, nil
}

func (r *faxRecordRepo) SoftDelete(ctx context.Context, faxID, actor string) (int64, error) {
	query := `
		UPDATE fax_records
		SET deleted_at = now(), last_modified_at = now(), last_modified_by = $2
		WHERE fax_id = $1 AND deleted_at IS NULL`

	tag, err := r.db.Exec(ctx, query, faxID, actor)
	if err != nil {
		return 0, classifyError("ошибка удаления факса", err)
	}
	return tag.RowsAffected(), nil
}

func (r *faxRecordRepo) StopProcessing(ctx context.Context, faxID, actor string) (int64, error) {
	query := `
		UPDATE fax_records
		SET stop_processing = true, last_modified_at = now(), last_modified_by = $2
		WHERE fax_id = $1 AND stop_processing IS NOT TRUE`

	tag, err := r.db.Exec(ctx, query, faxID, actor)
	if err != nil {
		return 0, classifyError("ошибка остановки обработки факса", err)
	}
	return tag.RowsAffected(), nil
}
