package model

import "time"

// FaxRecord — входящий факс и его жизненный цикл.
// Хранится в таблице fax_records.
type FaxRecord struct {
	// FaxID — UUID факса, назначается сервисом при приёме метаданных
	FaxID string
	// VendorID — ID поставщика в таблице vendors
	VendorID int64
	// VendorName — имя поставщика (TYPE в downstream)
	VendorName string
	// VendorFaxID — идентификатор факса у поставщика, уникален в паре с VendorID
	VendorFaxID string
	// Filename — имя файла в хранилище (<FaxID>.tif)
	Filename string
	// GoodPageCount — количество страниц
	GoodPageCount int
	// BadPageCount — 1, если поставщик пометил факс как частичный
	BadPageCount int
	// FromNumber — номер отправителя (опционально)
	FromNumber string
	// ToNumber — номер получателя
	ToNumber string
	// TimezoneOffset — смещение часового пояса (заполняется вне сервиса)
	TimezoneOffset *string
	// TransmissionStatus — статус передачи от поставщика
	TransmissionStatus string
	// TransmissionDuration — длительность передачи в секундах
	TransmissionDuration int
	// ReceivedAt — время получения факса поставщиком
	ReceivedAt time.Time
	// CallerANI — ANI звонящего (опционально)
	CallerANI string
	// RemoteID — идентификатор удалённой стороны (CALLERID в downstream)
	RemoteID string
	// VendorMetadata — непрозрачные метаданные поставщика
	VendorMetadata string
	// Partial — поставщик пометил факс как частичный
	Partial bool

	// Uploaded — файл присутствует в хранилище (устанавливается один раз)
	Uploaded bool
	// ProcessStatus — nil: не отправлялся, false: не доставлен, true: принят downstream
	ProcessStatus *bool
	// StopProcessing — операторский выключатель обработки
	StopProcessing *bool
	// RetryCount — количество повторных приёмов тех же метаданных
	RetryCount int
	// LastSentAt — время последней попытки отправки в downstream
	LastSentAt *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// LastModifiedAt — время последнего изменения
	LastModifiedAt time.Time
	// DeletedAt — мягкое удаление
	DeletedAt *time.Time
}

// Delivered возвращает true, если downstream подтвердил приём факса.
func (f *FaxRecord) Delivered() bool {
	return f.ProcessStatus != nil && *f.ProcessStatus
}

// Stopped возвращает true, если обработка факса остановлена оператором.
func (f *FaxRecord) Stopped() bool {
	return f.StopProcessing != nil && *f.StopProcessing
}

// NewFax — проверенные метаданные факса для регистрации.
type NewFax struct {
	FaxID                string
	VendorName           string
	VendorFaxID          string
	Filename             string
	GoodPageCount        int
	Partial              bool
	FromNumber           string
	ToNumber             string
	TransmissionStatus   string
	TransmissionDuration int
	// ReceivedAt — исходная строка поставщика, разбирается PostgreSQL
	ReceivedAt     string
	CallerANI      string
	RemoteID       string
	VendorMetadata string
}

// BadPageCount — количество плохих страниц для частичного факса.
func (n *NewFax) BadPageCount() int {
	if n.Partial {
		return 1
	}
	return 0
}

// Vendor — поставщик факсов.
// Хранится в таблице vendors.
type Vendor struct {
	ID        int64
	Name      string
	DeletedAt *time.Time
}
