package downstream

import (
	"time"

	"github.com/danussh/Faxing/internal/domain/model"
)

// Константы шины downstream-системы.
const (
	// BusPath — путь вызова подсистемы относительно базового URL
	BusPath = "/queue/subsystembuscall"
	// SubProcessInboundFaxes — имя операции приёма входящего факса
	SubProcessInboundFaxes = "ProcessInboundVendorFaxes"
	// SubsystemFax — подсистема обработки факсов
	SubsystemFax = "FaxSystem"
)

// Envelope — конверт вызова шины downstream.
type Envelope struct {
	Sub       string `json:"SUB"`
	Subsystem string `json:"SUBSYSTEM"`
	Params    Params `json:"PARAMS"`
}

// Params — параметры вызова.
type Params struct {
	Fax FaxPayload `json:"FAX"`
}

// FaxPayload — данные факса в формате downstream-системы.
// Набор и имена полей фиксированы контрактом.
type FaxPayload struct {
	FaxUniqueID          string  `json:"FAXUNIQUEID"`
	Filename             string  `json:"FILENAME"`
	GoodPageCount        int     `json:"GOODPAGECOUNT"`
	BadPageCount         int     `json:"BADPAGECOUNT"`
	FromNumber           string  `json:"FROMNUMBER"`
	ToNumber             string  `json:"TONUMBER"`
	TimezoneOffset       *string `json:"TIMEZONEOFFSET"`
	BrokenYN             string  `json:"BROKENYN"`
	TransmissionStatus   string  `json:"TRANSMISSIONSTATUS"`
	VendorFaxID          string  `json:"VENDORFAXID"`
	VendorMetadata       string  `json:"VENDORMETADATA"`
	Type                 string  `json:"TYPE"`
	TransmissionDuration int     `json:"TRANSMISSIONDURATION"`
	FaxReceivedTimestamp string  `json:"FAXRECEIVEDTIMESTAMP"`
	CallerANI            string  `json:"CALLERANI"`
	CallerID             string  `json:"CALLERID"`
	PresignedURL         string  `json:"PRESIGNEDURL"`
	IsFaxingMicroservice string  `json:"ISFAXINGMICROSERVICE"`
	AWSRegion            string  `json:"AWS_REGION"`
	// FileMD5HexDigest — только при включённой проверке дайджеста
	FileMD5HexDigest string `json:"FILEMD5HEXDIGEST,omitempty"`
}

// EnvelopeOptions — данные конверта, не хранящиеся в записи факса.
type EnvelopeOptions struct {
	// PresignedURL — ссылка на скачивание файла
	PresignedURL string
	// Region — AWS-регион сервиса
	Region string
	// Location — часовой пояс, в котором передаётся время получения
	Location *time.Location
	// Digest — MD5 файла без кавычек, пустая строка — поле не передаётся
	Digest string
}

// NewFaxEnvelope собирает конверт вызова из записи факса.
func NewFaxEnvelope(f *model.FaxRecord, opts EnvelopeOptions) *Envelope {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	broken := "N"
	if f.Partial {
		broken = "Y"
	}

	return &Envelope{
		Sub:       SubProcessInboundFaxes,
		Subsystem: SubsystemFax,
		Params: Params{Fax: FaxPayload{
			FaxUniqueID:          f.FaxID,
			Filename:             f.Filename,
			GoodPageCount:        f.GoodPageCount,
			BadPageCount:         f.BadPageCount,
			FromNumber:           f.FromNumber,
			ToNumber:             f.ToNumber,
			TimezoneOffset:       f.TimezoneOffset,
			BrokenYN:             broken,
			TransmissionStatus:   f.TransmissionStatus,
			VendorFaxID:          f.VendorFaxID,
			VendorMetadata:       f.VendorMetadata,
			Type:                 f.VendorName,
			TransmissionDuration: f.TransmissionDuration,
			FaxReceivedTimestamp: f.ReceivedAt.In(loc).Format(time.RFC3339),
			CallerANI:            f.CallerANI,
			CallerID:             f.RemoteID,
			PresignedURL:         opts.PresignedURL,
			IsFaxingMicroservice: "Y",
			AWSRegion:            opts.Region,
			FileMD5HexDigest:     opts.Digest,
		}},
	}
}
