package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/danussh/Faxing/internal/api/errors"
	"github.com/danussh/Faxing/internal/service"
)

// secretKeyHeader — заголовок с секретом поставщика.
const secretKeyHeader = "secretKey"

const msgStoreFailed = "Error occurred while storing the metadata"

type inboundFaxResponse struct {
	FaxID        string `json:"faxId"`
	PreSignedURL string `json:"preSignedUrl"`
	Message      string `json:"message"`
}

// SubmitInboundFax — POST /inboundfaxes.
// Принимает multipart- или urlencoded-форму с метаданными факса и
// возвращает FaxID вместе с URL для загрузки файла.
func (h *APIHandler) SubmitInboundFax(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxFormMemory); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			apierrors.BadRequest(w, "form could not be parsed")
			return
		}
		if err := r.ParseForm(); err != nil {
			apierrors.BadRequest(w, "form could not be parsed")
			return
		}
	}

	form := service.BindIntakeForm(r.PostFormValue)
	result, err := h.intake.Submit(r.Context(), form, r.Header.Get(secretKeyHeader))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			apierrors.Unauthorized(w, err.Error())
		case errors.Is(err, service.ErrValidation),
			errors.Is(err, service.ErrVendorNotRegistered),
			errors.Is(err, service.ErrInvalidInput):
			apierrors.BadRequest(w, err.Error())
		default:
			h.logger.Error("Ошибка приёма метаданных факса",
				slog.String("vendor", form.VendorName),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, msgStoreFailed, "")
		}
		return
	}

	writeJSON(w, http.StatusOK, inboundFaxResponse{
		FaxID:        result.FaxID,
		PreSignedURL: result.UploadURL,
		Message:      "Metadata successfully received.",
	})
}
