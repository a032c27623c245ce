package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/danussh/Faxing/internal/api/errors"
	"github.com/danussh/Faxing/internal/service"
)

// faxStatusRequest — тело PUT /faxstatuses.
type faxStatusRequest struct {
	Status      string `json:"status"`
	FaxID       string `json:"faxid"`
	VendorFaxID string `json:"vendorfaxid"`
}

// UpdateFaxStatus — PUT /faxstatuses.
// Downstream сообщает результат обработки факса (SUCCESS или FAILED).
func (h *APIHandler) UpdateFaxStatus(w http.ResponseWriter, r *http.Request) {
	var req faxStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.BadRequest(w, "request body is not valid JSON")
		return
	}

	err := h.status.Update(r.Context(), service.StatusUpdate{
		Status:      req.Status,
		FaxID:       req.FaxID,
		VendorFaxID: req.VendorFaxID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidStatus):
			apierrors.BadRequest(w, fmt.Sprintf("Fax status of %s should be SUCCESS or FAILED.", faxRef(req)))
		case errors.Is(err, service.ErrFaxNotFound):
			apierrors.BadRequest(w, fmt.Sprintf("Could not find a fax with faxID: %s, VendorFaxID - %s",
				req.FaxID, req.VendorFaxID))
		default:
			h.logger.Error("Ошибка обновления статуса факса",
				slog.String("fax_id", req.FaxID),
				slog.String("vendor_fax_id", req.VendorFaxID),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, apierrors.MessageInternal,
				fmt.Sprintf("Fax status of FaxID - %s, VendorFaxID - %s, could not be updated.",
					req.FaxID, req.VendorFaxID))
		}
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Fax status of FaxID - %s, VendorFaxID - %s successfully updated.",
			req.FaxID, req.VendorFaxID),
	})
}

// faxRef — ключ факса для текста ошибки: FaxID, иначе ключ поставщика.
func faxRef(req faxStatusRequest) string {
	if req.FaxID != "" {
		return req.FaxID
	}
	return req.VendorFaxID
}
