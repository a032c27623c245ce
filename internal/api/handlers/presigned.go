package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/danussh/Faxing/internal/api/errors"
	"github.com/danussh/Faxing/internal/service"
)

type presignedURLResponse struct {
	PreSignedURL string `json:"PreSignedURL"`
}

// GetPresignedURL — GET /presignedurls/{key}.
func (h *APIHandler) GetPresignedURL(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		apierrors.BadRequest(w, "key is required")
		return
	}

	url, err := h.downloads.Link(r.Context(), key)
	if err != nil {
		if errors.Is(err, service.ErrObjectNotFound) {
			apierrors.NotFound(w, "Requested object is not found in S3")
			return
		}
		// ошибка уже залогирована в сервисе
		apierrors.InternalError(w, "Unable to get presigned url for key : "+key, "")
		return
	}

	writeJSON(w, http.StatusOK, presignedURLResponse{PreSignedURL: url})
}
