// handler.go — основной обработчик API Fax Inbound Service.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/danussh/Faxing/internal/service"
)

// FaxIntake — приём метаданных факса. Реализуется service.IntakeService.
type FaxIntake interface {
	Submit(ctx context.Context, form *service.IntakeForm, secretKey string) (*service.IntakeResult, error)
}

// StatusUpdater — колбэк статуса обработки. Реализуется service.StatusService.
type StatusUpdater interface {
	Update(ctx context.Context, u service.StatusUpdate) error
}

// DownloadLinker — URL на скачивание. Реализуется service.DownloadService.
type DownloadLinker interface {
	Link(ctx context.Context, key string) (string, error)
}

// APIHandler — обработчик API.
type APIHandler struct {
	health        *HealthHandler
	intake        FaxIntake
	status        StatusUpdater
	downloads     DownloadLinker
	maxFormMemory int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxFormMemory — часть multipart-формы, хранимая в памяти.
func NewAPIHandler(
	health *HealthHandler,
	intake FaxIntake,
	status StatusUpdater,
	downloads DownloadLinker,
	maxFormMemory int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		intake:        intake,
		status:        status,
		downloads:     downloads,
		maxFormMemory: maxFormMemory,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// Healthcheck — проверка доступности сервиса балансировщиком.
func (h *APIHandler) Healthcheck(w http.ResponseWriter, r *http.Request) {
	h.health.Healthcheck(w, r)
}

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// messageResponse — ответ с текстовым сообщением.
type messageResponse struct {
	Message string `json:"message"`
}
