// Пакет server — HTTP-сервер Fax Inbound Service с graceful shutdown.
// Без TLS — TLS termination на балансировщике.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/danussh/Faxing/internal/api/middleware"
	"github.com/danussh/Faxing/internal/config"
)

// Handler — обработчики всех маршрутов API (реализуется handlers.APIHandler).
type Handler interface {
	Healthcheck(w http.ResponseWriter, r *http.Request)
	HealthLive(w http.ResponseWriter, r *http.Request)
	HealthReady(w http.ResponseWriter, r *http.Request)
	GetMetrics(w http.ResponseWriter, r *http.Request)
	SubmitInboundFax(w http.ResponseWriter, r *http.Request)
	UpdateFaxStatus(w http.ResponseWriter, r *http.Request)
	GetPresignedURL(w http.ResponseWriter, r *http.Request)
}

// Server — HTTP-сервер Fax Inbound Service.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// jwtAuth и validator могут быть nil: колбэки downstream тогда принимаются
// без токена и без проверки по OpenAPI.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler Handler,
	jwtAuth *middleware.JWTAuth,
	validator *middleware.OpenAPIValidator,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, jwtAuth, validator),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
func NewRouter(
	logger *slog.Logger,
	handler Handler,
	jwtAuth *middleware.JWTAuth,
	validator *middleware.OpenAPIValidator,
) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Публичные endpoints. Поставщики проходят проверку секрета в сервисе.
	router.Get("/healthcheck", handler.Healthcheck)
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)
	router.Post("/inboundfaxes", handler.SubmitInboundFax)

	// Колбэки downstream: сначала токен, затем контракт запроса.
	router.Group(func(r chi.Router) {
		if jwtAuth != nil {
			r.Use(jwtAuth.Middleware())
		}
		if validator != nil {
			r.Use(validator.Middleware())
		}
		r.Put("/faxstatuses", handler.UpdateFaxStatus)
		r.Get("/presignedurls/{key}", handler.GetPresignedURL)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
