// Точка входа Fax Inbound Service — приём входящих факсов от поставщиков.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL и AWS,
// запускает потребителя событий загрузки S3 и периодическую сверку,
// HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/danussh/Faxing/internal/api"
	"github.com/danussh/Faxing/internal/api/handlers"
	"github.com/danussh/Faxing/internal/api/middleware"
	"github.com/danussh/Faxing/internal/app"
	"github.com/danussh/Faxing/internal/config"
	"github.com/danussh/Faxing/internal/database"
	"github.com/danussh/Faxing/internal/server"
	"github.com/danussh/Faxing/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Fax Inbound Service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Проверка таблицы полей формы поставщика
	if err := service.ValidateFieldBindings(); err != nil {
		logger.Error("Некорректная таблица полей формы", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. AWS SDK и пароль БД
	ctx := context.Background()
	awsCfg, err := app.LoadAWS(ctx, cfg)
	if err != nil {
		logger.Error("Ошибка конфигурации AWS", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := app.ResolveDBPassword(ctx, cfg, awsCfg); err != nil {
		logger.Error("Ошибка получения пароля БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Применение миграций БД
	if cfg.DBMigrate {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 6. PostgreSQL, репозитории, сервисы
	a, err := app.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации сервиса", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	// 6.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(a.Pool)
	defer pgDB.Close()

	// 7. Первый токен downstream. Без учётных данных отправка невозможна,
	// но приём метаданных работает: токен будет запрошен повторно.
	if err := a.IAM.Init(ctx); err != nil {
		logger.Warn("IAM клиент не инициализирован, отправка в downstream недоступна",
			slog.String("error", err.Error()),
		)
	}

	// 8. Фоновые задачи: события загрузки и сверка
	consumer := a.NewConsumer()
	consumer.Start(ctx)
	a.Reconcile.Start(ctx)

	// 8.1 topologymetrics — мониторинг зависимостей (PostgreSQL + downstream)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:            "fax-inbound",
		Group:                cfg.DephealthGroup,
		PgConnURL:            cfg.DatabaseURL(),
		DownstreamURL:        cfg.DownstreamURL,
		DownstreamHealthPath: cfg.DownstreamHealthPath,
		CheckInterval:        cfg.DephealthCheckInterval,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	}

	// 9. API handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(a.Pool))
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		a.Intake,
		a.Status,
		a.Download,
		cfg.MaxFormMemory,
		logger,
	)

	// 10. JWT middleware для колбэков downstream (опционально)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.JWTRequiredScopes,
			cfg.DownstreamTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("FI_JWT_JWKS_URL не задан, колбэки downstream принимаются без токена")
	}

	// 11. Валидация запросов по OpenAPI
	validator, err := middleware.NewOpenAPIValidator(api.OpenAPIDocument, logger)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 12. HTTP-сервер (блокирует до сигнала завершения)
	srv := server.New(cfg, logger, apiHandler, jwtAuth, validator)
	runErr := srv.Run()

	// 13. Остановка фоновых задач
	consumer.Stop()
	a.Reconcile.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		a.Close()
		os.Exit(1)
	}

	logger.Info("Fax Inbound Service остановлен")
}
