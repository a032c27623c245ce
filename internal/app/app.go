// Пакет app — сборка зависимостей Fax Inbound Service.
// Используется сервисом (cmd/fax-inbound) и операторской утилитой (cmd/faxctl).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/danussh/Faxing/internal/cache"
	"github.com/danussh/Faxing/internal/config"
	"github.com/danussh/Faxing/internal/database"
	"github.com/danussh/Faxing/internal/downstream"
	"github.com/danussh/Faxing/internal/iam"
	"github.com/danussh/Faxing/internal/objectstore"
	"github.com/danussh/Faxing/internal/params"
	"github.com/danussh/Faxing/internal/repository"
	"github.com/danussh/Faxing/internal/service"
	"github.com/danussh/Faxing/internal/uploadevents"
)

// LoadAWS загружает конфигурацию AWS SDK (цепочка учётных данных по умолчанию).
func LoadAWS(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("загрузка конфигурации AWS: %w", err)
	}
	return awsCfg, nil
}

// ResolveDBPassword подставляет пароль PostgreSQL из Secrets Manager,
// если задан FI_DB_PASSWORD_SECRET_ID.
func ResolveDBPassword(ctx context.Context, cfg *config.Config, awsCfg aws.Config) error {
	if cfg.DBPasswordSecretID == "" {
		return nil
	}
	password, err := params.DBPassword(ctx, secretsmanager.NewFromConfig(awsCfg), cfg.DBPasswordSecretID)
	if err != nil {
		return err
	}
	cfg.DBPassword = password
	return nil
}

// App — собранные компоненты сервиса.
type App struct {
	Pool *pgxpool.Pool

	Faxes   repository.FaxRecordRepository
	Vendors repository.VendorRepository
	Locks   repository.SweepLockRepository

	Params     *params.Store
	Objects    *objectstore.Issuer
	IAM        *iam.Client
	Downstream *downstream.Client

	Intake     *service.IntakeService
	Status     *service.StatusService
	Download   *service.DownloadService
	Dispatcher *service.Dispatcher
	Listener   *service.UploadListener
	Reconcile  *service.ReconcileService

	sqsClient *sqs.Client
	cfg       *config.Config
	logger    *slog.Logger
}

// Build подключается к PostgreSQL и собирает сервисный слой.
// Пароль БД должен быть уже разрешён (ResolveDBPassword).
func Build(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (*App, error) {
	location, err := time.LoadLocation(cfg.DownstreamTimezone)
	if err != nil {
		return nil, fmt.Errorf("FI_DOWNSTREAM_TIMEZONE: %w", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Pool:      pool,
		Faxes:     repository.NewFaxRecordRepository(pool),
		Vendors:   repository.NewVendorRepository(pool),
		Locks:     repository.NewSweepLockRepository(pool),
		sqsClient: sqs.NewFromConfig(awsCfg),
		cfg:       cfg,
		logger:    logger,
	}

	// Параметры SSM через LRU-кэш
	paramCache, err := cache.New(cfg.ParamCacheSize)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("создание кэша параметров: %w", err)
	}
	a.Params = params.NewStore(params.NewSSMSource(ssm.NewFromConfig(awsCfg)), paramCache, cfg.ParamCacheTTL, logger)

	// S3: presigned URL и HEAD
	s3Client := s3.NewFromConfig(awsCfg)
	a.Objects = objectstore.NewIssuer(
		s3Client, s3.NewPresignClient(s3Client),
		cfg.S3Bucket,
		a.Params,
		objectstore.ExpiryParams{Upload: cfg.Params.UploadURLExpiry, Download: cfg.Params.DownloadURLExpiry},
		logger,
	)

	// Токен downstream и HTTP-клиент шины
	a.IAM = iam.New(iam.Config{
		TokenURL:          cfg.IAMTokenURL,
		Scopes:            cfg.IAMScopes,
		ClientIDParam:     cfg.Params.IAMClientID,
		ClientSecretParam: cfg.Params.IAMClientSecret,
		FallbackTTL:       cfg.IAMTokenTTL,
	}, a.Params, nil, logger)
	a.Downstream = downstream.New(cfg.DownstreamURL, cfg.DownstreamTimeout, a.IAM, nil, logger)

	// Сервисы
	a.Intake = service.NewIntakeService(a.Faxes, a.Params, cfg.Params.VendorSecrets, a.Objects, logger)
	a.Status = service.NewStatusService(a.Faxes, logger)
	a.Download = service.NewDownloadService(a.Objects, a.Objects, logger)
	a.Dispatcher = service.NewDispatcher(
		a.Downstream, a.Objects, a.Params,
		cfg.Params.ValidateDigest, cfg.AWSRegion, location,
		logger,
	)
	a.Listener = service.NewUploadListener(a.Faxes, a.Dispatcher, a.Params, service.ListenerConfig{
		RetryParam:   cfg.Params.RetryInterval,
		DefaultRetry: cfg.DefaultRetryInterval,
	}, logger)
	a.Reconcile = service.NewReconcileService(a.Faxes, a.Locks, a.Objects, a.Dispatcher, a.Params, service.ReconcileConfig{
		Interval:        cfg.SweepInterval,
		Workers:         cfg.SweepWorkers,
		Owner:           instanceID(),
		RetryParam:      cfg.Params.RetryInterval,
		MaxRetryParam:   cfg.Params.MaxRetryInterval,
		ControlParam:    cfg.Params.SweepControl,
		DefaultRetry:    cfg.DefaultRetryInterval,
		DefaultMaxRetry: cfg.DefaultMaxRetryInterval,
	}, logger)

	return a, nil
}

// NewConsumer создаёт потребителя событий загрузки, передающего их в Listener.
func (a *App) NewConsumer() *uploadevents.Consumer {
	return uploadevents.New(a.sqsClient, uploadevents.Config{
		QueueURL:          a.cfg.SQSQueueURL,
		BatchSize:         a.cfg.SQSBatchSize,
		WaitTime:          a.cfg.SQSWaitTime,
		VisibilityTimeout: a.cfg.SQSVisibilityTimeout,
		Workers:           a.cfg.SQSWorkers,
	}, a.Listener.HandleEvents, a.logger)
}

// Close освобождает пул подключений.
func (a *App) Close() {
	a.Pool.Close()
}

// instanceID — идентификатор экземпляра для строки блокировки сверки.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
