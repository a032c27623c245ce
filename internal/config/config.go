// Пакет config — загрузка и валидация конфигурации Fax Inbound Service
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // часовой пояс downstream не зависит от образа
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// ParamPaths — имена параметров в AWS SSM Parameter Store.
// Значения параметров читаются во время работы (через кэш), а не при старте.
type ParamPaths struct {
	// Пары vendor:secret через запятую
	VendorSecrets string
	// Срок жизни presigned URL на загрузку (минуты)
	UploadURLExpiry string
	// Срок жизни presigned URL на скачивание (минуты)
	DownloadURLExpiry string
	// Интервал повторной обработки зависших факсов (минуты)
	RetryInterval string
	// Максимальный возраст факса для повторной обработки (минуты)
	MaxRetryInterval string
	// Выключатель сверки (0 — выключена)
	SweepControl string
	// Флаг передачи MD5 (1 — включено)
	ValidateDigest string
	// Client ID для IAM Client Credentials flow
	IAMClientID string
	// Client Secret для IAM Client Credentials flow
	IAMClientSecret string
}

// Config содержит все параметры конфигурации Fax Inbound Service.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Максимальный размер multipart-формы в памяти
	MaxFormMemory int64

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// ID секрета AWS Secrets Manager с паролем БД (альтернатива DBPassword)
	DBPasswordSecretID string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Минимальный и максимальный размер пула
	DBMinConns int32
	DBMaxConns int32
	// Применять миграции при старте
	DBMigrate bool

	// --- AWS ---

	// Регион AWS (передаётся также в downstream как AWS_REGION)
	AWSRegion string
	// Bucket для файлов факсов
	S3Bucket string
	// URL очереди SQS с событиями загрузки в S3
	SQSQueueURL string
	// Размер пачки сообщений SQS (1-10)
	SQSBatchSize int
	// Long polling SQS
	SQSWaitTime time.Duration
	// Visibility timeout сообщений SQS
	SQSVisibilityTimeout time.Duration
	// Параллельность обработки сообщений одной пачки
	SQSWorkers int

	// Имена параметров SSM
	Params ParamPaths
	// TTL кэша параметров
	ParamCacheTTL time.Duration
	// Размер кэша параметров
	ParamCacheSize int

	// --- IAM (токен для downstream) ---

	// URL token endpoint (Client Credentials flow)
	IAMTokenURL string
	// Scopes через запятую
	IAMScopes []string
	// Фиксированный TTL токена, если IdP не вернул expires_in
	IAMTokenTTL time.Duration

	// --- Downstream ---

	// Базовый URL системы обработки факсов
	DownstreamURL string
	// Таймаут запроса к downstream
	DownstreamTimeout time.Duration
	// Часовой пояс для FAXRECEIVEDTIMESTAMP
	DownstreamTimezone string
	// Путь health endpoint downstream для topologymetrics
	DownstreamHealthPath string

	// --- Сверка (reconciliation sweep) ---

	// Период сверки
	SweepInterval time.Duration
	// Параллельность обработки кандидатов
	SweepWorkers int
	// Интервалы по умолчанию, если параметры недоступны
	DefaultRetryInterval    int
	DefaultMaxRetryInterval int

	// --- JWT (опционально, для callback-endpoints downstream) ---

	JWTJWKSURL          string
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSRefreshInterval time.Duration
	// Хотя бы один из scopes обязателен в токене (пусто — не проверяется)
	JWTRequiredScopes []string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:gocyclo,cyclop // линейная загрузка переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("FI_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FI_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FI_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FI_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FI_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FI_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FI_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("FI_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FI_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("FI_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("FI_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("FI_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("FI_HTTP_IDLE_TIMEOUT: %w", err)
	}

	maxFormMemory, err := getEnvInt("FI_MAX_FORM_MEMORY", 1<<20)
	if err != nil {
		return nil, fmt.Errorf("FI_MAX_FORM_MEMORY: %w", err)
	}
	cfg.MaxFormMemory = int64(maxFormMemory)

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("FI_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("FI_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("FI_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("FI_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("FI_DB_USER"); err != nil {
		return nil, err
	}

	// Пароль задаётся напрямую или через AWS Secrets Manager
	cfg.DBPassword = getEnvDefault("FI_DB_PASSWORD", "")
	cfg.DBPasswordSecretID = getEnvDefault("FI_DB_PASSWORD_SECRET_ID", "")
	if cfg.DBPassword == "" && cfg.DBPasswordSecretID == "" {
		return nil, fmt.Errorf("FI_DB_PASSWORD: требуется FI_DB_PASSWORD или FI_DB_PASSWORD_SECRET_ID")
	}

	cfg.DBSSLMode = getEnvDefault("FI_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FI_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	minConns, err := getEnvInt("FI_DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("FI_DB_MIN_CONNS: %w", err)
	}
	maxConns, err := getEnvInt("FI_DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("FI_DB_MAX_CONNS: %w", err)
	}
	if minConns < 0 || maxConns < 1 || minConns > maxConns {
		return nil, fmt.Errorf("FI_DB_MIN_CONNS/FI_DB_MAX_CONNS: некорректный диапазон %d-%d", minConns, maxConns)
	}
	cfg.DBMinConns = int32(minConns) //nolint:gosec // диапазон проверен выше
	cfg.DBMaxConns = int32(maxConns) //nolint:gosec // диапазон проверен выше

	if cfg.DBMigrate, err = getEnvBool("FI_DB_MIGRATE", true); err != nil {
		return nil, fmt.Errorf("FI_DB_MIGRATE: %w", err)
	}

	// --- AWS ---

	if cfg.AWSRegion, err = getEnvRequired("FI_AWS_REGION"); err != nil {
		return nil, err
	}
	if cfg.S3Bucket, err = getEnvRequired("FI_S3_BUCKET"); err != nil {
		return nil, err
	}
	if cfg.SQSQueueURL, err = getEnvRequired("FI_SQS_QUEUE_URL"); err != nil {
		return nil, err
	}

	if cfg.SQSBatchSize, err = getEnvInt("FI_SQS_BATCH_SIZE", 10); err != nil {
		return nil, fmt.Errorf("FI_SQS_BATCH_SIZE: %w", err)
	}
	if cfg.SQSBatchSize < 1 || cfg.SQSBatchSize > 10 {
		return nil, fmt.Errorf("FI_SQS_BATCH_SIZE: значение %d вне допустимого диапазона 1-10", cfg.SQSBatchSize)
	}
	if cfg.SQSWaitTime, err = getEnvDuration("FI_SQS_WAIT_TIME", 20*time.Second); err != nil {
		return nil, fmt.Errorf("FI_SQS_WAIT_TIME: %w", err)
	}
	if cfg.SQSWaitTime > 20*time.Second {
		return nil, fmt.Errorf("FI_SQS_WAIT_TIME: максимум 20s, получено %s", cfg.SQSWaitTime)
	}
	if cfg.SQSVisibilityTimeout, err = getEnvDuration("FI_SQS_VISIBILITY_TIMEOUT", 20*time.Second); err != nil {
		return nil, fmt.Errorf("FI_SQS_VISIBILITY_TIMEOUT: %w", err)
	}
	if cfg.SQSWorkers, err = getEnvInt("FI_SQS_WORKERS", 4); err != nil {
		return nil, fmt.Errorf("FI_SQS_WORKERS: %w", err)
	}
	if cfg.SQSWorkers < 1 {
		return nil, fmt.Errorf("FI_SQS_WORKERS: значение должно быть положительным")
	}

	cfg.Params = ParamPaths{
		VendorSecrets:     getEnvDefault("FI_PARAM_VENDOR_SECRETS", "/faxing/inbound/vendor-secrets"),
		UploadURLExpiry:   getEnvDefault("FI_PARAM_UPLOAD_URL_EXPIRY", "/faxing/inbound/presigned-url/put-expiry"),
		DownloadURLExpiry: getEnvDefault("FI_PARAM_DOWNLOAD_URL_EXPIRY", "/faxing/inbound/presigned-url/get-expiry"),
		RetryInterval:     getEnvDefault("FI_PARAM_RETRY_INTERVAL", "/faxing/inbound/stuck-fax/retry-interval"),
		MaxRetryInterval:  getEnvDefault("FI_PARAM_MAX_RETRY_INTERVAL", "/faxing/inbound/stuck-fax/max-retry-interval"),
		SweepControl:      getEnvDefault("FI_PARAM_SWEEP_CONTROL", "/faxing/inbound/stuck-fax/allow-retry-run"),
		ValidateDigest:    getEnvDefault("FI_PARAM_VALIDATE_DIGEST", "/faxing/inbound/validate-md5-hex-digest"),
		IAMClientID:       getEnvDefault("FI_PARAM_IAM_CLIENT_ID", "/faxing/inbound/iam/client-id"),
		IAMClientSecret:   getEnvDefault("FI_PARAM_IAM_CLIENT_SECRET", "/faxing/inbound/iam/client-secret"),
	}

	if cfg.ParamCacheTTL, err = getEnvDuration("FI_PARAM_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("FI_PARAM_CACHE_TTL: %w", err)
	}
	if cfg.ParamCacheSize, err = getEnvInt("FI_PARAM_CACHE_SIZE", 128); err != nil {
		return nil, fmt.Errorf("FI_PARAM_CACHE_SIZE: %w", err)
	}
	if cfg.ParamCacheSize < 1 {
		return nil, fmt.Errorf("FI_PARAM_CACHE_SIZE: значение должно быть положительным")
	}

	// --- IAM ---

	if cfg.IAMTokenURL, err = getEnvRequired("FI_IAM_TOKEN_URL"); err != nil {
		return nil, err
	}
	cfg.IAMScopes = parseCSV(getEnvDefault("FI_IAM_SCOPES", ""))
	if cfg.IAMTokenTTL, err = getEnvDuration("FI_IAM_TOKEN_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("FI_IAM_TOKEN_TTL: %w", err)
	}

	// --- Downstream ---

	if cfg.DownstreamURL, err = getEnvRequired("FI_DOWNSTREAM_URL"); err != nil {
		return nil, err
	}
	cfg.DownstreamURL = strings.TrimRight(cfg.DownstreamURL, "/")
	if cfg.DownstreamTimeout, err = getEnvDuration("FI_DOWNSTREAM_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("FI_DOWNSTREAM_TIMEOUT: %w", err)
	}
	cfg.DownstreamHealthPath = getEnvDefault("FI_DOWNSTREAM_HEALTH_PATH", "/health")
	cfg.DownstreamTimezone = getEnvDefault("FI_DOWNSTREAM_TIMEZONE", "America/New_York")
	if _, err := time.LoadLocation(cfg.DownstreamTimezone); err != nil {
		return nil, fmt.Errorf("FI_DOWNSTREAM_TIMEZONE: неизвестный часовой пояс %q", cfg.DownstreamTimezone)
	}

	// --- Сверка ---

	if cfg.SweepInterval, err = getEnvDuration("FI_SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("FI_SWEEP_INTERVAL: %w", err)
	}
	if cfg.SweepInterval < time.Minute {
		return nil, fmt.Errorf("FI_SWEEP_INTERVAL: минимум 1m, получено %s", cfg.SweepInterval)
	}
	if cfg.SweepWorkers, err = getEnvInt("FI_SWEEP_WORKERS", 5); err != nil {
		return nil, fmt.Errorf("FI_SWEEP_WORKERS: %w", err)
	}
	if cfg.SweepWorkers < 1 {
		return nil, fmt.Errorf("FI_SWEEP_WORKERS: значение должно быть положительным")
	}
	if cfg.DefaultRetryInterval, err = getEnvInt("FI_DEFAULT_RETRY_INTERVAL", 10); err != nil {
		return nil, fmt.Errorf("FI_DEFAULT_RETRY_INTERVAL: %w", err)
	}
	if cfg.DefaultMaxRetryInterval, err = getEnvInt("FI_DEFAULT_MAX_RETRY_INTERVAL", 60); err != nil {
		return nil, fmt.Errorf("FI_DEFAULT_MAX_RETRY_INTERVAL: %w", err)
	}
	if cfg.DefaultRetryInterval < 1 || cfg.DefaultMaxRetryInterval <= cfg.DefaultRetryInterval {
		return nil, fmt.Errorf("FI_DEFAULT_RETRY_INTERVAL/FI_DEFAULT_MAX_RETRY_INTERVAL: требуется 1 <= retry < max, получено %d/%d",
			cfg.DefaultRetryInterval, cfg.DefaultMaxRetryInterval)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("FI_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("FI_JWT_ISSUER", "")
	cfg.JWTRequiredScopes = parseCSV(getEnvDefault("FI_JWT_REQUIRED_SCOPES", ""))
	if cfg.JWTLeeway, err = getEnvDuration("FI_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FI_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("FI_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("FI_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("FI_DEPHEALTH_GROUP", "faxing")
	if cfg.DephealthCheckInterval, err = getEnvDuration("FI_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FI_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration("FI_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("FI_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
// Сессия работает в UTC.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s timezone=UTC",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
