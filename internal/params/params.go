// Пакет params — операционные параметры сервиса из AWS SSM Parameter Store.
//
// Параметры читаются через локальный кэш с TTL на каждый ключ. Типизированные
// геттеры с суффиксом Or работают по принципу fail-open: при недоступности
// хранилища или некорректном значении возвращается значение по умолчанию.
package params

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/danussh/Faxing/internal/cache"
)

// ErrNotFound — параметр отсутствует в хранилище.
var ErrNotFound = errors.New("параметр не найден")

// Source — хранилище параметров.
type Source interface {
	// Get возвращает значение параметра. ErrNotFound — параметра нет.
	Get(ctx context.Context, name string) (string, error)
}

// SSMAPI — подмножество клиента SSM, используемое пакетом.
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource — Source поверх AWS SSM Parameter Store (SecureString расшифровываются).
type SSMSource struct {
	client SSMAPI
}

// NewSSMSource создаёт источник параметров SSM.
func NewSSMSource(client SSMAPI) *SSMSource {
	return &SSMSource{client: client}
}

// Get читает параметр с расшифровкой.
func (s *SSMSource) Get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("ошибка чтения параметра %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return *out.Parameter.Value, nil
}

// csvSplit — разделитель списков в параметрах (запятая с пробелами вокруг).
var csvSplit = regexp.MustCompile(`\s*,\s*`)

// Store — кэшированный доступ к параметрам.
type Store struct {
	source Source
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore создаёт кэшированное хранилище параметров.
// ttl — время жизни значения в кэше (по умолчанию 10 минут).
func NewStore(source Source, c *cache.Cache, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{
		source: source,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "params")),
	}
}

// String возвращает значение параметра из кэша или хранилища.
func (s *Store) String(ctx context.Context, name string) (string, error) {
	return cache.GetOrRefresh(ctx, s.cache, "param:"+name, s.ttl, func(ctx context.Context) (string, error) {
		v, err := s.source.Get(ctx, name)
		if err != nil {
			return "", err
		}
		s.logger.Debug("Параметр обновлён в кэше",
			slog.String("name", name),
			slog.Duration("ttl", s.ttl),
		)
		return v, nil
	})
}

// List возвращает параметр как список значений через запятую.
// Пустые элементы отбрасываются.
func (s *Store) List(ctx context.Context, name string) ([]string, error) {
	v, err := s.String(ctx, name)
	if err != nil {
		return nil, err
	}
	parts := csvSplit.Split(strings.TrimSpace(v), -1)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result, nil
}

// IntOr возвращает целочисленный параметр или def, если параметр
// недоступен, пуст или не является целым числом.
func (s *Store) IntOr(ctx context.Context, name string, def int) int {
	v, err := s.String(ctx, name)
	if err != nil {
		s.logger.Warn("Параметр недоступен, используется значение по умолчанию",
			slog.String("name", name),
			slog.Int("default", def),
			slog.String("error", err.Error()),
		)
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		s.logger.Warn("Некорректное значение параметра, используется значение по умолчанию",
			slog.String("name", name),
			slog.Int("default", def),
		)
		return def
	}
	return n
}

// PositiveIntOr — IntOr, где неположительное значение тоже заменяется на def.
func (s *Store) PositiveIntOr(ctx context.Context, name string, def int) int {
	n := s.IntOr(ctx, name, def)
	if n <= 0 {
		return def
	}
	return n
}

// MinutesOr возвращает длительность из параметра в минутах или def минут.
func (s *Store) MinutesOr(ctx context.Context, name string, def int) time.Duration {
	return time.Duration(s.PositiveIntOr(ctx, name, def)) * time.Minute
}
