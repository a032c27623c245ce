// Пакет cache — локальный кэш экземпляра с TTL на каждый ключ.
// Обёртка над hashicorp/golang-lru/v2, параллельные промахи по одному
// ключу схлопываются через singleflight. Кэш не участвует в координации
// между экземплярами и допускает устаревание в пределах TTL.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fi_cache_hits_total",
		Help: "Общее количество попаданий в кэш параметров.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fi_cache_misses_total",
		Help: "Общее количество промахов кэша параметров.",
	})
)

// entry — значение с моментом истечения.
type entry struct {
	value     any
	expiresAt time.Time
}

// Cache — LRU-кэш с TTL, задаваемым при записи каждого ключа.
type Cache struct {
	lru   *lru.Cache[string, entry]
	group singleflight.Group

	mu  sync.RWMutex
	now func() time.Time
}

// New создаёт кэш на size ключей.
func New(size int) (*Cache, error) {
	l, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания LRU-кэша: %w", err)
	}
	return &Cache{lru: l, now: time.Now}, nil
}

// SetClock подменяет источник времени (для тестов).
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Cache) clock() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

// Get возвращает значение, если оно есть и не истекло.
// Обновляет Prometheus-метрики hit/miss.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.lru.Get(key)
	if ok && c.clock().Before(e.expiresAt) {
		cacheHitsTotal.Inc()
		return e.value, true
	}
	if ok {
		c.lru.Remove(key)
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set сохраняет значение на ttl.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.lru.Add(key, entry{value: value, expiresAt: c.clock().Add(ttl)})
}

// GetOrRefresh возвращает значение ключа из кэша или загружает его через
// loader и сохраняет на ttl. Ошибки loader не кэшируются. Параллельные
// промахи по одному ключу выполняют loader один раз.
func GetOrRefresh[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
		// Под ключом значение другого типа — перезагружаем.
		c.Invalidate(key)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, val, ttl)
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("кэш: значение ключа %q имеет тип %T", key, v)
	}
	return typed, nil
}
