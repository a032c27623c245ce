// metrics.go — Prometheus HTTP метрики Fax Inbound Service.
// Регистрирует метрики: fi_http_requests_total, fi_http_request_duration_seconds.
// Нормализация путей не даёт ключам объектов попасть в лейблы.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fi_http_requests_total",
			Help: "Общее количество HTTP-запросов к Fax Inbound Service",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fi_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Fax Inbound Service в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// normalizePath заменяет ключ объекта на {key}, неизвестные пути — на "other".
// /presignedurls/0b8f3f8e-... → /presignedurls/{key}
func normalizePath(path string) string {
	switch path {
	case "/inboundfaxes", "/faxstatuses", "/healthcheck",
		"/health/live", "/health/ready", "/metrics":
		return path
	}
	if strings.HasPrefix(path, "/presignedurls/") {
		return "/presignedurls/{key}"
	}
	return "other"
}
