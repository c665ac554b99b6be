// metrics.go — Prometheus HTTP метрики LinkDrop.
// Регистрирует метрики: ld_http_requests_total, ld_http_request_duration_seconds.
// Бизнес-метрики (ld_uploads_total, ld_reaper_* и др.) регистрируются
// в сервисном слое и обновляются оттуда.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_http_requests_total",
			Help: "Общее количество HTTP-запросов к LinkDrop",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ld_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к LinkDrop в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем токен на {token} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет токен в пути на {token} для предотвращения
// взрывного роста кардинальности метрик.
// /files/a1b2c3d4-e5f6-7890-abcd-ef1234567890/info → /files/{token}/info
func normalizePath(path string) string {
	switch {
	case path == "/health/live":
		return "/health/live"
	case path == "/health/ready":
		return "/health/ready"
	case path == "/metrics":
		return "/metrics"
	case path == "/files":
		return "/files"
	case len(path) > len("/files/") && isUUIDSegment(path, "/files/"):
		suffix := path[len("/files/")+36:]
		switch suffix {
		case "/info":
			return "/files/{token}/info"
		case "/content":
			return "/files/{token}/content"
		case "":
			return "/files/{token}"
		}
	}
	return path
}

// isUUIDSegment проверяет, начинается ли сегмент пути после prefix с UUID.
func isUUIDSegment(path, prefix string) bool {
	if len(path) < len(prefix)+36 {
		return false
	}
	segment := path[len(prefix) : len(prefix)+36]
	// Проверяем формат UUID: 8-4-4-4-12
	if len(segment) != 36 {
		return false
	}
	for i, c := range segment {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
		} else {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
				return false
			}
		}
	}
	return true
}
