// logging.go — middleware логирования обработанных HTTP-запросов через slog.
// Помимо фактического пути пишет нормализованный route (тот же, что в
// лейблах метрик): по нему запросы к разным токенам группируются,
// а сами токены при необходимости ищутся по полю path.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingResponseWriter — обёртка для перехвата статус-кода
// и размера ответа.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lw.ResponseWriter.Write(b)
	lw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// statusLevel — уровень логирования по статус-коду ответа:
// INFO (1xx-3xx), WARN (4xx), ERROR (5xx). Клиентские ошибки вроде
// 404 по истёкшей ссылке — штатное поведение, не ERROR.
func statusLevel(code int) slog.Level {
	switch {
	case code >= 500:
		return slog.LevelError
	case code >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// RequestLogger возвращает middleware, логирующий каждый обработанный
// HTTP-запрос: метод, путь, route, статус, размер ответа, длительность,
// remote_addr.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(lw, r)

			logger.LogAttrs(r.Context(), statusLevel(lw.statusCode), "Запрос обработан",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", normalizePath(r.URL.Path)),
				slog.Int("status", lw.statusCode),
				slog.Int64("bytes", lw.written),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
