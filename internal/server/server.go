// Пакет server — HTTP-сервер LinkDrop с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/linkdrop/internal/api/handlers"
	"github.com/bigkaa/linkdrop/internal/api/middleware"
	"github.com/bigkaa/linkdrop/internal/config"
)

// Server — HTTP-сервер LinkDrop.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	files *handlers.FilesHandler,
	health *handlers.HealthHandler,
) *Server {
	router := NewRouter(logger, files, health)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSEnabled() {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер со всеми endpoints и middleware.
// Вынесен отдельно, чтобы тесты могли поднять роутер через httptest.
func NewRouter(
	logger *slog.Logger,
	files *handlers.FilesHandler,
	health *handlers.HealthHandler,
) chi.Router {
	router := chi.NewRouter()

	// Middleware: логирование, затем метрики
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Файловые endpoints
	router.Route("/files", func(r chi.Router) {
		r.Post("/", files.UploadFile)
		r.Route("/{token}", func(r chi.Router) {
			r.Get("/info", func(w http.ResponseWriter, req *http.Request) {
				files.GetFileInfo(w, req, chi.URLParam(req, "token"))
			})
			r.Get("/content", func(w http.ResponseWriter, req *http.Request) {
				files.DownloadFile(w, req, chi.URLParam(req, "token"))
			})
			r.Delete("/", func(w http.ResponseWriter, req *http.Request) {
				files.DeleteFile(w, req, chi.URLParam(req, "token"))
			})
		})
	})

	// Health endpoints для Kubernetes probes
	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler())

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// LD_SHUTDOWN_TIMEOUT.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSEnabled()),
		)

		var err error
		if s.cfg.TLSEnabled() {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
