// Точка входа LinkDrop — сервиса временного обмена файлами по ссылке.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/linkdrop/internal/api/handlers"
	"github.com/bigkaa/linkdrop/internal/config"
	"github.com/bigkaa/linkdrop/internal/database"
	"github.com/bigkaa/linkdrop/internal/registry"
	"github.com/bigkaa/linkdrop/internal/server"
	"github.com/bigkaa/linkdrop/internal/service"
	"github.com/bigkaa/linkdrop/internal/storage/blobstore"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("LinkDrop запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("registry_mode", cfg.RegistryMode),
		slog.String("retention_window", cfg.RetentionWindow.String()),
	)

	// --- Инициализация компонентов ---

	// 1. Blob-хранилище
	blobs, err := blobstore.New(cfg.DataDir, cfg.MaxUploadSize)
	if err != nil {
		logger.Error("Ошибка инициализации blob-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	// 2. Реестр ссылок
	var (
		reg             registry.Registry
		registryChecker handlers.ReadinessChecker
		dephealthSvc    *service.DephealthService
	)
	switch cfg.RegistryMode {
	case "postgres":
		// Миграции применяются до открытия пула
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		reg = registry.NewPostgres(pool, cfg.RetentionWindow)
		registryChecker = database.NewReadinessChecker(pool)

		// topologymetrics — мониторинг PostgreSQL через существующий пул
		db := stdlib.OpenDBFromPool(pool)
		pgConnURL := fmt.Sprintf("postgres://%s@%s:%d/%s",
			cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)

		serviceID := cfg.DephealthName
		if serviceID == "" {
			serviceID = "linkdrop"
		}

		dephealthSvc, err = service.NewDephealthService(
			serviceID,
			cfg.DephealthGroup,
			db,
			pgConnURL,
			cfg.DephealthCheckInterval,
			logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
			dephealthSvc = nil
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealthSvc = nil
		}
	case "memory":
		reg = registry.NewMemory(cfg.RetentionWindow)
		logger.Warn("Используется in-memory реестр: записи не переживут перезапуск")
	}

	// 3. Кэш и сервисы
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	transfer := service.NewTransferService(cfg, blobs, reg, cache, logger)

	// 4. Фоновая очистка истёкших файлов
	reaper := service.NewReaper(blobs, reg, cache, cfg.ReaperInterval, logger)
	reaper.Start(ctx)

	// 5. Handlers и HTTP-сервер
	filesHandler := handlers.NewFilesHandler(cfg, transfer, logger)
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, registryChecker)

	srv := server.New(cfg, logger, filesHandler, healthHandler)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	reaper.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("LinkDrop остановлен")
}
