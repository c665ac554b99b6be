// reaper.go — фоновая очистка истёкших файлов.
//
// Reaper периодически выбирает из реестра записи старше окна хранения
// и удаляет их: сначала blob, затем запись. Такой порядок гарантирует,
// что при частичном сбое не останется записи без содержимого —
// допустим только осиротевший blob, который будет удалён на следующем
// цикле вместе с записью.
//
// Вторая фаза цикла — поиск осиротевших файлов: blob'ов без записи
// в реестре (сбой между записью содержимого и созданием записи) и
// недописанных .tmp файлов. И те и другие удаляются, как только
// переживут orphanGrace.
//
// Запускается как горутина с периодическим тикером (LD_REAPER_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/linkdrop/internal/registry"
	"github.com/bigkaa/linkdrop/internal/storage/blobstore"
)

// Prometheus метрики reaper'а
var (
	// reaperRunsTotal — количество запусков reaper.
	reaperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_reaper_runs_total",
		Help: "Общее количество запусков очистки истёкших файлов",
	})

	// reaperFilesDeletedTotal — количество удалённых файлов.
	reaperFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_reaper_files_deleted_total",
		Help: "Общее количество файлов, удалённых очисткой",
	})

	// reaperOrphansDeletedTotal — количество удалённых осиротевших файлов.
	reaperOrphansDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_reaper_orphans_deleted_total",
		Help: "Общее количество удалённых файлов без записи в реестре",
	})

	// reaperErrorsTotal — количество ошибок при удалении.
	reaperErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_reaper_errors_total",
		Help: "Общее количество ошибок при удалении истёкших файлов",
	})

	// reaperDurationSeconds — длительность выполнения очистки.
	reaperDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ld_reaper_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// orphanGrace — минимальный возраст файла без записи в реестре,
// после которого файл считается осиротевшим. Защищает blob'ы,
// для которых запись ещё создаётся, и .tmp файлы активных загрузок.
const orphanGrace = 5 * time.Minute

// ReaperResult — результат одного запуска очистки.
type ReaperResult struct {
	// DeletedCount — количество удалённых истёкших файлов
	DeletedCount int
	// OrphansDeleted — количество удалённых файлов без записи в реестре
	OrphansDeleted int
	// Errors — количество ошибок при обработке записей
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Reaper — сервис фоновой очистки истёкших файлов.
type Reaper struct {
	blobs    *blobstore.Store
	reg      registry.Registry
	cache    *CacheService
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewReaper создаёт сервис очистки.
func NewReaper(
	blobs *blobstore.Store,
	reg registry.Registry,
	cache *CacheService,
	interval time.Duration,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		blobs:    blobs,
		reg:      reg,
		cache:    cache,
		interval: interval,
		logger:   logger.With(slog.String("component", "reaper")),
	}
}

// Start запускает фоновую горутину очистки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (rp *Reaper) Start(ctx context.Context) {
	reaperCtx, cancel := context.WithCancel(ctx)
	rp.cancel = cancel

	go rp.run(reaperCtx)

	rp.logger.Info("Очистка истёкших файлов запущена",
		slog.String("interval", rp.interval.String()),
	)
}

// Stop останавливает фоновый процесс очистки.
func (rp *Reaper) Stop() {
	if rp.cancel != nil {
		rp.cancel()
	}
	rp.logger.Info("Очистка истёкших файлов остановлена")
}

// run — основной цикл фоновой горутины.
func (rp *Reaper) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	rp.RunOnce(ctx)

	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
//
// Ошибка удаления одной записи не прерывает цикл: остальные записи
// обрабатываются, ошибка логируется и учитывается в метриках.
func (rp *Reaper) RunOnce(ctx context.Context) *ReaperResult {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	start := time.Now()
	result := &ReaperResult{}

	rp.logger.Debug("Очистка начата")

	now := time.Now().UTC()

	expired, err := rp.reg.ListExpired(ctx, now)
	if err != nil {
		// Сбой выборки не отменяет поиск осиротевших файлов
		rp.logger.Error("Ошибка выборки истёкших записей",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}

	for _, rec := range expired {
		// Blob удаляется первым: запись без blob'а недопустима,
		// осиротевший blob — нет
		if err := rp.blobs.Delete(rec.StorageHandle); err != nil {
			rp.logger.Error("Ошибка удаления blob",
				slog.String("token", rec.Token),
				slog.String("handle", rec.StorageHandle),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		if err := rp.reg.Delete(ctx, rec.Token); err != nil {
			rp.logger.Error("Ошибка удаления записи",
				slog.String("token", rec.Token),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		rp.cache.Delete(rec.Token)

		rp.logger.Debug("Истёкший файл удалён",
			slog.String("token", rec.Token),
			slog.String("filename", rec.OriginalName),
		)
		result.DeletedCount++
	}

	rp.sweepOrphans(ctx, now, result)

	result.Duration = time.Since(start)

	// Метрики обновляются для каждого запуска, включая неудачные
	reaperRunsTotal.Inc()
	reaperFilesDeletedTotal.Add(float64(result.DeletedCount))
	reaperOrphansDeletedTotal.Add(float64(result.OrphansDeleted))
	reaperErrorsTotal.Add(float64(result.Errors))
	reaperDurationSeconds.Observe(result.Duration.Seconds())
	updateStorageGauge(rp.blobs, rp.logger)

	rp.logger.Info("Очистка завершена",
		slog.Int("deleted", result.DeletedCount),
		slog.Int("orphans", result.OrphansDeleted),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// sweepOrphans удаляет файлы директории данных, на которые не ссылается
// ни одна запись реестра, и недописанные .tmp файлы. Файлы моложе
// orphanGrace не трогаются: для них запись может ещё создаваться.
//
// Выполняется после прохода по истёкшим записям: blob, оставшийся
// после сбоя удаления записи, дочистится здесь на следующем цикле.
func (rp *Reaper) sweepOrphans(ctx context.Context, now time.Time, result *ReaperResult) {
	entries, err := rp.blobs.List()
	if err != nil {
		rp.logger.Error("Ошибка сканирования директории данных",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return
	}

	cutoff := now.Add(-orphanGrace)
	for _, entry := range entries {
		if entry.ModTime.After(cutoff) {
			continue
		}

		// .tmp файлы записей в реестре не имеют — проверка не нужна
		if !entry.Temp {
			known, err := rp.reg.HasHandle(ctx, entry.Name)
			if err != nil {
				rp.logger.Error("Ошибка проверки handle в реестре",
					slog.String("handle", entry.Name),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}
			if known {
				continue
			}
		}

		if err := rp.blobs.Delete(entry.Name); err != nil {
			rp.logger.Error("Ошибка удаления осиротевшего файла",
				slog.String("name", entry.Name),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}

		rp.logger.Warn("Удалён файл без записи в реестре",
			slog.String("name", entry.Name),
			slog.Bool("temp", entry.Temp),
		)
		result.OrphansDeleted++
	}
}
