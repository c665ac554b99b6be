// transfer.go — сервис загрузки и выдачи файлов.
//
// Связывает blob-хранилище и реестр ссылок: при загрузке сначала
// сохраняется содержимое, затем создаётся запись; при сбое создания
// записи выполняется компенсирующее удаление blob'а, чтобы не
// оставлять содержимое без ссылки.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/linkdrop/internal/api/errors"
	"github.com/bigkaa/linkdrop/internal/config"
	"github.com/bigkaa/linkdrop/internal/domain/model"
	"github.com/bigkaa/linkdrop/internal/registry"
	"github.com/bigkaa/linkdrop/internal/storage/blobstore"
)

// Prometheus-метрики операций с файлами.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ld_uploads_total",
		Help: "Общее количество загрузок файлов по результату.",
	}, []string{"result"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ld_downloads_total",
		Help: "Общее количество скачиваний файлов по результату.",
	}, []string{"result"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ld_upload_bytes_total",
		Help: "Суммарный объём загруженных данных в байтах.",
	})

	storageUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ld_storage_used_bytes",
		Help: "Текущий объём данных в blob-хранилище в байтах.",
	})
)

// updateStorageGauge пересчитывает gauge занятого места.
// Ошибка подсчёта не влияет на основную операцию — только логируется,
// gauge при этом сохраняет предыдущее значение.
func updateStorageGauge(blobs *blobstore.Store, logger *slog.Logger) {
	used, err := blobs.UsedBytes()
	if err != nil {
		logger.Warn("Не удалось подсчитать занятое место",
			slog.String("error", err.Error()),
		)
		return
	}
	storageUsedBytes.Set(float64(used))
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalName — оригинальное имя файла
	OriginalName string
	// ContentType — MIME-тип файла (из multipart part)
	ContentType string
	// DeclaredSize — заявленный размер из Content-Length запроса.
	// -1 если неизвестен; используется для быстрого отказа до чтения потока.
	DeclaredSize int64
}

// TransferError — ошибка операции с HTTP-кодом.
type TransferError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TransferService — сервис загрузки и выдачи файлов.
type TransferService struct {
	cfg    *config.Config
	blobs  *blobstore.Store
	reg    registry.Registry
	cache  *CacheService
	logger *slog.Logger
}

// NewTransferService создаёт сервис загрузки и выдачи файлов.
func NewTransferService(
	cfg *config.Config,
	blobs *blobstore.Store,
	reg registry.Registry,
	cache *CacheService,
	logger *slog.Logger,
) *TransferService {
	return &TransferService{
		cfg:    cfg,
		blobs:  blobs,
		reg:    reg,
		cache:  cache,
		logger: logger.With(slog.String("component", "transfer_service")),
	}
}

// Upload сохраняет содержимое файла и создаёт запись в реестре.
//
// Поток:
//  1. Быстрая проверка заявленного размера (Content-Length)
//  2. Потоковая запись blob'а (лимит контролируется в blobstore)
//  3. Создание записи в реестре
//
// При ошибке создания записи blob удаляется (компенсация),
// чтобы содержимое не осталось недостижимым.
func (s *TransferService) Upload(ctx context.Context, params UploadParams) (*model.FileRecord, *TransferError) {
	// 1. Быстрый отказ по заявленному размеру, до чтения потока
	if params.DeclaredSize > s.cfg.MaxUploadSize {
		uploadsTotal.WithLabelValues("size_limit").Inc()
		return nil, &TransferError{
			StatusCode: 400,
			Code:       apierrors.CodeSizeLimitExceeded,
			Message:    fmt.Sprintf("Размер файла %d байт превышает максимум %d байт", params.DeclaredSize, s.cfg.MaxUploadSize),
		}
	}

	// 2. Потоковая запись содержимого
	written, err := s.blobs.Write(params.Reader, params.OriginalName)
	if err != nil {
		if errors.Is(err, blobstore.ErrSizeLimitExceeded) {
			uploadsTotal.WithLabelValues("size_limit").Inc()
			return nil, &TransferError{
				StatusCode: 400,
				Code:       apierrors.CodeSizeLimitExceeded,
				Message:    fmt.Sprintf("Размер файла превышает максимум %d байт", s.cfg.MaxUploadSize),
			}
		}
		uploadsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка сохранения файла",
			slog.String("filename", params.OriginalName),
			slog.String("error", err.Error()),
		)
		return nil, &TransferError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}

	// 3. Создаём запись в реестре
	rec := &model.FileRecord{
		StorageHandle: written.Handle,
		OriginalName:  params.OriginalName,
		ContentType:   normalizeContentType(params.ContentType),
		SizeBytes:     written.Size,
		Checksum:      written.Checksum,
		CreatedAt:     time.Now().UTC(),
	}

	token, err := s.reg.Create(ctx, rec)
	if err != nil {
		// Компенсация: запись не создана, blob не должен остаться
		if delErr := s.blobs.Delete(written.Handle); delErr != nil {
			s.logger.Error("Ошибка компенсирующего удаления blob",
				slog.String("handle", written.Handle),
				slog.String("error", delErr.Error()),
			)
		}
		uploadsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка создания записи в реестре",
			slog.String("filename", params.OriginalName),
			slog.String("error", err.Error()),
		)
		return nil, &TransferError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка создания записи о файле",
		}
	}
	rec.Token = token

	s.cache.Set(token, rec)
	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(written.Size))
	updateStorageGauge(s.blobs, s.logger)

	s.logger.Info("Файл загружен",
		slog.String("token", token),
		slog.String("filename", params.OriginalName),
		slog.Int64("size", written.Size),
		slog.String("checksum", written.Checksum),
	)

	return rec, nil
}

// GetInfo возвращает запись о файле по токену.
// Сначала проверяется LRU-кэш; запись из кэша дополнительно проверяется
// на истечение, чтобы кэш не продлевал жизнь ссылки за пределы окна.
func (s *TransferService) GetInfo(ctx context.Context, token string) (*model.FileRecord, *TransferError) {
	now := time.Now().UTC()

	if rec, ok := s.cache.Get(token); ok {
		if rec.IsExpired(now, s.cfg.RetentionWindow) {
			s.cache.Delete(token)
			return nil, s.notFound(token)
		}
		return rec, nil
	}

	rec, err := s.reg.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, s.notFound(token)
		}
		s.logger.Error("Ошибка чтения реестра",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		return nil, &TransferError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения записи о файле",
		}
	}

	s.cache.Set(token, rec)
	return rec, nil
}

// OpenDownload возвращает открытый файл и запись для отдачи клиенту.
// Вызывающий код обязан закрыть файл.
//
// Если запись есть, а blob на диске отсутствует, выполняется lazy
// cleanup: осиротевшая запись удаляется, клиент получает 404.
func (s *TransferService) OpenDownload(ctx context.Context, token string) (*os.File, *model.FileRecord, *TransferError) {
	rec, terr := s.GetInfo(ctx, token)
	if terr != nil {
		downloadsTotal.WithLabelValues("not_found").Inc()
		return nil, nil, terr
	}

	file, err := s.blobs.Open(rec.StorageHandle)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			// Запись без blob'а: чистим и отвечаем как для отсутствующей ссылки
			s.cache.Delete(token)
			if delErr := s.reg.Delete(ctx, token); delErr != nil {
				s.logger.Error("Ошибка удаления осиротевшей записи",
					slog.String("token", token),
					slog.String("error", delErr.Error()),
				)
			}
			downloadsTotal.WithLabelValues("not_found").Inc()
			return nil, nil, s.notFound(token)
		}
		downloadsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка открытия blob",
			slog.String("token", token),
			slog.String("handle", rec.StorageHandle),
			slog.String("error", err.Error()),
		)
		return nil, nil, &TransferError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения файла",
		}
	}

	downloadsTotal.WithLabelValues("success").Inc()
	return file, rec, nil
}

// Delete удаляет файл по токену: сначала blob, затем запись.
// Порядок гарантирует, что при частичном сбое не останется записи,
// указывающей на отсутствующее содержимое.
func (s *TransferService) Delete(ctx context.Context, token string) *TransferError {
	rec, err := s.reg.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return s.notFound(token)
		}
		return &TransferError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения записи о файле",
		}
	}

	if err := s.blobs.Delete(rec.StorageHandle); err != nil {
		s.logger.Error("Ошибка удаления blob",
			slog.String("token", token),
			slog.String("handle", rec.StorageHandle),
			slog.String("error", err.Error()),
		)
		return &TransferError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка удаления файла",
		}
	}

	if err := s.reg.Delete(ctx, token); err != nil {
		s.logger.Error("Ошибка удаления записи",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
		return &TransferError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка удаления записи о файле",
		}
	}

	s.cache.Delete(token)
	updateStorageGauge(s.blobs, s.logger)

	s.logger.Info("Файл удалён",
		slog.String("token", token),
		slog.String("filename", rec.OriginalName),
	)

	return nil
}

// notFound — единый ответ для отсутствующих и истёкших ссылок.
// Истёкшая ссылка неотличима от никогда не существовавшей.
func (s *TransferService) notFound(token string) *TransferError {
	return &TransferError{
		StatusCode: 404,
		Code:       apierrors.CodeNotFound,
		Message:    fmt.Sprintf("Файл %s не найден", token),
	}
}

// normalizeContentType возвращает MIME-тип без параметров (charset и т.д.).
// Пустое значение заменяется на application/octet-stream.
func normalizeContentType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	return contentType
}
