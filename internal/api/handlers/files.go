// Пакет handlers — HTTP-обработчики LinkDrop.
// files.go — загрузка, метаданные, скачивание и удаление файлов.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/linkdrop/internal/api/errors"
	"github.com/bigkaa/linkdrop/internal/config"
	"github.com/bigkaa/linkdrop/internal/service"
)

// maxMultipartOverhead — допуск на служебные байты multipart-обрамления
// при быстрой проверке Content-Length всего запроса.
const maxMultipartOverhead = 16 * 1024

// uploadResponse — тело ответа на успешную загрузку.
type uploadResponse struct {
	Token        string `json:"token"`
	OriginalName string `json:"originalName"`
	SizeBytes    int64  `json:"sizeBytes"`
}

// infoResponse — тело ответа на запрос метаданных.
type infoResponse struct {
	OriginalName string `json:"originalName"`
	SizeBytes    int64  `json:"sizeBytes"`
	ContentType  string `json:"contentType"`
	CreatedAt    string `json:"createdAt"`
}

// FilesHandler — обработчики файловых endpoints.
type FilesHandler struct {
	cfg      *config.Config
	transfer *service.TransferService
	logger   *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(cfg *config.Config, transfer *service.TransferService, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		cfg:      cfg,
		transfer: transfer,
		logger:   logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /files.
// Принимает multipart/form-data с полем file и потоково записывает
// содержимое на диск через MultipartReader, не буферизуя файл в памяти.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	// Быстрый отказ по Content-Length всего запроса, до чтения тела.
	// Допуск на multipart-обрамление: тело всегда больше самого файла.
	if r.ContentLength > h.cfg.MaxUploadSize+maxMultipartOverhead {
		apierrors.SizeLimitExceeded(w,
			fmt.Sprintf("Размер запроса превышает максимум %d байт", h.cfg.MaxUploadSize))
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается запрос multipart/form-data с полем file")
		return
	}

	// Ищем поле file среди частей запроса
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			apierrors.ValidationError(w, "Некорректное multipart-тело запроса")
			return
		}

		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		filename := part.FileName()
		if filename == "" {
			_ = part.Close()
			apierrors.ValidationError(w, "Поле file должно содержать файл с именем")
			return
		}

		rec, terr := h.transfer.Upload(r.Context(), service.UploadParams{
			Reader:       part,
			OriginalName: filename,
			ContentType:  part.Header.Get("Content-Type"),
			DeclaredSize: -1,
		})
		_ = part.Close()
		if terr != nil {
			apierrors.WriteError(w, terr.StatusCode, terr.Code, terr.Message)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(uploadResponse{
			Token:        rec.Token,
			OriginalName: rec.OriginalName,
			SizeBytes:    rec.SizeBytes,
		})
		return
	}

	apierrors.ValidationError(w, "Поле file не найдено в запросе")
}

// GetFileInfo обрабатывает GET /files/{token}/info.
// Возвращает метаданные файла без содержимого.
func (h *FilesHandler) GetFileInfo(w http.ResponseWriter, r *http.Request, token string) {
	rec, terr := h.transfer.GetInfo(r.Context(), token)
	if terr != nil {
		apierrors.WriteError(w, terr.StatusCode, terr.Code, terr.Message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(infoResponse{
		OriginalName: rec.OriginalName,
		SizeBytes:    rec.SizeBytes,
		ContentType:  rec.ContentType,
		CreatedAt:    rec.CreatedAt.Format(time.RFC3339),
	})
}

// DownloadFile обрабатывает GET /files/{token}/content.
// Отдаёт содержимое потоково через http.ServeContent:
// Range requests (206) и If-None-Match (304 через ETag) поддерживаются.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request, token string) {
	file, rec, terr := h.transfer.OpenDownload(r.Context(), token)
	if terr != nil {
		apierrors.WriteError(w, terr.StatusCode, terr.Code, terr.Message)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.OriginalName))
	w.Header().Set("ETag", fmt.Sprintf("%q", rec.Checksum))
	w.Header().Set("Accept-Ranges", "bytes")

	// http.ServeContent выставляет Content-Length и обрабатывает
	// Range / If-None-Match / If-Modified-Since
	http.ServeContent(w, r, rec.OriginalName, rec.CreatedAt, file)
}

// DeleteFile обрабатывает DELETE /files/{token}.
// Удаляет файл до истечения окна хранения: сначала blob, затем запись.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request, token string) {
	if terr := h.transfer.Delete(r.Context(), token); terr != nil {
		apierrors.WriteError(w, terr.StatusCode, terr.Code, terr.Message)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
