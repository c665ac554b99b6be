package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/linkdrop/internal/api/handlers"
	"github.com/bigkaa/linkdrop/internal/config"
	"github.com/bigkaa/linkdrop/internal/registry"
	"github.com/bigkaa/linkdrop/internal/service"
	"github.com/bigkaa/linkdrop/internal/storage/blobstore"
)

// newTestRouter поднимает полный стек на in-memory реестре.
func newTestRouter(t *testing.T, maxSize int64, retention time.Duration) http.Handler {
	t.Helper()

	cfg := &config.Config{
		DataDir:         t.TempDir(),
		MaxUploadSize:   maxSize,
		RetentionWindow: retention,
		CacheSize:       16,
		CacheTTL:        time.Minute,
	}

	blobs, err := blobstore.New(cfg.DataDir, cfg.MaxUploadSize)
	if err != nil {
		t.Fatalf("Не удалось создать blob-хранилище: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.NewMemory(retention)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	transfer := service.NewTransferService(cfg, blobs, reg, cache, logger)

	files := handlers.NewFilesHandler(cfg, transfer, logger)
	health := handlers.NewHealthHandler(cfg.DataDir, nil)

	return NewRouter(logger, files, health)
}

// multipartBody собирает multipart/form-data тело с одним файлом.
func multipartBody(t *testing.T, fieldName, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("Ошибка создания multipart part: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("Ошибка записи multipart part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Ошибка закрытия multipart writer: %v", err)
	}
	return body, mw.FormDataContentType()
}

// uploadFile загружает файл и возвращает выданный токен.
func uploadFile(t *testing.T, router http.Handler, filename string, content []byte) string {
	t.Helper()

	body, contentType := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /files: статус %d, ожидалось 201; тело: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Token        string `json:"token"`
		OriginalName string `json:"originalName"`
		SizeBytes    int64  `json:"sizeBytes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Ошибка разбора ответа: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("token в ответе пустой")
	}
	if resp.OriginalName != filename {
		t.Errorf("originalName = %q, ожидалось %q", resp.OriginalName, filename)
	}
	if resp.SizeBytes != int64(len(content)) {
		t.Errorf("sizeBytes = %d, ожидалось %d", resp.SizeBytes, len(content))
	}
	return resp.Token
}

// errorCode извлекает машиночитаемый код из envelope ошибки.
func errorCode(t *testing.T, body []byte) string {
	t.Helper()

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Ошибка разбора envelope ошибки: %v; тело: %s", err, body)
	}
	return resp.Error.Code
}

func TestUploadInfoDownloadDelete(t *testing.T) {
	router := newTestRouter(t, 1024*1024, 24*time.Hour)
	content := []byte("hello, linkdrop")

	token := uploadFile(t, router, "hello.txt", content)

	// GET /files/{token}/info
	req := httptest.NewRequest(http.MethodGet, "/files/"+token+"/info", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET info: статус %d, ожидалось 200", rec.Code)
	}
	var info struct {
		OriginalName string `json:"originalName"`
		SizeBytes    int64  `json:"sizeBytes"`
		ContentType  string `json:"contentType"`
		CreatedAt    string `json:"createdAt"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("Ошибка разбора info: %v", err)
	}
	if info.OriginalName != "hello.txt" {
		t.Errorf("originalName = %q, ожидалось 'hello.txt'", info.OriginalName)
	}
	if info.SizeBytes != int64(len(content)) {
		t.Errorf("sizeBytes = %d, ожидалось %d", info.SizeBytes, len(content))
	}
	if info.ContentType == "" {
		t.Error("contentType не должен быть пустым")
	}
	if _, err := time.Parse(time.RFC3339, info.CreatedAt); err != nil {
		t.Errorf("createdAt не в формате RFC3339: %q", info.CreatedAt)
	}

	// GET /files/{token}/content
	req = httptest.NewRequest(http.MethodGet, "/files/"+token+"/content", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET content: статус %d, ожидалось 200", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Error("содержимое ответа не совпадает с загруженным")
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="hello.txt"`) {
		t.Errorf("Content-Disposition = %q, ожидалось attachment с именем файла", cd)
	}
	if cl := rec.Header().Get("Content-Length"); cl != "15" {
		t.Errorf("Content-Length = %q, ожидалось '15'", cl)
	}

	// DELETE /files/{token}
	req = httptest.NewRequest(http.MethodDelete, "/files/"+token, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE: статус %d, ожидалось 204", rec.Code)
	}

	// После удаления ссылка не работает
	req = httptest.NewRequest(http.MethodGet, "/files/"+token+"/info", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("GET info после удаления: статус %d, ожидалось 404", rec.Code)
	}
}

func TestUpload_MissingFileField(t *testing.T) {
	router := newTestRouter(t, 1024, 24*time.Hour)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("comment", "нет файла")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус %d, ожидалось 400", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "VALIDATION_ERROR" {
		t.Errorf("код ошибки = %q, ожидалось VALIDATION_ERROR", code)
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	router := newTestRouter(t, 1024, 24*time.Hour)

	req := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader("просто текст"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус %d, ожидалось 400", rec.Code)
	}
}

func TestUpload_TooLarge(t *testing.T) {
	router := newTestRouter(t, 100, 24*time.Hour)

	body, contentType := multipartBody(t, "file", "big.bin", make([]byte, 500))
	req := httptest.NewRequest(http.MethodPost, "/files", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус %d, ожидалось 400", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "SIZE_LIMIT_EXCEEDED" {
		t.Errorf("код ошибки = %q, ожидалось SIZE_LIMIT_EXCEEDED", code)
	}
}

func TestInfo_UnknownToken(t *testing.T) {
	router := newTestRouter(t, 1024, 24*time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/files/00000000-0000-4000-8000-000000000000/info", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("статус %d, ожидалось 404", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "NOT_FOUND" {
		t.Errorf("код ошибки = %q, ожидалось NOT_FOUND", code)
	}
}

func TestDownload_ExpiredLink(t *testing.T) {
	router := newTestRouter(t, 1024, 50*time.Millisecond)

	token := uploadFile(t, router, "ephemeral.txt", []byte("недолговечное"))

	time.Sleep(60 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/files/"+token+"/content", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("статус %d, ожидалось 404 для истёкшей ссылки", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t, 1024, 24*time.Hour)

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("GET %s: статус %d, ожидалось 200", path, rec.Code)
		}
		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Errorf("GET %s: невалидный JSON: %v", path, err)
			continue
		}
		if resp["status"] != "ok" {
			t.Errorf("GET %s: status = %v, ожидалось 'ok'", path, resp["status"])
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, 1024, 24*time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: статус %d, ожидалось 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ld_reaper_runs_total") {
		t.Error("вывод /metrics должен содержать метрики приложения")
	}
}
