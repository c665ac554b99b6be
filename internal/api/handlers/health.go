// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/linkdrop/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// ReadinessChecker — интерфейс проверки готовности реестра записей.
// Реализуется database.ReadinessChecker; для in-memory реестра nil.
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории данных (для проверки FS)
	dataDir string
	// registryChecker — проверка реестра (nil для memory mode)
	registryChecker ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// registryChecker может быть nil, если реестр не имеет внешних зависимостей.
func NewHealthHandler(dataDir string, registryChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:         config.Version,
		dataDir:         dataDir,
		registryChecker: registryChecker,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "linkdrop",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: файловая система, реестр записей.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	// Проверка файловой системы
	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Проверка реестра
	registryCheck := h.checkRegistry()
	if registryCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "linkdrop",
		"checks": map[string]any{
			"filesystem": fsCheck,
			"registry":   registryCheck,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkFilesystem проверяет доступность директории данных на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	if h.dataDir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.dataDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория данных недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

// checkRegistry проверяет готовность реестра записей.
func (h *HealthHandler) checkRegistry() map[string]any {
	if h.registryChecker == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Реестр без внешних зависимостей",
		}
	}

	status, message := h.registryChecker.CheckReady()
	check := map[string]any{
		"status": status,
	}
	if message != "" {
		check["message"] = message
	}
	return check
}
