// Пакет config — загрузка и валидация конфигурации LinkDrop
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации LinkDrop.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения файлов
	DataDir string
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Время жизни файла после загрузки
	RetentionWindow time.Duration
	// Интервал запуска reaper (очистки истёкших файлов)
	ReaperInterval time.Duration
	// Режим реестра записей: postgres или memory
	RegistryMode string
	// Параметры подключения к PostgreSQL (только registry mode postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Размер LRU-кэша записей (количество элементов)
	CacheSize int
	// TTL элементов LRU-кэша
	CacheTTL time.Duration
	// Пути к TLS сертификату и ключу (опционально, оба вместе)
	TLSCert string
	TLSKey  string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера.
	// Должен быть меньше K8s terminationGracePeriodSeconds.
	ShutdownTimeout time.Duration
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя владельца пода для метки name в topologymetrics (DEPHEALTH_NAME)
	DephealthName string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// LD_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("LD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("LD_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("LD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// LD_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("LD_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// LD_MAX_UPLOAD_SIZE — максимальный размер файла (по умолчанию 100 MiB)
	maxUploadSize, err := getEnvInt64("LD_MAX_UPLOAD_SIZE", 104857600)
	if err != nil {
		return nil, fmt.Errorf("LD_MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUploadSize <= 0 {
		return nil, fmt.Errorf("LD_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}
	cfg.MaxUploadSize = maxUploadSize

	// LD_RETENTION_WINDOW — время жизни файла (по умолчанию 24h)
	cfg.RetentionWindow, err = getEnvDuration("LD_RETENTION_WINDOW", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("LD_RETENTION_WINDOW: %w", err)
	}
	if cfg.RetentionWindow <= 0 {
		return nil, fmt.Errorf("LD_RETENTION_WINDOW: значение должно быть положительным")
	}

	// LD_REAPER_INTERVAL — интервал очистки истёкших файлов (по умолчанию 10m)
	cfg.ReaperInterval, err = getEnvDuration("LD_REAPER_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LD_REAPER_INTERVAL: %w", err)
	}
	if cfg.ReaperInterval <= 0 {
		return nil, fmt.Errorf("LD_REAPER_INTERVAL: значение должно быть положительным")
	}

	// LD_REGISTRY_MODE — режим реестра (по умолчанию postgres)
	cfg.RegistryMode = getEnvDefault("LD_REGISTRY_MODE", "postgres")
	if cfg.RegistryMode != "postgres" && cfg.RegistryMode != "memory" {
		return nil, fmt.Errorf("LD_REGISTRY_MODE: недопустимое значение %q, допустимые: postgres, memory", cfg.RegistryMode)
	}

	// Параметры PostgreSQL обязательны только в режиме postgres
	if cfg.RegistryMode == "postgres" {
		cfg.DBHost, err = getEnvRequired("LD_DB_HOST")
		if err != nil {
			return nil, err
		}
		cfg.DBPort, err = getEnvInt("LD_DB_PORT", 5432)
		if err != nil {
			return nil, fmt.Errorf("LD_DB_PORT: %w", err)
		}
		cfg.DBName, err = getEnvRequired("LD_DB_NAME")
		if err != nil {
			return nil, err
		}
		cfg.DBUser, err = getEnvRequired("LD_DB_USER")
		if err != nil {
			return nil, err
		}
		cfg.DBPassword, err = getEnvRequired("LD_DB_PASSWORD")
		if err != nil {
			return nil, err
		}
		cfg.DBSSLMode = getEnvDefault("LD_DB_SSL_MODE", "disable")
	}

	// LD_CACHE_SIZE — размер LRU-кэша записей (по умолчанию 1024)
	cacheSize, err := getEnvInt("LD_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("LD_CACHE_SIZE: %w", err)
	}
	if cacheSize < 0 {
		return nil, fmt.Errorf("LD_CACHE_SIZE: значение должно быть неотрицательным")
	}
	cfg.CacheSize = cacheSize

	// LD_CACHE_TTL — TTL элементов кэша (по умолчанию 1m)
	cfg.CacheTTL, err = getEnvDuration("LD_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("LD_CACHE_TTL: %w", err)
	}

	// LD_TLS_CERT / LD_TLS_KEY — опционально, но только парой
	cfg.TLSCert = getEnvDefault("LD_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("LD_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("LD_TLS_CERT и LD_TLS_KEY должны задаваться вместе")
	}

	// LD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LD_LOG_LEVEL: %w", err)
	}

	// LD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("LD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// LD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("LD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LD_SHUTDOWN_TIMEOUT: %w", err)
	}

	// LD_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("LD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("LD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// LD_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию "linkdrop")
	cfg.DephealthGroup = getEnvDefault("LD_DEPHEALTH_GROUP", "linkdrop")

	// DEPHEALTH_NAME — имя владельца пода для метки name в topologymetrics (без префикса модуля)
	cfg.DephealthName = getEnvDefault("DEPHEALTH_NAME", "")

	return cfg, nil
}

// DatabaseDSN возвращает DSN для подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// TLSEnabled сообщает, настроен ли TLS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 10m, 24h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
