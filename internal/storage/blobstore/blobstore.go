// Пакет blobstore — операции с физическими файлами (blob'ами) на диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету и контролем
// максимального размера, чтение для параллельных скачиваний и
// идемпотентное удаление.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки blob-хранилища.
var (
	// ErrNotFound — blob с указанным handle не существует.
	ErrNotFound = errors.New("blob не найден")
	// ErrSizeLimitExceeded — поток данных превысил максимальный размер.
	ErrSizeLimitExceeded = errors.New("превышен максимальный размер файла")
)

// Store — управление blob'ами на диске.
type Store struct {
	// dataDir — корневая директория хранения (LD_DATA_DIR)
	dataDir string
	// maxSize — максимальный размер одного blob'а в байтах
	maxSize int64
}

// WriteResult — результат записи blob'а на диск.
type WriteResult struct {
	// Handle — имя blob'а относительно dataDir
	Handle string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// New создаёт Store. Проверяет и создаёт директорию данных,
// если она не существует.
func New(dataDir string, maxSize int64) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize должен быть положительным, получено %d", maxSize)
	}

	return &Store{dataDir: dataDir, maxSize: maxSize}, nil
}

// Write записывает данные из reader на диск с подсчётом SHA-256 на лету.
// Handle генерируется из UUID и расширения оригинального имени; само имя
// в путь хранения не попадает.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// Handle не существует, пока запись не завершилась полностью: при любой
// ошибке (включая превышение maxSize и обрыв потока клиентом) temp файл
// удаляется и следов не остаётся.
func (s *Store) Write(reader io.Reader, originalName string) (*WriteResult, error) {
	handle := generateHandle(originalName)
	fullPath := filepath.Join(s.dataDir, handle)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256.
	// Читаем на один байт больше лимита: если удалось — поток слишком велик.
	hasher := sha256.New()
	tee := io.TeeReader(io.LimitReader(reader, s.maxSize+1), hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if size > s.maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: получено более %d байт", ErrSizeLimitExceeded, s.maxSize)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &WriteResult{
		Handle:   handle,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает blob для чтения и возвращает *os.File.
// Каждый вызов открывает независимый дескриптор, поэтому параллельные
// скачивания одного blob'а не мешают друг другу, а удаление blob'а не
// обрывает уже начатые чтения (unlink не инвалидирует открытый дескриптор).
// Вызывающий код обязан закрыть файл.
func (s *Store) Open(handle string) (*os.File, error) {
	f, err := os.Open(filepath.Join(s.dataDir, handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return nil, fmt.Errorf("ошибка открытия blob %s: %w", handle, err)
	}
	return f, nil
}

// Delete удаляет blob с диска.
// Идемпотентна: удаление несуществующего blob'а не является ошибкой,
// что позволяет реаперу и компенсирующим удалениям безопасно повторяться.
func (s *Store) Delete(handle string) error {
	err := os.Remove(filepath.Join(s.dataDir, handle))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления blob %s: %w", handle, err)
	}
	return nil
}

// Exists проверяет существование blob'а на диске.
func (s *Store) Exists(handle string) bool {
	_, err := os.Stat(filepath.Join(s.dataDir, handle))
	return err == nil
}

// UsedBytes возвращает суммарный размер blob'ов в директории данных.
// Используется для обновления gauge-метрики занятого места.
func (s *Store) UsedBytes() (int64, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения директории данных: %w", err)
	}

	var total int64
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") ||
			strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// Entry — файл в директории данных: blob либо недописанный временный файл.
type Entry struct {
	// Name — имя файла относительно dataDir (для blob'ов совпадает с handle)
	Name string
	// ModTime — время последней модификации
	ModTime time.Time
	// Temp — файл имеет суффикс .tmp (незавершённая запись)
	Temp bool
}

// List возвращает все файлы директории данных, включая временные.
// Служебные dot-файлы пропускаются. Используется реапером для поиска
// blob'ов, на которые не ссылается ни одна запись реестра.
func (s *Store) List() ([]Entry, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории данных: %w", err)
	}

	result := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result = append(result, Entry{
			Name:    entry.Name(),
			ModTime: info.ModTime(),
			Temp:    strings.HasSuffix(entry.Name(), ".tmp"),
		})
	}
	return result, nil
}

// DataDir возвращает путь к директории данных.
func (s *Store) DataDir() string {
	return s.dataDir
}

// generateHandle генерирует имя blob'а на диске: {uuid}{ext}.
// Оригинальное имя файла в handle не входит — сохраняется только
// расширение (и то после фильтрации небезопасных символов).
func generateHandle(originalName string) string {
	ext := sanitizeExt(filepath.Ext(originalName))
	return uuid.New().String() + ext
}

// sanitizeExt оставляет в расширении только буквы и цифры.
// Слишком длинные и пустые расширения отбрасываются, как и "tmp":
// handle вида {uuid}.tmp был бы неотличим от временного файла записи.
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" || len(ext) > 16 {
		return ""
	}
	var result strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 || strings.EqualFold(result.String(), "tmp") {
		return ""
	}
	return "." + result.String()
}
