package registry

import (
	"context"
	"sync"
	"time"

	"github.com/bigkaa/linkdrop/internal/domain/model"
)

// Memory — потокобезопасный in-memory реестр.
// Использует sync.RWMutex для конкурентного чтения и эксклюзивной записи.
// Не персистентный: применяется в режиме разработки и в тестах.
type Memory struct {
	mu        sync.RWMutex
	records   map[string]*model.FileRecord // token → record
	retention time.Duration
}

// NewMemory создаёт пустой in-memory реестр.
func NewMemory(retention time.Duration) *Memory {
	return &Memory{
		records:   make(map[string]*model.FileRecord),
		retention: retention,
	}
}

// Create генерирует токен, сохраняет копию записи и возвращает токен.
func (m *Memory) Create(_ context.Context, rec *model.FileRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < tokenRetryBudget; attempt++ {
		token := newToken()
		if _, exists := m.records[token]; exists {
			continue
		}

		// Копия, чтобы избежать data race при внешних изменениях
		copied := *rec
		copied.Token = token
		m.records[token] = &copied
		return token, nil
	}

	return "", ErrDuplicateToken
}

// Lookup возвращает копию записи по токену.
// Истёкшие записи считаются несуществующими (lazy expiry).
func (m *Memory) Lookup(_ context.Context, token string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[token]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.IsExpired(time.Now().UTC(), m.retention) {
		return nil, ErrNotFound
	}

	copied := *rec
	return &copied, nil
}

// Delete удаляет запись. Идемпотентна.
func (m *Memory) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, token)
	return nil
}

// ListExpired возвращает копии всех записей с истёкшим сроком хранения.
func (m *Memory) ListExpired(_ context.Context, now time.Time) ([]*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*model.FileRecord
	for _, rec := range m.records {
		if rec.IsExpired(now, m.retention) {
			copied := *rec
			expired = append(expired, &copied)
		}
	}
	return expired, nil
}

// HasHandle проверяет, ссылается ли какая-либо запись на handle.
// Истёкшие записи учитываются: их blob'ы удаляет основной проход реапера,
// а не поиск осиротевших файлов.
func (m *Memory) HasHandle(_ context.Context, handle string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.StorageHandle == handle {
			return true, nil
		}
	}
	return false, nil
}

// Count возвращает количество записей в реестре (включая истёкшие,
// ещё не удалённые реапером). Используется в тестах.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
