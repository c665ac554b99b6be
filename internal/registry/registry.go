// Пакет registry — реестр ссылок: отображение публичного токена
// на метаданные загруженного файла (model.FileRecord).
//
// Две реализации: PostgreSQL (durable, боевой режим) и in-memory
// (для разработки и тестов). Выбор — через LD_REGISTRY_MODE.
//
// Обе реализации выполняют lazy expiry: Lookup считает запись,
// достигшую дедлайна created_at + retention, несуществующей ещё до
// того, как реапер физически её удалит.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/linkdrop/internal/domain/model"
)

// Ошибки реестра.
var (
	// ErrNotFound — токен неизвестен, либо срок хранения записи истёк.
	// Эти два случая намеренно неразличимы.
	ErrNotFound = errors.New("запись не найдена")
	// ErrDuplicateToken — бюджет повторов генерации токена исчерпан.
	// При 128-битном случайном токене практически недостижима.
	ErrDuplicateToken = errors.New("коллизия токена, бюджет повторов исчерпан")
)

// tokenRetryBudget — количество попыток генерации токена при коллизии.
const tokenRetryBudget = 5

// Registry — контракт реестра ссылок.
type Registry interface {
	// Create генерирует уникальный токен, сохраняет запись и возвращает
	// токен. Поле Token входной записи игнорируется. При коллизии токена
	// генерация повторяется внутри; ErrDuplicateToken возвращается
	// только после исчерпания бюджета повторов.
	Create(ctx context.Context, rec *model.FileRecord) (string, error)

	// Lookup возвращает запись по токену. ErrNotFound — если токен
	// неизвестен, запись удалена или её срок хранения истёк.
	Lookup(ctx context.Context, token string) (*model.FileRecord, error)

	// Delete удаляет запись. Идемпотентна: удаление отсутствующей
	// записи не является ошибкой.
	Delete(ctx context.Context, token string) error

	// ListExpired возвращает все записи, для которых
	// created_at + retention <= now. Используется реапером.
	ListExpired(ctx context.Context, now time.Time) ([]*model.FileRecord, error)

	// HasHandle сообщает, ссылается ли хоть одна запись (включая
	// истёкшие) на указанный handle хранилища. Используется реапером
	// при поиске осиротевших blob'ов.
	HasHandle(ctx context.Context, handle string) (bool, error)
}

// newToken генерирует случайный 128-битный токен (UUID v4).
func newToken() string {
	return uuid.New().String()
}
